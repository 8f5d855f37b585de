package events

// Deal lifecycle event types.
const (
	EventDealCreated       = "deal.created"
	EventDealStatusChanged = "deal.status_changed"
	EventDealExpired       = "deal.expired"
	EventDealRefunded      = "deal.refunded"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPayoutInitiated   = "payout.initiated"
	EventPayoutSettled     = "payout.settled"
	EventPayoutFailed      = "payout.failed"
)

// StatusChangedPayload captures the minimal data a consumer needs to react
// to a transition.
type StatusChangedPayload struct {
	DealID string `json:"deal_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Actor  string `json:"actor,omitempty"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p StatusChangedPayload) ToMap() map[string]any {
	payload := map[string]any{
		"deal_id": p.DealID,
		"from":    p.From,
		"to":      p.To,
	}
	if p.Actor != "" {
		payload["actor"] = p.Actor
	}
	return payload
}
