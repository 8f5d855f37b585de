package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Gateway webhook event types the reconciler acts on. Anything else is
// recorded and ignored.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPayoutProcessed   = "payout.processed"
	EventPayoutFailed      = "payout.failed"
	EventPayoutReversed    = "payout.reversed"
)

// EventRecord is a received gateway webhook, stored before processing so a
// redelivery of the same provider event id is a no-op.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex"`
	EventType       string         `gorm:"type:text;not null;index"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     ``
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }

// ParsedEvent is the envelope content the reconciler needs: which entity the
// event is about and what the gateway says happened to it.
type ParsedEvent struct {
	ProviderEventID string
	Type            string

	PaymentID   string
	OrderID     string
	ErrorReason string

	PayoutID string
}
