package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	escrowdomain "github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/events"
	"github.com/smallbiznis/dealbridge/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/dealbridge/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Gateway  escrowdomain.Gateway
	Repo     paymentdomain.Repository
	DealRepo dealdomain.Repository
	Outbox   *events.Outbox
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	gateway  escrowdomain.Gateway
	repo     paymentdomain.Repository
	dealRepo dealdomain.Repository
	outbox   *events.Outbox
	auditSvc auditdomain.Service
	metrics  *metrics.DealMetrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		gateway:  p.Gateway,
		repo:     p.Repo,
		dealRepo: p.DealRepo,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
		metrics:  metrics.Deal(),
	}
}

// webhookEnvelope is the gateway's delivery shape. Only the entities the
// reconciler cares about are decoded; the raw payload is stored verbatim.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Status           string `json:"status"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Payout struct {
			Entity struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

func (s *Service) IngestWebhook(ctx context.Context, eventID string, payload []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		s.metrics.ObserveWebhookEvent("unknown", "rejected")
		return paymentdomain.ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	event, err := parseEnvelope(eventID, payload)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.metrics.ObserveWebhookEvent(event.Type, "duplicate")
			return nil
		}
	}

	if err := s.processEvent(ctx, event); err != nil {
		s.metrics.ObserveWebhookEvent(event.Type, "error")
		return err
	}
	s.metrics.ObserveWebhookEvent(event.Type, "processed")

	return s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now())
}

func parseEnvelope(eventID string, payload []byte) (*paymentdomain.ParsedEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	event := &paymentdomain.ParsedEvent{
		Type:        strings.TrimSpace(envelope.Event),
		PaymentID:   envelope.Payload.Payment.Entity.ID,
		OrderID:     envelope.Payload.Payment.Entity.OrderID,
		ErrorReason: envelope.Payload.Payment.Entity.ErrorDescription,
		PayoutID:    envelope.Payload.Payout.Entity.ID,
	}
	if event.Type == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	event.ProviderEventID = strings.TrimSpace(eventID)
	if event.ProviderEventID == "" {
		// Older deliveries omit the event id header. Entity id plus type
		// is stable across redeliveries of the same event.
		entity := event.PaymentID
		if entity == "" {
			entity = event.PayoutID
		}
		if entity == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		event.ProviderEventID = event.Type + ":" + entity
	}
	return event, nil
}

func (s *Service) processEvent(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	switch event.Type {
	case paymentdomain.EventPaymentAuthorized:
		return s.reconcileAuthorized(ctx, event)
	case paymentdomain.EventPaymentCaptured:
		return s.reconcileCaptured(ctx, event)
	case paymentdomain.EventPaymentFailed:
		return s.reconcileFailed(ctx, event)
	case paymentdomain.EventPayoutProcessed:
		return s.reconcilePayoutProcessed(ctx, event)
	case paymentdomain.EventPayoutFailed, paymentdomain.EventPayoutReversed:
		return s.reconcilePayoutFailed(ctx, event)
	default:
		s.log.Debug("ignoring webhook event", zap.String("event_type", event.Type))
		return nil
	}
}

// reconcileAuthorized is the backstop for a buyer whose client died between
// authorizing at the gateway and confirming to us. The client confirmation
// path applies the same transition; whichever lands first wins and the other
// becomes a no-op.
func (s *Service) reconcileAuthorized(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	if event.OrderID == "" || event.PaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	deal, err := s.dealRepo.FindByGatewayOrderID(ctx, s.db, event.OrderID)
	if err != nil {
		return err
	}
	if deal == nil {
		s.log.Warn("webhook references unknown order", zap.String("order_id", event.OrderID))
		return nil
	}

	now := s.clock.Now()
	addressDeadline := now.Add(s.cfg.Windows.Address)
	won, err := s.dealRepo.UpdateWhereStatus(ctx, s.db, deal.ID, dealdomain.StatusAwaitingPayment, map[string]any{
		"status":             dealdomain.StatusPaymentAuthorized,
		"gateway_payment_id": event.PaymentID,
		"payment_status":     dealdomain.PaymentAuthorized,
		"escrow_status":      dealdomain.EscrowAuthorized,
		"address_deadline":   addressDeadline,
	})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	s.metrics.ObserveTransition(string(dealdomain.StatusPaymentAuthorized))
	s.publishStatusChanged(ctx, deal.ID, dealdomain.StatusAwaitingPayment, dealdomain.StatusPaymentAuthorized)
	s.audit(ctx, "deal.payment_authorized", deal.ID, map[string]any{
		"gateway_payment_id": event.PaymentID,
		"source":             "webhook",
	})
	return nil
}

func (s *Service) reconcileCaptured(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	if event.PaymentID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	result := s.db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET payment_status = ?, escrow_status = ?, updated_at = ?
		 WHERE gateway_payment_id = ? AND payment_status = ?`,
		dealdomain.PaymentCaptured,
		dealdomain.EscrowCaptured,
		s.clock.Now(),
		event.PaymentID,
		dealdomain.PaymentAuthorized,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("capture confirmed by webhook", zap.String("payment_id", event.PaymentID))
	}
	return nil
}

// reconcileFailed records a failed authorization attempt. The deal keeps
// waiting; the buyer can retry until the payment deadline expires it.
func (s *Service) reconcileFailed(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	if event.OrderID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	deal, err := s.dealRepo.FindByGatewayOrderID(ctx, s.db, event.OrderID)
	if err != nil {
		return err
	}
	if deal == nil {
		s.log.Warn("webhook references unknown order", zap.String("order_id", event.OrderID))
		return nil
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND payment_status = ?`,
		dealdomain.PaymentFailed,
		s.clock.Now(),
		deal.ID,
		dealdomain.StatusAwaitingPayment,
		dealdomain.PaymentPending,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.audit(ctx, "deal.payment_failed", deal.ID, map[string]any{
			"reason": event.ErrorReason,
		})
	}
	return nil
}

func (s *Service) reconcilePayoutProcessed(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	if event.PayoutID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	deal, err := s.dealRepo.FindByPayoutID(ctx, s.db, event.PayoutID)
	if err != nil {
		return err
	}
	if deal == nil {
		s.log.Warn("webhook references unknown payout", zap.String("payout_id", event.PayoutID))
		return nil
	}

	now := s.clock.Now()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET disbursement_status = ?, settled = TRUE, disbursed_at = ?, updated_at = ?
		 WHERE id = ? AND payout_id = ? AND disbursement_status = ?`,
		dealdomain.DisbursementCompleted,
		now,
		now,
		deal.ID,
		event.PayoutID,
		dealdomain.DisbursementProcessing,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	s.metrics.ObservePayoutAttempt("settled")
	if err := s.outbox.Publish(ctx, events.Event{
		DealID:    deal.ID,
		Type:      events.EventPayoutSettled,
		Payload:   map[string]any{"deal_id": deal.ID.String(), "payout_id": event.PayoutID},
		DedupeKey: deal.ID.String() + ":" + events.EventPayoutSettled,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	s.audit(ctx, "deal.payout_settled", deal.ID, map[string]any{"payout_id": event.PayoutID})
	return nil
}

// reconcilePayoutFailed parks the disbursement in failed so an operator can
// re-run it. Buyer funds are already captured; the deal itself stays where
// it is.
func (s *Service) reconcilePayoutFailed(ctx context.Context, event *paymentdomain.ParsedEvent) error {
	if event.PayoutID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	deal, err := s.dealRepo.FindByPayoutID(ctx, s.db, event.PayoutID)
	if err != nil {
		return err
	}
	if deal == nil {
		s.log.Warn("webhook references unknown payout", zap.String("payout_id", event.PayoutID))
		return nil
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET disbursement_status = ?, updated_at = ?
		 WHERE id = ? AND payout_id = ? AND disbursement_status = ?`,
		dealdomain.DisbursementFailed,
		s.clock.Now(),
		deal.ID,
		event.PayoutID,
		dealdomain.DisbursementProcessing,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	s.metrics.ObservePayoutAttempt("failed")
	if err := s.outbox.Publish(ctx, events.Event{
		DealID:    deal.ID,
		Type:      events.EventPayoutFailed,
		Payload:   map[string]any{"deal_id": deal.ID.String(), "payout_id": event.PayoutID, "event_type": event.Type},
		DedupeKey: deal.ID.String() + ":" + events.EventPayoutFailed + ":" + event.ProviderEventID,
	}); err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	s.audit(ctx, "deal.payout_failed", deal.ID, map[string]any{
		"payout_id":  event.PayoutID,
		"event_type": event.Type,
	})
	return nil
}

func (s *Service) publishStatusChanged(ctx context.Context, dealID snowflake.ID, from, to dealdomain.Status) {
	payload := events.StatusChangedPayload{
		DealID: dealID.String(),
		From:   string(from),
		To:     string(to),
		Actor:  "gateway",
	}
	err := s.outbox.Publish(ctx, events.Event{
		DealID:    dealID,
		Type:      events.EventDealStatusChanged,
		Payload:   payload.ToMap(),
		DedupeKey: dealID.String() + ":" + events.EventDealStatusChanged + ":" + string(to),
	})
	if err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, action string, dealID snowflake.ID, metadata map[string]any) {
	targetID := dealID.String()
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeGateway, "", action, "deal", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.Error(err))
	}
}
