package service

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	"github.com/smallbiznis/dealbridge/internal/deal/domain"
	escrowdomain "github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/events"
	"github.com/smallbiznis/dealbridge/internal/notification"
	"github.com/smallbiznis/dealbridge/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
	"github.com/smallbiznis/dealbridge/internal/scrape"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Gateway    escrowdomain.Gateway
	Fetcher    scrape.Fetcher
	PayoutSvc  payoutdomain.Service
	Outbox     *events.Outbox
	Dispatcher notification.Dispatcher
	AuditSvc   auditdomain.Service
}

// Service drives every deal transition. Status checks on loaded snapshots
// are advisory for friendlier errors; the conditional update in the
// repository is what actually decides each transition.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	repo       domain.Repository
	gateway    escrowdomain.Gateway
	fetcher    scrape.Fetcher
	payoutSvc  payoutdomain.Service
	outbox     *events.Outbox
	dispatcher notification.Dispatcher
	auditSvc   auditdomain.Service
	metrics    *metrics.DealMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("deal.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		repo:       p.Repo,
		gateway:    p.Gateway,
		fetcher:    p.Fetcher,
		payoutSvc:  p.PayoutSvc,
		outbox:     p.Outbox,
		dispatcher: p.Dispatcher,
		auditSvc:   p.AuditSvc,
		metrics:    metrics.Deal(),
	}
}

// roundHalfUp converts a derived amount back to whole currency units.
// math.Round rounds halves away from zero, which for the non-negative
// amounts here is half-up.
func roundHalfUp(v float64) int64 {
	return int64(math.Round(v))
}

// toMinorUnits converts a major-unit amount at the gateway boundary.
func toMinorUnits(amount int64) int64 {
	return amount * 100
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Deal, error) {
	if req.BuyerID == 0 {
		return nil, domain.ErrInvalidBuyer
	}
	productURL := strings.TrimSpace(req.ProductURL)
	if parsed, err := url.Parse(productURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, domain.ErrInvalidProductURL
	}
	if req.DiscountPct < 0 || req.DiscountPct >= 100 {
		return nil, domain.ErrInvalidDiscount
	}

	product, err := s.fetcher.Fetch(ctx, productURL)
	if err != nil {
		return nil, err
	}

	var bankOffers datatypes.JSON
	if len(product.BankOffers) > 0 {
		raw, err := json.Marshal(product.BankOffers)
		if err != nil {
			return nil, err
		}
		bankOffers = datatypes.JSON(raw)
	}

	now := s.clock.Now()
	acceptDeadline := now.Add(s.cfg.Windows.Accept)
	deal := &domain.Deal{
		ID:              s.genID.Generate(),
		CreatedAt:       now,
		UpdatedAt:       now,
		BuyerID:         req.BuyerID,
		Title:           product.Title,
		ImageURL:        product.ImageURL,
		ProductURL:      productURL,
		Price:           product.Price,
		BankOffers:      bankOffers,
		DiscountPct:     req.DiscountPct,
		DiscountedPrice: roundHalfUp(float64(product.Price) * (1 - req.DiscountPct/100)),
		Status:          domain.StatusPending,
		EscrowStatus:    domain.EscrowNone,
		PaymentStatus:   domain.PaymentPending,
		AcceptDeadline:  &acceptDeadline,
	}
	if err := s.repo.Insert(ctx, s.db, deal); err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(domain.StatusPending))
	s.publish(ctx, deal.ID, events.EventDealCreated, map[string]any{
		"deal_id":  deal.ID.String(),
		"buyer_id": deal.BuyerID.String(),
		"title":    deal.Title,
		"fallback": product.Fallback,
	}, deal.ID.String()+":"+events.EventDealCreated)
	s.audit(ctx, auditdomain.ActorTypeBuyer, req.BuyerID.String(), "deal.created", deal.ID, map[string]any{
		"product_url":  deal.ProductURL,
		"price":        deal.Price,
		"discount_pct": deal.DiscountPct,
	})
	return deal, nil
}

func (s *Service) Accept(ctx context.Context, dealID, cardholderID snowflake.ID) (*domain.Deal, error) {
	if cardholderID == 0 {
		return nil, domain.ErrInvalidCardholder
	}
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.BuyerID == cardholderID {
		return nil, domain.ErrOwnDeal
	}

	now := s.clock.Now()
	won, err := s.repo.AcceptIfPending(ctx, s.db, dealID, cardholderID, now.Add(s.cfg.Windows.Payment), now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, dealID, domain.StatusPending, domain.StatusMatched, "cardholder")
	s.audit(ctx, auditdomain.ActorTypeCardholder, cardholderID.String(), "deal.accepted", dealID, nil)
	return s.load(ctx, dealID)
}

func (s *Service) CreateOrder(ctx context.Context, dealID, buyerID snowflake.ID) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.BuyerID != buyerID {
		return nil, domain.ErrNotDealBuyer
	}
	if deal.Status != domain.StatusMatched {
		return nil, domain.ErrStateConflict
	}

	commission := roundHalfUp(float64(deal.Price) * s.cfg.CommissionRate)
	total := deal.Price + commission

	order, err := s.gateway.CreateOrder(ctx, toMinorUnits(total), deal.ID.String(), map[string]string{
		"deal_id": deal.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusMatched, map[string]any{
		"status":            domain.StatusAwaitingPayment,
		"gateway_order_id":  order.ID,
		"commission_amount": commission,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		s.log.Warn("gateway order orphaned by concurrent transition",
			zap.String("deal_id", dealID.String()),
			zap.String("order_id", order.ID))
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, dealID, domain.StatusMatched, domain.StatusAwaitingPayment, "buyer")
	s.audit(ctx, auditdomain.ActorTypeBuyer, buyerID.String(), "deal.order_created", dealID, map[string]any{
		"gateway_order_id": order.ID,
		"amount":           total,
	})
	return s.load(ctx, dealID)
}

func (s *Service) AuthorizePayment(ctx context.Context, dealID snowflake.ID, paymentID, signature string) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != domain.StatusAwaitingPayment || deal.GatewayOrderID == nil {
		return nil, domain.ErrStateConflict
	}
	if !s.gateway.VerifyPaymentSignature(*deal.GatewayOrderID, paymentID, signature) {
		return nil, escrowdomain.ErrSignature
	}

	addressDeadline := s.clock.Now().Add(s.cfg.Windows.Address)
	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusAwaitingPayment, map[string]any{
		"status":             domain.StatusPaymentAuthorized,
		"gateway_payment_id": paymentID,
		"payment_status":     domain.PaymentAuthorized,
		"escrow_status":      domain.EscrowAuthorized,
		"address_deadline":   addressDeadline,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, dealID, domain.StatusAwaitingPayment, domain.StatusPaymentAuthorized, "buyer")
	s.audit(ctx, auditdomain.ActorTypeBuyer, deal.BuyerID.String(), "deal.payment_authorized", dealID, map[string]any{
		"gateway_payment_id": paymentID,
	})
	return s.load(ctx, dealID)
}

func validAddress(addr domain.ShippingDetails) bool {
	for _, field := range []string{addr.Name, addr.Phone, addr.AddressLine1, addr.City, addr.State} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	pincode := strings.TrimSpace(addr.Pincode)
	if len(pincode) != 6 {
		return false
	}
	for _, r := range pincode {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Service) ShareAddress(ctx context.Context, req domain.ShareAddressRequest) (*domain.Deal, error) {
	if !validAddress(req.Address) {
		return nil, domain.ErrInvalidAddress
	}
	deal, err := s.load(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	if deal.BuyerID != req.BuyerID {
		return nil, domain.ErrNotDealBuyer
	}
	if deal.Status != domain.StatusPaymentAuthorized {
		return nil, domain.ErrStateConflict
	}

	raw, err := json.Marshal(req.Address)
	if err != nil {
		return nil, err
	}
	orderDeadline := s.clock.Now().Add(s.cfg.Windows.Order)
	won, err := s.repo.UpdateWhereStatus(ctx, s.db, req.DealID, domain.StatusPaymentAuthorized, map[string]any{
		"status":           domain.StatusAddressShared,
		"shipping_details": datatypes.JSON(raw),
		"order_deadline":   orderDeadline,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, req.DealID, domain.StatusPaymentAuthorized, domain.StatusAddressShared, "buyer")
	s.audit(ctx, auditdomain.ActorTypeBuyer, req.BuyerID.String(), "deal.address_shared", req.DealID, nil)
	return s.load(ctx, req.DealID)
}

func (s *Service) SubmitOrder(ctx context.Context, req domain.SubmitOrderRequest) (*domain.Deal, error) {
	externalOrderID := strings.TrimSpace(req.ExternalOrderID)
	if externalOrderID == "" {
		return nil, domain.ErrInvalidOrderRef
	}
	deal, err := s.load(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	if deal.CardholderID == nil || *deal.CardholderID != req.CardholderID {
		return nil, domain.ErrNotDealCardholder
	}
	if deal.Status != domain.StatusAddressShared {
		return nil, domain.ErrStateConflict
	}

	updates := map[string]any{
		"status":            domain.StatusOrderPlaced,
		"external_order_id": externalOrderID,
		"order_placed_at":   s.clock.Now(),
	}
	if ref := strings.TrimSpace(req.InvoiceRef); ref != "" {
		updates["invoice_ref"] = ref
	}
	if ref := strings.TrimSpace(req.TrackingRef); ref != "" {
		updates["tracking_ref"] = ref
	}
	won, err := s.repo.UpdateWhereStatus(ctx, s.db, req.DealID, domain.StatusAddressShared, updates)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, req.DealID, domain.StatusAddressShared, domain.StatusOrderPlaced, "cardholder")
	s.audit(ctx, auditdomain.ActorTypeCardholder, req.CardholderID.String(), "deal.order_submitted", req.DealID, map[string]any{
		"external_order_id": externalOrderID,
	})
	return s.load(ctx, req.DealID)
}

func (s *Service) MarkShipped(ctx context.Context, dealID snowflake.ID, trackingRef string) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != domain.StatusOrderPlaced {
		return nil, domain.ErrStateConflict
	}

	updates := map[string]any{
		"status":     domain.StatusShipped,
		"shipped_at": s.clock.Now(),
	}
	if ref := strings.TrimSpace(trackingRef); ref != "" {
		updates["tracking_ref"] = ref
	}
	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusOrderPlaced, updates)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, dealID, domain.StatusOrderPlaced, domain.StatusShipped, "system")
	s.audit(ctx, auditdomain.ActorTypeSystem, "", "deal.shipped", dealID, nil)
	return s.load(ctx, dealID)
}

// CaptureAndDisburse settles a shipped deal. Capture failure leaves the deal
// in shipped and surfaces the error. Once capture lands, payout failure is
// absorbed into disbursement_status=failed; the deal keeps the captured
// funds and an operator retries the payout.
func (s *Service) CaptureAndDisburse(ctx context.Context, dealID snowflake.ID) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}

	switch deal.Status {
	case domain.StatusShipped:
		if deal.EscrowStatus == domain.EscrowCaptured {
			return nil, domain.ErrStateConflict
		}
		if deal.GatewayPaymentID == nil {
			return nil, domain.ErrStateConflict
		}

		total := deal.Price + deal.CommissionAmount
		if _, err := s.gateway.Capture(ctx, *deal.GatewayPaymentID, toMinorUnits(total)); err != nil {
			return nil, err
		}

		won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusShipped, map[string]any{
			"status":         domain.StatusPaymentCaptured,
			"escrow_status":  domain.EscrowCaptured,
			"payment_status": domain.PaymentCaptured,
		})
		if err != nil {
			return nil, err
		}
		if !won {
			s.log.Error("capture landed but deal moved concurrently", zap.String("deal_id", dealID.String()))
			return nil, domain.ErrStateConflict
		}
		s.transitioned(ctx, dealID, domain.StatusShipped, domain.StatusPaymentCaptured, "system")
		s.audit(ctx, auditdomain.ActorTypeSystem, "", "deal.payment_captured", dealID, map[string]any{
			"amount": total,
		})
	case domain.StatusPaymentCaptured:
		// Retry after an earlier run failed between capture and payout.
	default:
		return nil, domain.ErrStateConflict
	}

	if err := s.disburse(ctx, dealID); err != nil {
		return nil, err
	}
	return s.load(ctx, dealID)
}

// disburse performs the payout sub-step. The claim update wins at most once
// per deal; losing the claim means a payout was already attempted and this
// call has nothing left to do.
func (s *Service) disburse(ctx context.Context, dealID snowflake.ID) error {
	now := s.clock.Now()
	claimed, err := s.repo.ClaimPayout(ctx, s.db, dealID, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	deal, err := s.load(ctx, dealID)
	if err != nil {
		return err
	}
	cardholderID := deal.CardholderID
	if cardholderID == nil {
		return s.failDisbursement(ctx, dealID, "missing_cardholder")
	}

	method, err := s.payoutSvc.Get(ctx, *cardholderID)
	if err != nil {
		s.log.Warn("payout profile unavailable",
			zap.String("deal_id", dealID.String()),
			zap.Error(err))
		return s.failDisbursement(ctx, dealID, "missing_payout_profile")
	}

	// The cardholder fronted the discounted price on their own card and
	// earns the commission on top.
	amount := deal.DiscountedPrice + deal.CommissionAmount
	payout, err := s.gateway.CreatePayout(ctx, destinationFor(*method), toMinorUnits(amount), deal.ID.String())
	if err != nil {
		s.log.Warn("payout failed",
			zap.String("deal_id", dealID.String()),
			zap.Error(err))
		return s.failDisbursement(ctx, dealID, "gateway_payout_failed")
	}

	disbursedAt := s.clock.Now()
	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusPaymentCaptured, map[string]any{
		"status":              domain.StatusDisbursed,
		"disbursement_status": domain.DisbursementProcessing,
		"payout_id":           payout.ID,
		"payout_amount":       amount,
		"disbursed_at":        disbursedAt,
		"settled":             true,
	})
	if err != nil {
		return err
	}
	if !won {
		s.log.Error("payout created but deal moved concurrently",
			zap.String("deal_id", dealID.String()),
			zap.String("payout_id", payout.ID))
		return nil
	}

	s.metrics.ObservePayoutAttempt("initiated")
	s.transitioned(ctx, dealID, domain.StatusPaymentCaptured, domain.StatusDisbursed, "system")
	s.publish(ctx, dealID, events.EventPayoutInitiated, map[string]any{
		"deal_id":   dealID.String(),
		"payout_id": payout.ID,
		"amount":    amount,
	}, dealID.String()+":"+events.EventPayoutInitiated)
	s.audit(ctx, auditdomain.ActorTypeSystem, "", "deal.payout_initiated", dealID, map[string]any{
		"payout_id": payout.ID,
		"amount":    amount,
	})
	return nil
}

func (s *Service) failDisbursement(ctx context.Context, dealID snowflake.ID, reason string) error {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET disbursement_status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.DisbursementFailed,
		s.clock.Now(),
		dealID,
		domain.StatusPaymentCaptured,
	).Error
	if err != nil {
		return err
	}
	s.metrics.ObservePayoutAttempt("failed")
	s.publish(ctx, dealID, events.EventPayoutFailed, map[string]any{
		"deal_id": dealID.String(),
		"reason":  reason,
	}, "")
	s.audit(ctx, auditdomain.ActorTypeSystem, "", "deal.payout_failed", dealID, map[string]any{
		"reason": reason,
	})
	return nil
}

func destinationFor(method payoutdomain.Method) escrowdomain.Destination {
	dest := escrowdomain.Destination{HolderName: method.HolderName}
	switch method.Kind {
	case payoutdomain.KindUPI:
		dest.Kind = escrowdomain.DestinationUPI
		dest.VPA = method.UPI.VPA
	case payoutdomain.KindBankAccount:
		dest.Kind = escrowdomain.DestinationBankAccount
		dest.AccountNumber = method.BankAccount.AccountNumber
		dest.IFSC = method.BankAccount.IFSC
	}
	return dest
}

// RetryPayout re-arms the one-shot payout guard after a confirmed failure
// and runs the payout sub-step again. Operator-triggered.
func (s *Service) RetryPayout(ctx context.Context, dealID snowflake.ID) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != domain.StatusPaymentCaptured || deal.DisbursementStatus != domain.DisbursementFailed {
		return nil, domain.ErrStateConflict
	}

	rearmed, err := s.repo.RearmPayout(ctx, s.db, dealID)
	if err != nil {
		return nil, err
	}
	if !rearmed {
		return nil, domain.ErrStateConflict
	}
	s.audit(ctx, auditdomain.ActorTypeAdmin, "", "deal.payout_retried", dealID, nil)

	if err := s.disburse(ctx, dealID); err != nil {
		return nil, err
	}
	return s.load(ctx, dealID)
}

func (s *Service) MarkReceived(ctx context.Context, dealID, buyerID snowflake.ID) (*domain.Deal, error) {
	deal, err := s.load(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.BuyerID != buyerID {
		return nil, domain.ErrNotDealBuyer
	}
	if deal.Status != domain.StatusDisbursed {
		return nil, domain.ErrStateConflict
	}

	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, domain.StatusDisbursed, map[string]any{
		"status": domain.StatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	s.transitioned(ctx, dealID, domain.StatusDisbursed, domain.StatusCompleted, "buyer")
	s.audit(ctx, auditdomain.ActorTypeBuyer, buyerID.String(), "deal.completed", dealID, nil)
	return s.load(ctx, dealID)
}

// cancellableBy maps each actor to the states it may cancel from. Buyers
// and cardholders lose the right to cancel once the cardholder has spent
// money on the origin site; from order_placed on, only the system (stale
// order sweep, operator action) cancels.
func cancellableBy(actor domain.CancelledBy, status domain.Status) bool {
	switch actor {
	case domain.CancelledBySystem:
		return !status.Terminal()
	case domain.CancelledByBuyer:
		switch status {
		case domain.StatusPending, domain.StatusMatched, domain.StatusAwaitingPayment,
			domain.StatusPaymentAuthorized, domain.StatusAddressShared:
			return true
		}
	case domain.CancelledByCardholder:
		switch status {
		case domain.StatusMatched, domain.StatusAwaitingPayment,
			domain.StatusPaymentAuthorized, domain.StatusAddressShared:
			return true
		}
	}
	return false
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.Deal, error) {
	switch req.Actor {
	case domain.CancelledByBuyer, domain.CancelledByCardholder, domain.CancelledBySystem:
	default:
		return nil, domain.ErrInvalidActor
	}

	deal, err := s.load(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	switch req.Actor {
	case domain.CancelledByBuyer:
		if deal.BuyerID != req.ActorID {
			return nil, domain.ErrNotDealBuyer
		}
	case domain.CancelledByCardholder:
		if deal.CardholderID == nil || *deal.CardholderID != req.ActorID {
			return nil, domain.ErrNotDealCardholder
		}
	}
	if !cancellableBy(req.Actor, deal.Status) {
		return nil, domain.ErrStateConflict
	}

	won, err := s.terminate(ctx, deal.ID, deal.Status, deal.EscrowStatus, deal.GatewayPaymentID, req.Actor, req.Reason, string(req.Actor))
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrStateConflict
	}

	actorType := auditdomain.ActorTypeSystem
	actorID := ""
	switch req.Actor {
	case domain.CancelledByBuyer:
		actorType = auditdomain.ActorTypeBuyer
		actorID = req.ActorID.String()
	case domain.CancelledByCardholder:
		actorType = auditdomain.ActorTypeCardholder
		actorID = req.ActorID.String()
	}
	s.audit(ctx, actorType, actorID, "deal.cancelled", req.DealID, map[string]any{
		"reason": req.Reason,
	})
	return s.load(ctx, req.DealID)
}

// Expire forces the time-based transition out of a waiting state. Returns
// false without error when the deal already moved on; a sweep racing a user
// action, or a second sweep racing the first, is not an error.
func (s *Service) Expire(ctx context.Context, dealID snowflake.ID, from domain.Status) (bool, error) {
	deal, err := s.repo.FindByID(ctx, s.db, dealID)
	if err != nil {
		return false, err
	}
	if deal == nil || deal.Status != from {
		return false, nil
	}

	won, err := s.terminate(ctx, dealID, from, deal.EscrowStatus, deal.GatewayPaymentID, domain.CancelledBySystem, "deadline_expired", "system")
	if err != nil {
		return false, err
	}
	return won, nil
}

// terminate moves a non-terminal deal to its terminal state: refunded when
// the buyer's money is held at the gateway, expired otherwise. The status
// flip happens first; the gateway void after it is best-effort because an
// authorization hold the processor auto-releases on its own schedule.
func (s *Service) terminate(
	ctx context.Context,
	dealID snowflake.ID,
	from domain.Status,
	escrowStatus domain.EscrowStatus,
	gatewayPaymentID *string,
	actor domain.CancelledBy,
	reason string,
	actorLabel string,
) (bool, error) {
	now := s.clock.Now()
	funded := (escrowStatus == domain.EscrowAuthorized || escrowStatus == domain.EscrowCaptured) && gatewayPaymentID != nil

	target := domain.StatusExpired
	updates := map[string]any{
		"cancelled_by":  actor,
		"cancelled_at":  now,
		"cancel_reason": reason,
	}
	if funded {
		target = domain.StatusRefunded
		updates["escrow_status"] = domain.EscrowRefunded
		updates["payment_status"] = domain.PaymentRefunded
	}
	updates["status"] = target

	won, err := s.repo.UpdateWhereStatus(ctx, s.db, dealID, from, updates)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if funded {
		if _, err := s.gateway.Void(ctx, *gatewayPaymentID); err != nil {
			s.log.Error("void failed after refund transition; relying on gateway auto-release",
				zap.String("deal_id", dealID.String()),
				zap.Error(err))
		}
	}

	s.transitioned(ctx, dealID, from, target, actorLabel)
	eventType := events.EventDealExpired
	if target == domain.StatusRefunded {
		eventType = events.EventDealRefunded
	}
	s.publish(ctx, dealID, eventType, map[string]any{
		"deal_id": dealID.String(),
		"from":    string(from),
		"reason":  reason,
	}, dealID.String()+":"+eventType)
	return true, nil
}

func (s *Service) Get(ctx context.Context, dealID snowflake.ID) (*domain.Deal, error) {
	return s.load(ctx, dealID)
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Deal, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) load(ctx context.Context, dealID snowflake.ID) (*domain.Deal, error) {
	deal, err := s.repo.FindByID(ctx, s.db, dealID)
	if err != nil {
		return nil, err
	}
	if deal == nil {
		return nil, domain.ErrNotFound
	}
	return deal, nil
}

// transitioned records the bookkeeping every successful transition shares.
func (s *Service) transitioned(ctx context.Context, dealID snowflake.ID, from, to domain.Status, actor string) {
	s.metrics.ObserveTransition(string(to))
	payload := events.StatusChangedPayload{
		DealID: dealID.String(),
		From:   string(from),
		To:     string(to),
		Actor:  actor,
	}
	s.publish(ctx, dealID, events.EventDealStatusChanged, payload.ToMap(),
		dealID.String()+":"+events.EventDealStatusChanged+":"+string(to))
}

func (s *Service) publish(ctx context.Context, dealID snowflake.ID, eventType string, payload map[string]any, dedupeKey string) {
	err := s.outbox.Publish(ctx, events.Event{
		DealID:    dealID,
		Type:      eventType,
		Payload:   payload,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		s.log.Warn("outbox publish failed", zap.Error(err))
	}
	s.dispatcher.Notify(eventType, payload)
}

func (s *Service) audit(ctx context.Context, actorType auditdomain.ActorType, actorID, action string, dealID snowflake.ID, metadata map[string]any) {
	targetID := dealID.String()
	if err := s.auditSvc.AuditLog(ctx, actorType, actorID, action, "deal", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.Error(err))
	}
}
