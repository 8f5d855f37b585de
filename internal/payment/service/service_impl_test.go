package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	dealrepo "github.com/smallbiznis/dealbridge/internal/deal/repository"
	escrowdomain "github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/events"
	paymentdomain "github.com/smallbiznis/dealbridge/internal/payment/domain"
	"github.com/smallbiznis/dealbridge/internal/payment/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var webhookNow = time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct{}

func (fakeGateway) CreateOrder(ctx context.Context, amount int64, dealRef string, notes map[string]string) (*escrowdomain.Order, error) {
	return nil, escrowdomain.ErrGateway
}

func (fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool { return false }

func (fakeGateway) Capture(ctx context.Context, paymentID string, amount int64) (*escrowdomain.Payment, error) {
	return nil, escrowdomain.ErrGateway
}

func (fakeGateway) Void(ctx context.Context, paymentID string) (*escrowdomain.Refund, error) {
	return nil, escrowdomain.ErrGateway
}

func (fakeGateway) CreatePayout(ctx context.Context, dest escrowdomain.Destination, amount int64, dealRef string) (*escrowdomain.Payout, error) {
	return nil, escrowdomain.ErrGateway
}

func (fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == "whsig-valid"
}

type nopAudit struct{}

func (nopAudit) AuditLog(ctx context.Context, actorType auditdomain.ActorType, actorID, action, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (nopAudit) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return nil, nil
}

type webhookFixture struct {
	db   *gorm.DB
	svc  paymentdomain.Service
	node *snowflake.Node
	repo dealdomain.Repository
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(&dealdomain.Deal{}, &events.DealEvent{}, &paymentdomain.EventRecord{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	repo := dealrepo.Provide()
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.FixedClock{At: webhookNow},
		Cfg: config.Config{
			Windows: config.WindowConfig{Address: 30 * time.Minute},
		},
		Gateway:  fakeGateway{},
		Repo:     repository.Provide(),
		DealRepo: repo,
		Outbox:   events.NewOutbox(db, node),
		AuditSvc: nopAudit{},
	})
	return &webhookFixture{db: db, svc: svc, node: node, repo: repo}
}

func (f *webhookFixture) insertDeal(t *testing.T, mutate func(*dealdomain.Deal)) *dealdomain.Deal {
	t.Helper()
	cardholder := snowflake.ID(202)
	deal := &dealdomain.Deal{
		ID:              f.node.Generate(),
		CreatedAt:       webhookNow.Add(-time.Hour),
		UpdatedAt:       webhookNow.Add(-time.Hour),
		BuyerID:         101,
		CardholderID:    &cardholder,
		Title:           "Sony WH-CH520",
		ProductURL:      "https://store.example.com/p/wh-ch520",
		Price:           4000,
		DiscountPct:     10,
		DiscountedPrice: 3600,
		Status:          dealdomain.StatusAwaitingPayment,
		EscrowStatus:    dealdomain.EscrowNone,
		PaymentStatus:   dealdomain.PaymentPending,
	}
	if mutate != nil {
		mutate(deal)
	}
	if err := f.repo.Insert(context.Background(), f.db, deal); err != nil {
		t.Fatalf("insert deal: %v", err)
	}
	return deal
}

func (f *webhookFixture) reload(t *testing.T, id snowflake.ID) *dealdomain.Deal {
	t.Helper()
	deal, err := f.repo.FindByID(context.Background(), f.db, id)
	if err != nil || deal == nil {
		t.Fatalf("reload deal: %v", err)
	}
	return deal
}

func paymentEventBody(eventType, paymentID, orderID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"x"}}}}`,
		eventType, paymentID, orderID,
	))
}

func payoutEventBody(eventType, payoutID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"payload":{"payout":{"entity":{"id":%q,"status":"x"}}}}`,
		eventType, payoutID,
	))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, "pay_1", "order_1")

	err := f.svc.IngestWebhook(context.Background(), "evt_1", body, "whsig-forged")
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)

	err := f.svc.IngestWebhook(context.Background(), "evt_1", []byte(`{"event":`), "whsig-valid")
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestIngestAuthorizedBackstop(t *testing.T) {
	f := newWebhookFixture(t)
	orderID := "order_77"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.GatewayOrderID = &orderID
	})

	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, "pay_77", orderID)
	if err := f.svc.IngestWebhook(context.Background(), "evt_auth_1", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := f.reload(t, deal.ID)
	if got.Status != dealdomain.StatusPaymentAuthorized {
		t.Fatalf("status = %s, want payment_authorized", got.Status)
	}
	if got.GatewayPaymentID == nil || *got.GatewayPaymentID != "pay_77" {
		t.Fatalf("payment id = %v, want pay_77", got.GatewayPaymentID)
	}
	if got.EscrowStatus != dealdomain.EscrowAuthorized {
		t.Fatalf("escrow = %s, want authorized", got.EscrowStatus)
	}
	if got.AddressDeadline == nil || !got.AddressDeadline.Equal(webhookNow.Add(30*time.Minute)) {
		t.Fatalf("address deadline = %v, want %v", got.AddressDeadline, webhookNow.Add(30*time.Minute))
	}
}

func TestIngestReplayIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	orderID := "order_77"
	f.insertDeal(t, func(d *dealdomain.Deal) {
		d.GatewayOrderID = &orderID
	})

	ctx := context.Background()
	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, "pay_77", orderID)
	for i := 0; i < 3; i++ {
		if err := f.svc.IngestWebhook(ctx, "evt_auth_1", body, "whsig-valid"); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	var count int64
	if err := f.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored event records = %d, want 1", count)
	}
}

func TestIngestAuthorizedAfterClientConfirmIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	orderID := "order_77"
	paymentID := "pay_77"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.Status = dealdomain.StatusAddressShared
		d.GatewayOrderID = &orderID
		d.GatewayPaymentID = &paymentID
		d.EscrowStatus = dealdomain.EscrowAuthorized
		d.PaymentStatus = dealdomain.PaymentAuthorized
	})

	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, paymentID, orderID)
	if err := f.svc.IngestWebhook(context.Background(), "evt_late", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := f.reload(t, deal.ID); got.Status != dealdomain.StatusAddressShared {
		t.Fatalf("status = %s, want address_shared untouched", got.Status)
	}
}

func TestIngestCapturedProjectsPaymentState(t *testing.T) {
	f := newWebhookFixture(t)
	paymentID := "pay_88"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.Status = dealdomain.StatusShipped
		d.GatewayPaymentID = &paymentID
		d.EscrowStatus = dealdomain.EscrowAuthorized
		d.PaymentStatus = dealdomain.PaymentAuthorized
	})

	body := paymentEventBody(paymentdomain.EventPaymentCaptured, paymentID, "")
	if err := f.svc.IngestWebhook(context.Background(), "evt_cap", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := f.reload(t, deal.ID)
	if got.PaymentStatus != dealdomain.PaymentCaptured {
		t.Fatalf("payment status = %s, want captured", got.PaymentStatus)
	}
	if got.EscrowStatus != dealdomain.EscrowCaptured {
		t.Fatalf("escrow = %s, want captured", got.EscrowStatus)
	}
	// The lifecycle position is not the webhook's to move.
	if got.Status != dealdomain.StatusShipped {
		t.Fatalf("status = %s, want shipped", got.Status)
	}
}

func TestIngestFailedRecordsAttempt(t *testing.T) {
	f := newWebhookFixture(t)
	orderID := "order_99"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.GatewayOrderID = &orderID
	})

	body := paymentEventBody(paymentdomain.EventPaymentFailed, "pay_99", orderID)
	if err := f.svc.IngestWebhook(context.Background(), "evt_fail", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := f.reload(t, deal.ID)
	if got.PaymentStatus != dealdomain.PaymentFailed {
		t.Fatalf("payment status = %s, want failed", got.PaymentStatus)
	}
	// The buyer can still retry until the payment deadline sweeps it.
	if got.Status != dealdomain.StatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", got.Status)
	}
}

func TestIngestPayoutProcessedSettles(t *testing.T) {
	f := newWebhookFixture(t)
	payoutID := "pout_5"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.Status = dealdomain.StatusDisbursed
		d.EscrowStatus = dealdomain.EscrowCaptured
		d.PaymentStatus = dealdomain.PaymentCaptured
		d.DisbursementStatus = dealdomain.DisbursementProcessing
		d.PayoutID = &payoutID
		d.PayoutAmount = 3700
	})

	body := payoutEventBody(paymentdomain.EventPayoutProcessed, payoutID)
	if err := f.svc.IngestWebhook(context.Background(), "evt_pp", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := f.reload(t, deal.ID)
	if got.DisbursementStatus != dealdomain.DisbursementCompleted {
		t.Fatalf("disbursement = %s, want completed", got.DisbursementStatus)
	}
	if !got.Settled {
		t.Fatal("deal not marked settled")
	}
}

func TestIngestPayoutReversedParksDisbursement(t *testing.T) {
	f := newWebhookFixture(t)
	payoutID := "pout_6"
	deal := f.insertDeal(t, func(d *dealdomain.Deal) {
		d.Status = dealdomain.StatusDisbursed
		d.DisbursementStatus = dealdomain.DisbursementProcessing
		d.PayoutID = &payoutID
	})

	body := payoutEventBody(paymentdomain.EventPayoutReversed, payoutID)
	if err := f.svc.IngestWebhook(context.Background(), "evt_pr", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got := f.reload(t, deal.ID)
	if got.DisbursementStatus != dealdomain.DisbursementFailed {
		t.Fatalf("disbursement = %s, want failed", got.DisbursementStatus)
	}
}

func TestIngestUnknownEventTypeIgnored(t *testing.T) {
	f := newWebhookFixture(t)

	body := []byte(`{"event":"invoice.paid","payload":{"payment":{"entity":{"id":"pay_x"}}}}`)
	if err := f.svc.IngestWebhook(context.Background(), "evt_inv", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestIngestUnknownOrderIgnored(t *testing.T) {
	f := newWebhookFixture(t)

	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, "pay_x", "order_missing")
	if err := f.svc.IngestWebhook(context.Background(), "evt_miss", body, "whsig-valid"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestIngestMissingEventIDFallsBackToEntity(t *testing.T) {
	f := newWebhookFixture(t)
	orderID := "order_77"
	f.insertDeal(t, func(d *dealdomain.Deal) {
		d.GatewayOrderID = &orderID
	})

	ctx := context.Background()
	body := paymentEventBody(paymentdomain.EventPaymentAuthorized, "pay_77", orderID)
	if err := f.svc.IngestWebhook(ctx, "", body, "whsig-valid"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.IngestWebhook(ctx, "", body, "whsig-valid"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	var count int64
	if err := f.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored event records = %d, want 1", count)
	}
}
