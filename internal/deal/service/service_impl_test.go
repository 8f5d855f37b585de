package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dealbridge/internal/audit/domain"
	auditrepo "github.com/smallbiznis/dealbridge/internal/audit/repository"
	auditservice "github.com/smallbiznis/dealbridge/internal/audit/service"
	"github.com/smallbiznis/dealbridge/internal/clock"
	"github.com/smallbiznis/dealbridge/internal/config"
	"github.com/smallbiznis/dealbridge/internal/deal/domain"
	"github.com/smallbiznis/dealbridge/internal/deal/repository"
	escrowdomain "github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/events"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
	payoutrepo "github.com/smallbiznis/dealbridge/internal/payout/repository"
	payoutservice "github.com/smallbiznis/dealbridge/internal/payout/service"
	"github.com/smallbiznis/dealbridge/internal/scrape"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testBuyer      = snowflake.ID(1111)
	testCardholder = snowflake.ID(2222)
)

var testNow = time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu sync.Mutex

	orderErr   error
	captureErr error
	payoutErr  error

	orders   int
	captures int
	voids    int
	payouts  int

	lastOrderAmount   int64
	lastCaptureAmount int64
	lastPayoutAmount  int64
	lastPayoutDest    escrowdomain.Destination
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, dealRef string, notes map[string]string) (*escrowdomain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.orders++
	g.lastOrderAmount = amount
	return &escrowdomain.Order{ID: fmt.Sprintf("order_%d", g.orders), Amount: amount, Currency: "INR", Receipt: dealRef}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return signature == "sig-valid"
}

func (g *fakeGateway) Capture(ctx context.Context, paymentID string, amount int64) (*escrowdomain.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	g.captures++
	g.lastCaptureAmount = amount
	return &escrowdomain.Payment{ID: paymentID, Status: "captured", Amount: amount}, nil
}

func (g *fakeGateway) Void(ctx context.Context, paymentID string) (*escrowdomain.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voids++
	return &escrowdomain.Refund{ID: "rfnd_" + paymentID, Status: "pending", WillAutoRefund: true}, nil
}

func (g *fakeGateway) CreatePayout(ctx context.Context, dest escrowdomain.Destination, amount int64, dealRef string) (*escrowdomain.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	g.payouts++
	g.lastPayoutAmount = amount
	g.lastPayoutDest = dest
	return &escrowdomain.Payout{ID: fmt.Sprintf("pout_%d", g.payouts), Status: "processing", Amount: amount}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == "whsig-valid"
}

func (g *fakeGateway) payoutCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.payouts
}

type staticFetcher struct {
	price    int64
	fallback bool
	err      error
}

func (f *staticFetcher) Fetch(ctx context.Context, url string) (*scrape.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.fallback {
		return scrape.FallbackProduct(url), nil
	}
	return &scrape.Product{Title: "Noise ColorFit Pro 5", URL: url, Price: f.price}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Notify(string, map[string]any) {}

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	gateway *fakeGateway
	fetcher *staticFetcher
	node    *snowflake.Node
}

func setupTestDB(t *testing.T) *gorm.DB {
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
	err = db.AutoMigrate(&domain.Deal{}, &events.DealEvent{}, &auditdomain.AuditLog{}, &payoutdomain.Profile{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	log := zap.NewNop()

	payoutSvc := payoutservice.NewService(payoutservice.Params{DB: db, Log: log, Repo: payoutrepo.Provide()})
	_, err = payoutSvc.Save(context.Background(), testCardholder, payoutdomain.Method{
		Kind:       payoutdomain.KindUPI,
		HolderName: "Rahul Verma",
		UPI:        &payoutdomain.UPI{VPA: "rahul@okicici"},
	})
	if err != nil {
		t.Fatalf("seed payout method: %v", err)
	}

	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide()})

	gw := &fakeGateway{}
	fetcher := &staticFetcher{price: 2000}
	cfg := config.Config{
		Currency:       "INR",
		CommissionRate: 0.05,
		Windows: config.WindowConfig{
			Accept:          5 * time.Minute,
			Payment:         15 * time.Minute,
			Address:         30 * time.Minute,
			Order:           24 * time.Hour,
			StaleOrderAfter: 7 * 24 * time.Hour,
		},
	}

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clock.FixedClock{At: testNow},
		Cfg:        cfg,
		Repo:       repository.Provide(),
		Gateway:    gw,
		Fetcher:    fetcher,
		PayoutSvc:  payoutSvc,
		Outbox:     events.NewOutbox(db, node),
		Dispatcher: nopDispatcher{},
		AuditSvc:   auditSvc,
	})
	return &fixture{db: db, svc: svc, gateway: gw, fetcher: fetcher, node: node}
}

func (f *fixture) createDeal(t *testing.T) *domain.Deal {
	t.Helper()
	deal, err := f.svc.Create(context.Background(), domain.CreateRequest{
		BuyerID:     testBuyer,
		ProductURL:  "https://store.example.com/p/colorfit-pro-5",
		DiscountPct: 10,
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return deal
}

func testAddress() domain.ShippingDetails {
	return domain.ShippingDetails{
		Name:         "Asha Rao",
		Phone:        "9876543210",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "Karnataka",
		Pincode:      "560001",
	}
}

// advanceTo drives a fresh deal up to the requested status through the
// public operations.
func (f *fixture) advanceTo(t *testing.T, target domain.Status) *domain.Deal {
	t.Helper()
	ctx := context.Background()
	deal := f.createDeal(t)
	steps := []struct {
		status domain.Status
		step   func() (*domain.Deal, error)
	}{
		{domain.StatusMatched, func() (*domain.Deal, error) { return f.svc.Accept(ctx, deal.ID, testCardholder) }},
		{domain.StatusAwaitingPayment, func() (*domain.Deal, error) { return f.svc.CreateOrder(ctx, deal.ID, testBuyer) }},
		{domain.StatusPaymentAuthorized, func() (*domain.Deal, error) {
			return f.svc.AuthorizePayment(ctx, deal.ID, "pay_001", "sig-valid")
		}},
		{domain.StatusAddressShared, func() (*domain.Deal, error) {
			return f.svc.ShareAddress(ctx, domain.ShareAddressRequest{DealID: deal.ID, BuyerID: testBuyer, Address: testAddress()})
		}},
		{domain.StatusOrderPlaced, func() (*domain.Deal, error) {
			return f.svc.SubmitOrder(ctx, domain.SubmitOrderRequest{
				DealID: deal.ID, CardholderID: testCardholder, ExternalOrderID: "FK-4411", TrackingRef: "TRK-99",
			})
		}},
		{domain.StatusShipped, func() (*domain.Deal, error) { return f.svc.MarkShipped(ctx, deal.ID, "") }},
	}
	current := deal
	for _, s := range steps {
		if current.Status == target {
			return current
		}
		next, err := s.step()
		if err != nil {
			t.Fatalf("advance to %s at %s: %v", target, s.status, err)
		}
		current = next
	}
	if current.Status != target {
		t.Fatalf("could not advance to %s, stuck at %s", target, current.Status)
	}
	return current
}

func TestCreateDerivesDiscountedPrice(t *testing.T) {
	f := newFixture(t)

	deal := f.createDeal(t)
	if deal.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", deal.Status)
	}
	if deal.Price != 2000 {
		t.Fatalf("price = %d, want 2000", deal.Price)
	}
	if deal.DiscountedPrice != 1800 {
		t.Fatalf("discounted price = %d, want 1800", deal.DiscountedPrice)
	}
	if deal.AcceptDeadline == nil || !deal.AcceptDeadline.Equal(testNow.Add(5*time.Minute)) {
		t.Fatalf("accept deadline = %v, want %v", deal.AcceptDeadline, testNow.Add(5*time.Minute))
	}
}

func TestCreateRoundsHalfUp(t *testing.T) {
	f := newFixture(t)
	f.fetcher.price = 15 // 15 * 0.9 = 13.5, rounds to 14

	deal, err := f.svc.Create(context.Background(), domain.CreateRequest{
		BuyerID:     testBuyer,
		ProductURL:  "https://store.example.com/p/cable",
		DiscountPct: 10,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deal.DiscountedPrice != 14 {
		t.Fatalf("discounted price = %d, want 14", deal.DiscountedPrice)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateRequest
		want error
	}{
		{"missing buyer", domain.CreateRequest{ProductURL: "https://x.example.com/p", DiscountPct: 10}, domain.ErrInvalidBuyer},
		{"bad scheme", domain.CreateRequest{BuyerID: testBuyer, ProductURL: "ftp://x.example.com/p", DiscountPct: 10}, domain.ErrInvalidProductURL},
		{"no host", domain.CreateRequest{BuyerID: testBuyer, ProductURL: "https:///p", DiscountPct: 10}, domain.ErrInvalidProductURL},
		{"negative discount", domain.CreateRequest{BuyerID: testBuyer, ProductURL: "https://x.example.com/p", DiscountPct: -1}, domain.ErrInvalidDiscount},
		{"full discount", domain.CreateRequest{BuyerID: testBuyer, ProductURL: "https://x.example.com/p", DiscountPct: 100}, domain.ErrInvalidDiscount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateKeepsFallbackSnapshot(t *testing.T) {
	f := newFixture(t)
	f.fetcher.fallback = true

	deal := f.createDeal(t)
	if deal.Price != 0 {
		t.Fatalf("fallback price = %d, want 0", deal.Price)
	}
	if deal.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", deal.Status)
	}
}

func TestAcceptRejectsOwnDeal(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	if _, err := f.svc.Accept(context.Background(), deal.ID, testBuyer); !errors.Is(err, domain.ErrOwnDeal) {
		t.Fatalf("err = %v, want ErrOwnDeal", err)
	}
}

func TestAcceptSetsPaymentDeadline(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	accepted, err := f.svc.Accept(context.Background(), deal.ID, testCardholder)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.StatusMatched {
		t.Fatalf("status = %s, want matched", accepted.Status)
	}
	if accepted.CardholderID == nil || *accepted.CardholderID != testCardholder {
		t.Fatalf("cardholder = %v, want %d", accepted.CardholderID, testCardholder)
	}
	if accepted.PaymentDeadline == nil || !accepted.PaymentDeadline.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("payment deadline = %v, want %v", accepted.PaymentDeadline, testNow.Add(15*time.Minute))
	}
}

func TestAcceptConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	conflicts := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), deal.ID, snowflake.ID(3000+n))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrStateConflict):
				conflicts++
			default:
				t.Errorf("unexpected accept error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if conflicts != contenders-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, contenders-1)
	}
}

func TestAcceptAfterDeadlineConflicts(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	past := testNow.Add(-time.Minute)
	if err := f.db.Exec(`UPDATE deals SET accept_deadline = ? WHERE id = ?`, past, deal.ID).Error; err != nil {
		t.Fatalf("backdate deadline: %v", err)
	}

	if _, err := f.svc.Accept(context.Background(), deal.ID, testCardholder); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}

func TestCreateOrderComputesCommission(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusMatched)

	updated, err := f.svc.CreateOrder(context.Background(), deal.ID, testBuyer)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if updated.Status != domain.StatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", updated.Status)
	}
	if updated.CommissionAmount != 100 { // 2000 * 0.05
		t.Fatalf("commission = %d, want 100", updated.CommissionAmount)
	}
	if updated.GatewayOrderID == nil || *updated.GatewayOrderID == "" {
		t.Fatal("gateway order id not recorded")
	}
	// 2100 rupees as paise at the gateway boundary.
	if f.gateway.lastOrderAmount != 210000 {
		t.Fatalf("gateway order amount = %d, want 210000", f.gateway.lastOrderAmount)
	}
}

func TestCreateOrderGatewayFailureLeavesMatched(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusMatched)
	f.gateway.orderErr = escrowdomain.ErrGateway

	if _, err := f.svc.CreateOrder(context.Background(), deal.ID, testBuyer); !errors.Is(err, escrowdomain.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}

	loaded, err := f.svc.Get(context.Background(), deal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != domain.StatusMatched {
		t.Fatalf("status = %s, want matched", loaded.Status)
	}
}

func TestCreateOrderRejectsNonBuyer(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusMatched)

	if _, err := f.svc.CreateOrder(context.Background(), deal.ID, testCardholder); !errors.Is(err, domain.ErrNotDealBuyer) {
		t.Fatalf("err = %v, want ErrNotDealBuyer", err)
	}
}

func TestAuthorizePaymentRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusAwaitingPayment)

	if _, err := f.svc.AuthorizePayment(context.Background(), deal.ID, "pay_001", "sig-forged"); !errors.Is(err, escrowdomain.ErrSignature) {
		t.Fatalf("err = %v, want ErrSignature", err)
	}

	loaded, _ := f.svc.Get(context.Background(), deal.ID)
	if loaded.Status != domain.StatusAwaitingPayment {
		t.Fatalf("status = %s, want awaiting_payment", loaded.Status)
	}
}

func TestShareAddressValidation(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusPaymentAuthorized)

	bad := testAddress()
	bad.Pincode = "5600" // too short
	_, err := f.svc.ShareAddress(context.Background(), domain.ShareAddressRequest{
		DealID: deal.ID, BuyerID: testBuyer, Address: bad,
	})
	if !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestSubmitOrderRequiresExternalRef(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusAddressShared)

	_, err := f.svc.SubmitOrder(context.Background(), domain.SubmitOrderRequest{
		DealID: deal.ID, CardholderID: testCardholder, ExternalOrderID: "   ",
	})
	if !errors.Is(err, domain.ErrInvalidOrderRef) {
		t.Fatalf("err = %v, want ErrInvalidOrderRef", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.advanceTo(t, domain.StatusShipped)

	settled, err := f.svc.CaptureAndDisburse(ctx, deal.ID)
	if err != nil {
		t.Fatalf("capture and disburse: %v", err)
	}
	if settled.Status != domain.StatusDisbursed {
		t.Fatalf("status = %s, want disbursed", settled.Status)
	}
	if settled.EscrowStatus != domain.EscrowCaptured {
		t.Fatalf("escrow = %s, want captured", settled.EscrowStatus)
	}
	if settled.DisbursementStatus != domain.DisbursementProcessing {
		t.Fatalf("disbursement = %s, want processing", settled.DisbursementStatus)
	}
	if settled.PayoutID == nil {
		t.Fatal("payout id not recorded")
	}
	// Cardholder is reimbursed the discounted price plus commission.
	if settled.PayoutAmount != 1900 {
		t.Fatalf("payout amount = %d, want 1900", settled.PayoutAmount)
	}
	if f.gateway.lastCaptureAmount != 210000 {
		t.Fatalf("capture amount = %d, want 210000", f.gateway.lastCaptureAmount)
	}
	if f.gateway.lastPayoutAmount != 190000 {
		t.Fatalf("payout amount at gateway = %d, want 190000", f.gateway.lastPayoutAmount)
	}
	if f.gateway.lastPayoutDest.Kind != escrowdomain.DestinationUPI || f.gateway.lastPayoutDest.VPA != "rahul@okicici" {
		t.Fatalf("payout destination = %+v, want saved UPI method", f.gateway.lastPayoutDest)
	}

	done, err := f.svc.MarkReceived(ctx, deal.ID, testBuyer)
	if err != nil {
		t.Fatalf("mark received: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
}

func TestCaptureFailureLeavesShipped(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusShipped)
	f.gateway.captureErr = escrowdomain.ErrGateway

	if _, err := f.svc.CaptureAndDisburse(context.Background(), deal.ID); !errors.Is(err, escrowdomain.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}

	loaded, _ := f.svc.Get(context.Background(), deal.ID)
	if loaded.Status != domain.StatusShipped {
		t.Fatalf("status = %s, want shipped", loaded.Status)
	}
	if loaded.EscrowStatus != domain.EscrowAuthorized {
		t.Fatalf("escrow = %s, want authorized", loaded.EscrowStatus)
	}
}

func TestPayoutFailureKeepsCapture(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusShipped)
	f.gateway.payoutErr = escrowdomain.ErrGateway

	result, err := f.svc.CaptureAndDisburse(context.Background(), deal.ID)
	if err != nil {
		t.Fatalf("capture and disburse: %v", err)
	}
	if result.Status != domain.StatusPaymentCaptured {
		t.Fatalf("status = %s, want payment_captured", result.Status)
	}
	if result.EscrowStatus != domain.EscrowCaptured {
		t.Fatalf("escrow = %s, want captured", result.EscrowStatus)
	}
	if result.DisbursementStatus != domain.DisbursementFailed {
		t.Fatalf("disbursement = %s, want failed", result.DisbursementStatus)
	}
}

func TestPayoutAttemptedAtMostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.advanceTo(t, domain.StatusShipped)
	f.gateway.payoutErr = escrowdomain.ErrGateway

	if _, err := f.svc.CaptureAndDisburse(ctx, deal.ID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// Re-running the settle step must not reach the gateway again; the
	// payout guard stays claimed until an operator re-arms it.
	if _, err := f.svc.CaptureAndDisburse(ctx, deal.ID); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if calls := f.gateway.payoutCalls(); calls != 0 {
		t.Fatalf("successful payouts = %d, want 0", calls)
	}

	f.gateway.payoutErr = nil
	retried, err := f.svc.RetryPayout(ctx, deal.ID)
	if err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	if retried.Status != domain.StatusDisbursed {
		t.Fatalf("status = %s, want disbursed", retried.Status)
	}
	if calls := f.gateway.payoutCalls(); calls != 1 {
		t.Fatalf("successful payouts = %d, want 1", calls)
	}
}

func TestRetryPayoutRequiresConfirmedFailure(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusShipped)

	if _, err := f.svc.CaptureAndDisburse(context.Background(), deal.ID); err != nil {
		t.Fatalf("capture and disburse: %v", err)
	}
	if _, err := f.svc.RetryPayout(context.Background(), deal.ID); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}

func TestMarkReceivedRequiresDisbursed(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusShipped)

	if _, err := f.svc.MarkReceived(context.Background(), deal.ID, testBuyer); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
}

func TestCancelPendingExpires(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	cancelled, err := f.svc.Cancel(context.Background(), domain.CancelRequest{
		DealID: deal.ID, Actor: domain.CancelledByBuyer, ActorID: testBuyer, Reason: "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want expired", cancelled.Status)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != domain.CancelledByBuyer {
		t.Fatalf("cancelled by = %v, want buyer", cancelled.CancelledBy)
	}
	if f.gateway.voids != 0 {
		t.Fatalf("voids = %d, want 0 for unfunded deal", f.gateway.voids)
	}
}

func TestCancelFundedDealRefunds(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusPaymentAuthorized)

	cancelled, err := f.svc.Cancel(context.Background(), domain.CancelRequest{
		DealID: deal.ID, Actor: domain.CancelledByBuyer, ActorID: testBuyer, Reason: "out of stock",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusRefunded {
		t.Fatalf("status = %s, want refunded", cancelled.Status)
	}
	if cancelled.EscrowStatus != domain.EscrowRefunded {
		t.Fatalf("escrow = %s, want refunded", cancelled.EscrowStatus)
	}
	if f.gateway.voids != 1 {
		t.Fatalf("voids = %d, want 1", f.gateway.voids)
	}
}

func TestCancelAfterOrderPlacedForbidden(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusOrderPlaced)

	for _, actor := range []struct {
		by domain.CancelledBy
		id snowflake.ID
	}{
		{domain.CancelledByBuyer, testBuyer},
		{domain.CancelledByCardholder, testCardholder},
	} {
		_, err := f.svc.Cancel(context.Background(), domain.CancelRequest{
			DealID: deal.ID, Actor: actor.by, ActorID: actor.id,
		})
		if !errors.Is(err, domain.ErrStateConflict) {
			t.Fatalf("%s cancel err = %v, want ErrStateConflict", actor.by, err)
		}
	}

	// The system still can, for the stale order sweep.
	cancelled, err := f.svc.Cancel(context.Background(), domain.CancelRequest{
		DealID: deal.ID, Actor: domain.CancelledBySystem, Reason: "order_stale",
	})
	if err != nil {
		t.Fatalf("system cancel: %v", err)
	}
	if cancelled.Status != domain.StatusRefunded {
		t.Fatalf("status = %s, want refunded", cancelled.Status)
	}
}

func TestTerminalStateRejectsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.createDeal(t)
	if _, err := f.svc.Cancel(ctx, domain.CancelRequest{DealID: deal.ID, Actor: domain.CancelledBySystem}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := f.svc.Accept(ctx, deal.ID, testCardholder); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("accept err = %v, want ErrStateConflict", err)
	}
	if _, err := f.svc.Cancel(ctx, domain.CancelRequest{DealID: deal.ID, Actor: domain.CancelledBySystem}); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("second cancel err = %v, want ErrStateConflict", err)
	}
}

func TestExpireSkipsMovedDeal(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusMatched)

	moved, err := f.svc.Expire(context.Background(), deal.ID, domain.StatusPending)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if moved {
		t.Fatal("expire reported a transition for an already-moved deal")
	}

	loaded, _ := f.svc.Get(context.Background(), deal.ID)
	if loaded.Status != domain.StatusMatched {
		t.Fatalf("status = %s, want matched", loaded.Status)
	}
}

func TestStatusChangeEventsDeduped(t *testing.T) {
	f := newFixture(t)
	deal := f.advanceTo(t, domain.StatusMatched)

	var count int64
	err := f.db.Model(&events.DealEvent{}).
		Where("deal_id = ? AND event_type = ?", deal.ID, events.EventDealStatusChanged).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("status_changed events = %d, want 1", count)
	}
}
