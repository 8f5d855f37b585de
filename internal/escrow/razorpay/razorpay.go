package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/dealbridge/internal/config"
	"github.com/smallbiznis/dealbridge/internal/escrow/domain"
	"github.com/smallbiznis/dealbridge/internal/observability/tracing"
	"go.uber.org/zap"
)

// Gateway talks to the Razorpay REST API. All request amounts are paise.
type Gateway struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	payoutAccount string
	currency      string
	client        *http.Client
	log           *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Gateway {
	return &Gateway{
		baseURL:       strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		keyID:         cfg.Gateway.KeyID,
		keySecret:     cfg.Gateway.KeySecret,
		webhookSecret: cfg.Gateway.WebhookSecret,
		payoutAccount: cfg.Gateway.PayoutAccount,
		currency:      cfg.Currency,
		client:        tracing.WrapHTTPClient(&http.Client{Timeout: 15 * time.Second}),
		log:           log.Named("escrow.razorpay"),
	}
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func (g *Gateway) CreateOrder(ctx context.Context, amount int64, dealRef string, notes map[string]string) (*domain.Order, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": g.currency,
		"receipt":  dealRef,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var resp orderResponse
	if err := g.post(ctx, "/orders", payload, &resp); err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:       resp.ID,
		Amount:   resp.Amount,
		Currency: resp.Currency,
		Receipt:  resp.Receipt,
	}, nil
}

// VerifyPaymentSignature checks the checkout callback signature:
// HMAC-SHA256 over "orderID|paymentID" keyed with the API secret.
func (g *Gateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := hmacHex([]byte(g.keySecret), []byte(orderID+"|"+paymentID))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signature))) == 1
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func (g *Gateway) Capture(ctx context.Context, paymentID string, amount int64) (*domain.Payment, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": g.currency,
	}
	var resp paymentResponse
	if err := g.post(ctx, "/payments/"+paymentID+"/capture", payload, &resp); err != nil {
		return nil, err
	}
	return &domain.Payment{ID: resp.ID, Status: resp.Status, Amount: resp.Amount}, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Void releases the buyer's funds. A captured payment is refunded; a
// merely-authorized payment cannot be refunded through the refund endpoint,
// the hold lapses on the gateway side instead.
func (g *Gateway) Void(ctx context.Context, paymentID string) (*domain.Refund, error) {
	status, err := g.paymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if status == "authorized" {
		return &domain.Refund{Status: "will_auto_refund", WillAutoRefund: true}, nil
	}

	var resp refundResponse
	if err := g.post(ctx, "/payments/"+paymentID+"/refund", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return &domain.Refund{ID: resp.ID, Status: resp.Status}, nil
}

func (g *Gateway) paymentStatus(ctx context.Context, paymentID string) (string, error) {
	var resp paymentResponse
	if err := g.get(ctx, "/payments/"+paymentID, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

func (g *Gateway) CreatePayout(ctx context.Context, dest domain.Destination, amount int64, dealRef string) (*domain.Payout, error) {
	fundAccount := map[string]any{
		"contact": map[string]any{
			"name": dest.HolderName,
			"type": "vendor",
		},
	}
	var mode string
	switch dest.Kind {
	case domain.DestinationUPI:
		fundAccount["account_type"] = "vpa"
		fundAccount["vpa"] = map[string]any{"address": dest.VPA}
		mode = "UPI"
	case domain.DestinationBankAccount:
		fundAccount["account_type"] = "bank_account"
		fundAccount["bank_account"] = map[string]any{
			"name":           dest.HolderName,
			"account_number": dest.AccountNumber,
			"ifsc":           dest.IFSC,
		}
		mode = "IMPS"
	default:
		return nil, fmt.Errorf("%w: unsupported payout destination %q", domain.ErrGateway, dest.Kind)
	}

	payload := map[string]any{
		"account_number":       g.payoutAccount,
		"fund_account":         fundAccount,
		"amount":               amount,
		"currency":             g.currency,
		"mode":                 mode,
		"purpose":              "payout",
		"reference_id":         dealRef,
		"queue_if_low_balance": true,
	}

	var resp payoutResponse
	if err := g.post(ctx, "/payouts", payload, &resp); err != nil {
		return nil, err
	}
	return &domain.Payout{ID: resp.ID, Status: resp.Status, Amount: resp.Amount}, nil
}

// VerifyWebhookSignature checks HMAC-SHA256 over the raw body keyed with the
// webhook secret, compared against the X-Razorpay-Signature header value.
func (g *Gateway) VerifyWebhookSignature(body []byte, signature string) bool {
	if len(body) == 0 || signature == "" || g.webhookSecret == "" {
		return false
	}
	expected := hmacHex([]byte(g.webhookSecret), body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signature))) == 1
}

func hmacHex(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	return g.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (g *Gateway) get(ctx context.Context, path string, out any) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *Gateway) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn("gateway call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: %s returned %d", domain.ErrGateway, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	return nil
}
