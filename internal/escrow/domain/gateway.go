package domain

import (
	"context"
	"errors"
)

var (
	ErrGateway   = errors.New("gateway_error")
	ErrSignature = errors.New("invalid_signature")
)

// Order is a payment order created at the gateway against which the buyer
// authorizes funds.
type Order struct {
	ID       string
	Amount   int64 // minor units
	Currency string
	Receipt  string
}

// Payment is the gateway's view of an authorized or captured payment.
type Payment struct {
	ID     string
	Status string
	Amount int64 // minor units
}

// Refund is the result of voiding a payment. A merely-authorized payment
// cannot be refunded immediately; the gateway auto-releases the hold.
type Refund struct {
	ID             string
	Status         string
	WillAutoRefund bool
}

// Payout is a transfer from the platform to the cardholder.
type Payout struct {
	ID     string
	Status string
	Amount int64 // minor units
}

// DestinationKind mirrors the cardholder's saved payout method.
type DestinationKind string

const (
	DestinationUPI         DestinationKind = "upi"
	DestinationBankAccount DestinationKind = "bank_account"
)

// Destination is where a payout lands. Exactly the fields for Kind are set;
// the payout profile validates this at save time.
type Destination struct {
	Kind          DestinationKind
	VPA           string
	AccountNumber string
	IFSC          string
	HolderName    string
}

// Gateway wraps the external payment processor. All amounts cross this
// boundary in integral minor currency units.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, dealRef string, notes map[string]string) (*Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	Capture(ctx context.Context, paymentID string, amount int64) (*Payment, error)
	Void(ctx context.Context, paymentID string) (*Refund, error)
	CreatePayout(ctx context.Context, dest Destination, amount int64, dealRef string) (*Payout, error)
	VerifyWebhookSignature(body []byte, signature string) bool
}
