package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the state-machine discriminator for a deal.
type Status string

const (
	StatusPending           Status = "pending"
	StatusMatched           Status = "matched"
	StatusAwaitingPayment   Status = "awaiting_payment"
	StatusPaymentAuthorized Status = "payment_authorized"
	StatusAddressShared     Status = "address_shared"
	StatusOrderPlaced       Status = "order_placed"
	StatusShipped           Status = "shipped"
	StatusPaymentCaptured   Status = "payment_captured"
	StatusDisbursed         Status = "disbursed"
	StatusCompleted         Status = "completed"
	StatusExpired           Status = "expired"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// EscrowStatus tracks the gateway-side truth about the buyer's funds.
type EscrowStatus string

const (
	EscrowNone       EscrowStatus = "none"
	EscrowAuthorized EscrowStatus = "authorized"
	EscrowCaptured   EscrowStatus = "captured"
	EscrowRefunded   EscrowStatus = "refunded"
	EscrowFailed     EscrowStatus = "failed"
)

// PaymentStatus is the deal-side projection of the payment. Kept in lockstep
// with EscrowStatus by the lifecycle, but stored separately because webhook
// events can land before the lifecycle reconciles.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentFailed     PaymentStatus = "failed"
)

type DisbursementStatus string

const (
	DisbursementPending    DisbursementStatus = "pending"
	DisbursementProcessing DisbursementStatus = "processing"
	DisbursementCompleted  DisbursementStatus = "completed"
	DisbursementFailed     DisbursementStatus = "failed"
)

type CancelledBy string

const (
	CancelledByBuyer      CancelledBy = "buyer"
	CancelledByCardholder CancelledBy = "cardholder"
	CancelledBySystem     CancelledBy = "system"
)

// BankOffer is one card offer found on the product page, captured at
// creation time as part of the product snapshot.
type BankOffer struct {
	Bank        string  `json:"bank"`
	Offer       string  `json:"offer"`
	DiscountPct float64 `json:"discount_pct"`
}

// ShippingDetails is the buyer's delivery address, present from
// address_shared onward.
type ShippingDetails struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Landmark     string `json:"landmark,omitempty"`
}

// Deal is the aggregate record of one buyer-cardholder transaction. The
// product snapshot is immutable after creation; a price change on the origin
// site never alters an active deal.
type Deal struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	BuyerID      snowflake.ID  `gorm:"not null;index" json:"buyer_id"`
	CardholderID *snowflake.ID `gorm:"index" json:"cardholder_id,omitempty"`

	// Product snapshot.
	Title      string         `gorm:"type:text;not null" json:"title"`
	ImageURL   string         `gorm:"type:text" json:"image_url"`
	ProductURL string         `gorm:"type:text;not null" json:"product_url"`
	Price      int64          `gorm:"not null" json:"price"`
	BankOffers datatypes.JSON `gorm:"type:jsonb" json:"bank_offers,omitempty"`

	// Commercial terms. DiscountedPrice is derived at creation,
	// CommissionAmount at payment-order time.
	DiscountPct      float64 `gorm:"not null" json:"discount_pct"`
	DiscountedPrice  int64   `gorm:"not null" json:"discounted_price"`
	CommissionAmount int64   `gorm:"not null;default:0" json:"commission_amount"`

	Status Status `gorm:"type:text;not null;index;index:idx_deals_accept_sweep,priority:1;index:idx_deals_payment_sweep,priority:1;index:idx_deals_address_sweep,priority:1;index:idx_deals_order_sweep,priority:1" json:"status"`

	// Gateway references and payment projections.
	GatewayOrderID     *string       `gorm:"type:text;index" json:"gateway_order_id,omitempty"`
	GatewayPaymentID   *string       `gorm:"type:text;index" json:"gateway_payment_id,omitempty"`
	EscrowStatus       EscrowStatus  `gorm:"type:text;not null;default:'none'" json:"escrow_status"`
	PaymentStatus      PaymentStatus `gorm:"type:text;not null;default:'pending'" json:"payment_status"`

	ShippingDetails datatypes.JSON `gorm:"type:jsonb" json:"shipping_details,omitempty"`

	// Cardholder order evidence.
	ExternalOrderID *string    `gorm:"type:text" json:"external_order_id,omitempty"`
	InvoiceRef      *string    `gorm:"type:text" json:"invoice_ref,omitempty"`
	TrackingRef     *string    `gorm:"type:text" json:"tracking_ref,omitempty"`
	OrderPlacedAt   *time.Time `gorm:"index" json:"order_placed_at,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`

	// Disbursement.
	DisbursementStatus DisbursementStatus `gorm:"type:text;not null;default:'pending'" json:"disbursement_status"`
	PayoutID           *string            `gorm:"type:text;index" json:"payout_id,omitempty"`
	PayoutAmount       int64              `gorm:"not null;default:0" json:"payout_amount"`
	PayoutAttemptedAt  *time.Time         `json:"payout_attempted_at,omitempty"`
	DisbursedAt        *time.Time         `json:"disbursed_at,omitempty"`
	Settled            bool               `gorm:"not null;default:false" json:"settled"`

	// Deadlines, one per waiting state. Populated when the state is
	// entered and never cleared; sweeps match on status+deadline so a
	// stale deadline is inert.
	AcceptDeadline  *time.Time `gorm:"index:idx_deals_accept_sweep,priority:2" json:"accept_deadline,omitempty"`
	PaymentDeadline *time.Time `gorm:"index:idx_deals_payment_sweep,priority:2" json:"payment_deadline,omitempty"`
	AddressDeadline *time.Time `gorm:"index:idx_deals_address_sweep,priority:2" json:"address_deadline,omitempty"`
	OrderDeadline   *time.Time `gorm:"index:idx_deals_order_sweep,priority:2" json:"order_deadline,omitempty"`

	CancelledBy  *CancelledBy `gorm:"type:text" json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason *string      `gorm:"type:text" json:"cancel_reason,omitempty"`
}

// TableName sets the database table name.
func (Deal) TableName() string { return "deals" }
