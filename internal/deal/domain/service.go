package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	BuyerID     snowflake.ID
	ProductURL  string
	DiscountPct float64
}

type ShareAddressRequest struct {
	DealID  snowflake.ID
	BuyerID snowflake.ID
	Address ShippingDetails
}

type SubmitOrderRequest struct {
	DealID          snowflake.ID
	CardholderID    snowflake.ID
	ExternalOrderID string
	InvoiceRef      string
	TrackingRef     string
}

type CancelRequest struct {
	DealID snowflake.ID
	Actor  CancelledBy
	// ActorID is zero for system cancellations.
	ActorID snowflake.ID
	Reason  string
}

type ListFilter struct {
	BuyerID      snowflake.ID
	CardholderID snowflake.ID
	Status       Status
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Limit        int
}

// Service is the deal lifecycle state machine. Every mutation of a deal goes
// through one of these operations; each validates the current status against
// fresh store state inside an atomic conditional update.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Deal, error)
	Accept(ctx context.Context, dealID, cardholderID snowflake.ID) (*Deal, error)
	CreateOrder(ctx context.Context, dealID, buyerID snowflake.ID) (*Deal, error)
	AuthorizePayment(ctx context.Context, dealID snowflake.ID, paymentID, signature string) (*Deal, error)
	ShareAddress(ctx context.Context, req ShareAddressRequest) (*Deal, error)
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Deal, error)
	MarkShipped(ctx context.Context, dealID snowflake.ID, trackingRef string) (*Deal, error)
	CaptureAndDisburse(ctx context.Context, dealID snowflake.ID) (*Deal, error)
	RetryPayout(ctx context.Context, dealID snowflake.ID) (*Deal, error)
	MarkReceived(ctx context.Context, dealID, buyerID snowflake.ID) (*Deal, error)
	Cancel(ctx context.Context, req CancelRequest) (*Deal, error)
	Expire(ctx context.Context, dealID snowflake.ID, from Status) (bool, error)

	Get(ctx context.Context, dealID snowflake.ID) (*Deal, error)
	List(ctx context.Context, filter ListFilter) ([]Deal, error)
}
