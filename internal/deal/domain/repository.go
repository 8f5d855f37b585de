package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// DeadlineField names one of the four sweep-indexed deadline columns.
type DeadlineField string

const (
	DeadlineAccept  DeadlineField = "accept_deadline"
	DeadlinePayment DeadlineField = "payment_deadline"
	DeadlineAddress DeadlineField = "address_deadline"
	DeadlineOrder   DeadlineField = "order_deadline"
)

// DueDeal is the sweep view of a deal whose deadline has passed.
type DueDeal struct {
	ID     snowflake.ID
	Status Status
}

// Repository persists deals. UpdateWhereStatus is the linearizability
// primitive: a single conditional UPDATE whose row count decides whether the
// transition won; callers never write based on a previously read snapshot.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, deal *Deal) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Deal, error)
	FindByGatewayOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Deal, error)
	FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*Deal, error)
	FindByPayoutID(ctx context.Context, db *gorm.DB, payoutID string) (*Deal, error)

	UpdateWhereStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, updates map[string]any) (bool, error)
	AcceptIfPending(ctx context.Context, db *gorm.DB, id, cardholderID snowflake.ID, paymentDeadline, now time.Time) (bool, error)

	// ClaimPayout flips the one-shot payout guard. It succeeds exactly once
	// per deal unless RearmPayout explicitly resets it after a confirmed
	// failure.
	ClaimPayout(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	RearmPayout(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	DueForDeadline(ctx context.Context, db *gorm.DB, status Status, field DeadlineField, now time.Time, limit int) ([]DueDeal, error)
	StaleOrders(ctx context.Context, db *gorm.DB, placedBefore time.Time, limit int) ([]DueDeal, error)
	PendingShipmentChecks(ctx context.Context, db *gorm.DB, limit int) ([]Deal, error)

	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Deal, error)
}
