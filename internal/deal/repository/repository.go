package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealbridge/internal/deal/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func Provide() domain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, db *gorm.DB, deal *domain.Deal) error {
	return db.WithContext(ctx).Create(deal).Error
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Deal, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *Repository) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Deal, error) {
	return r.findOne(ctx, db, "gateway_order_id = ?", orderID)
}

func (r *Repository) FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, paymentID string) (*domain.Deal, error) {
	return r.findOne(ctx, db, "gateway_payment_id = ?", paymentID)
}

func (r *Repository) FindByPayoutID(ctx context.Context, db *gorm.DB, payoutID string) (*domain.Deal, error) {
	return r.findOne(ctx, db, "payout_id = ?", payoutID)
}

func (r *Repository) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Deal, error) {
	var deal domain.Deal
	err := db.WithContext(ctx).Where(query, arg).First(&deal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &deal, nil
}

// UpdateWhereStatus applies updates only when the deal is still in the
// expected status. Returns false when another writer moved the deal first.
func (r *Repository) UpdateWhereStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, errors.New("empty_update")
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	result := db.WithContext(ctx).
		Model(&domain.Deal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AcceptIfPending claims a pending deal for a cardholder. The single UPDATE
// checks status, unclaimed cardholder slot and deadline together, so only
// one of any number of concurrent accepts can win.
func (r *Repository) AcceptIfPending(ctx context.Context, db *gorm.DB, id, cardholderID snowflake.ID, paymentDeadline, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET cardholder_id = ?, status = ?, payment_deadline = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND cardholder_id IS NULL AND accept_deadline > ?`,
		cardholderID,
		domain.StatusMatched,
		paymentDeadline,
		now,
		id,
		domain.StatusPending,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimPayout marks the payout as attempted before any gateway call is
// made. A second claim finds payout_attempted_at already set and loses, so
// two concurrent disbursement attempts can never both reach the gateway.
func (r *Repository) ClaimPayout(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET payout_attempted_at = ?, disbursement_status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND payout_attempted_at IS NULL`,
		now,
		domain.DisbursementProcessing,
		now,
		id,
		domain.StatusPaymentCaptured,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RearmPayout resets the payout guard after the gateway confirmed the
// previous attempt failed. Operator-triggered only.
func (r *Repository) RearmPayout(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE deals
		 SET payout_attempted_at = NULL, disbursement_status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND disbursement_status = ?`,
		domain.DisbursementPending,
		time.Now().UTC(),
		id,
		domain.StatusPaymentCaptured,
		domain.DisbursementFailed,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// deadlineStatus lists the waiting states each deadline field governs. The
// payment window opens at accept and keeps running after the gateway order
// is created, so it covers both pre-payment states.
var deadlineStatus = map[domain.DeadlineField][]domain.Status{
	domain.DeadlineAccept:  {domain.StatusPending},
	domain.DeadlinePayment: {domain.StatusMatched, domain.StatusAwaitingPayment},
	domain.DeadlineAddress: {domain.StatusPaymentAuthorized},
	domain.DeadlineOrder:   {domain.StatusAddressShared},
}

func deadlineGoverns(field domain.DeadlineField, status domain.Status) bool {
	for _, s := range deadlineStatus[field] {
		if s == status {
			return true
		}
	}
	return false
}

// DueForDeadline returns deals whose deadline for the given waiting status
// has passed. The field is validated against a fixed map, never interpolated
// from caller input.
func (r *Repository) DueForDeadline(ctx context.Context, db *gorm.DB, status domain.Status, field domain.DeadlineField, now time.Time, limit int) ([]domain.DueDeal, error) {
	if !deadlineGoverns(field, status) {
		return nil, fmt.Errorf("deadline field %q does not belong to status %q", field, status)
	}
	if limit <= 0 {
		limit = 50
	}
	var due []domain.DueDeal
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(
			`SELECT id, status
			 FROM deals
			 WHERE status = ? AND %s <= ?
			 ORDER BY %s ASC
			 LIMIT ?`,
			field, field,
		),
		status,
		now,
		limit,
	).Scan(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// StaleOrders returns order_placed deals whose order has sat unshipped past
// the business cutoff.
func (r *Repository) StaleOrders(ctx context.Context, db *gorm.DB, placedBefore time.Time, limit int) ([]domain.DueDeal, error) {
	if limit <= 0 {
		limit = 50
	}
	var due []domain.DueDeal
	err := db.WithContext(ctx).Raw(
		`SELECT id, status
		 FROM deals
		 WHERE status = ? AND order_placed_at IS NOT NULL AND order_placed_at <= ?
		 ORDER BY order_placed_at ASC
		 LIMIT ?`,
		domain.StatusOrderPlaced,
		placedBefore,
		limit,
	).Scan(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}

// PendingShipmentChecks returns order_placed deals carrying a tracking
// reference, oldest first, for the shipment detector to probe.
func (r *Repository) PendingShipmentChecks(ctx context.Context, db *gorm.DB, limit int) ([]domain.Deal, error) {
	if limit <= 0 {
		limit = 50
	}
	var deals []domain.Deal
	err := db.WithContext(ctx).
		Where("status = ? AND tracking_ref IS NOT NULL", domain.StatusOrderPlaced).
		Order("order_placed_at ASC").
		Limit(limit).
		Find(&deals).Error
	if err != nil {
		return nil, err
	}
	return deals, nil
}

func (r *Repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Deal, error) {
	query := db.WithContext(ctx).Model(&domain.Deal{})
	if filter.BuyerID != 0 {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.CardholderID != 0 {
		query = query.Where("cardholder_id = ?", filter.CardholderID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var deals []domain.Deal
	if err := query.Order("created_at DESC").Limit(limit).Find(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}
