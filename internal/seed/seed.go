package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Fixed ids so repeated dev startups find the existing rows instead of
// piling up duplicates.
const (
	demoBuyerID      = snowflake.ID(1000000000000001)
	demoCardholderID = snowflake.ID(1000000000000002)
	demoDealID       = snowflake.ID(1000000000000003)
)

// EnsureDemoData seeds a pending demo deal and a payout profile for the
// demo cardholder. Development mode only.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureDemoDeal(ctx, tx); err != nil {
			return err
		}
		return ensureDemoPayoutProfile(ctx, tx)
	})
}

func ensureDemoDeal(ctx context.Context, tx *gorm.DB) error {
	var existing dealdomain.Deal
	err := tx.WithContext(ctx).Where("id = ?", demoDealID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	acceptDeadline := now.Add(24 * time.Hour)
	deal := dealdomain.Deal{
		ID:              demoDealID,
		CreatedAt:       now,
		UpdatedAt:       now,
		BuyerID:         demoBuyerID,
		Title:           "Demo noise-cancelling headphones",
		ProductURL:      "https://shop.example.com/headphones-nc700",
		Price:           2000,
		DiscountPct:     10,
		DiscountedPrice: 1800,
		Status:          dealdomain.StatusPending,
		EscrowStatus:    dealdomain.EscrowNone,
		PaymentStatus:   dealdomain.PaymentPending,
		AcceptDeadline:  &acceptDeadline,
	}
	return tx.WithContext(ctx).Create(&deal).Error
}

func ensureDemoPayoutProfile(ctx context.Context, tx *gorm.DB) error {
	var existing payoutdomain.Profile
	err := tx.WithContext(ctx).Where("user_id = ?", demoCardholderID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	profile := payoutdomain.Profile{
		UserID:    demoCardholderID,
		Method:    datatypes.JSON(`{"kind":"upi","holder_name":"Demo Cardholder","upi":{"vpa":"demo@upi"}}`),
		UpdatedAt: time.Now().UTC(),
	}
	return tx.WithContext(ctx).Create(&profile).Error
}
