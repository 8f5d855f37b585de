package domain

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrProfileNotFound   = errors.New("payout_profile_not_found")
	ErrInvalidMethod     = errors.New("invalid_payout_method")
	ErrInvalidVPA        = errors.New("invalid_vpa")
	ErrInvalidAccount    = errors.New("invalid_account_number")
	ErrInvalidIFSC       = errors.New("invalid_ifsc")
	ErrInvalidHolderName = errors.New("invalid_holder_name")
)

type MethodKind string

const (
	KindUPI         MethodKind = "upi"
	KindBankAccount MethodKind = "bank_account"
)

type UPI struct {
	VPA string `json:"vpa"`
}

type BankAccount struct {
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
}

// Method is a tagged payout destination. Exactly one variant matching Kind
// is set; Validate enforces this once at profile-save time so downstream
// code never probes for maybe-present fields.
type Method struct {
	Kind        MethodKind   `json:"kind"`
	HolderName  string       `json:"holder_name"`
	UPI         *UPI         `json:"upi,omitempty"`
	BankAccount *BankAccount `json:"bank_account,omitempty"`
}

var (
	vpaPattern  = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,}@[a-zA-Z]{2,}$`)
	ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

func (m Method) Validate() error {
	if strings.TrimSpace(m.HolderName) == "" {
		return ErrInvalidHolderName
	}
	switch m.Kind {
	case KindUPI:
		if m.BankAccount != nil {
			return ErrInvalidMethod
		}
		if m.UPI == nil || !vpaPattern.MatchString(strings.TrimSpace(m.UPI.VPA)) {
			return ErrInvalidVPA
		}
	case KindBankAccount:
		if m.UPI != nil {
			return ErrInvalidMethod
		}
		if m.BankAccount == nil {
			return ErrInvalidMethod
		}
		number := strings.TrimSpace(m.BankAccount.AccountNumber)
		if len(number) < 6 || len(number) > 20 {
			return ErrInvalidAccount
		}
		if !ifscPattern.MatchString(strings.TrimSpace(m.BankAccount.IFSC)) {
			return ErrInvalidIFSC
		}
	default:
		return ErrInvalidMethod
	}
	return nil
}

// Profile is a cardholder's saved payout destination.
type Profile struct {
	UserID    snowflake.ID   `gorm:"primaryKey" json:"user_id"`
	Method    datatypes.JSON `gorm:"type:jsonb;not null" json:"method"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Profile) TableName() string { return "cardholder_payout_profiles" }

type Service interface {
	Save(ctx context.Context, userID snowflake.ID, method Method) (*Profile, error)
	Get(ctx context.Context, userID snowflake.ID) (*Method, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, profile *Profile) error
	Find(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Profile, error)
}
