package domain

import "errors"

var (
	ErrNotFound      = errors.New("deal_not_found")
	ErrStateConflict = errors.New("state_conflict")

	ErrInvalidBuyer      = errors.New("invalid_buyer")
	ErrInvalidCardholder = errors.New("invalid_cardholder")
	ErrInvalidProductURL = errors.New("invalid_product_url")
	ErrInvalidDiscount   = errors.New("invalid_discount")
	ErrInvalidAddress    = errors.New("invalid_address")
	ErrInvalidOrderRef   = errors.New("invalid_order_ref")
	ErrInvalidActor      = errors.New("invalid_actor")

	ErrNotDealBuyer      = errors.New("not_deal_buyer")
	ErrNotDealCardholder = errors.New("not_deal_cardholder")
	ErrOwnDeal           = errors.New("cannot_accept_own_deal")
)

// ValidationError reports whether err is caller-input validation failure.
func ValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidBuyer),
		errors.Is(err, ErrInvalidCardholder),
		errors.Is(err, ErrInvalidProductURL),
		errors.Is(err, ErrInvalidDiscount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrInvalidOrderRef),
		errors.Is(err, ErrInvalidActor),
		errors.Is(err, ErrOwnDeal):
		return true
	default:
		return false
	}
}
