package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	dealdomain "github.com/smallbiznis/dealbridge/internal/deal/domain"
	escrowdomain "github.com/smallbiznis/dealbridge/internal/escrow/domain"
	paymentdomain "github.com/smallbiznis/dealbridge/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/dealbridge/internal/payout/domain"
)

var ErrNotFound = errors.New("not_found")

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code }

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Field: field, Message: message}
}

// AbortWithError translates domain errors into the HTTP envelope. Unmapped
// errors become 500s with an opaque message.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, gin.H{"error": api})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	switch {
	case errors.Is(err, dealdomain.ErrNotFound), errors.Is(err, ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, dealdomain.ErrStateConflict):
		status, code, message = http.StatusConflict, "state_conflict", "deal is not in a state that allows this operation"
	case errors.Is(err, dealdomain.ErrNotDealBuyer),
		errors.Is(err, dealdomain.ErrNotDealCardholder):
		status, code, message = http.StatusForbidden, "forbidden", "caller does not own this side of the deal"
	case dealdomain.ValidationError(err):
		status, code, message = http.StatusBadRequest, err.Error(), "invalid request"
	case errors.Is(err, payoutdomain.ErrProfileNotFound):
		status, code, message = http.StatusNotFound, "payout_profile_not_found", "no payout method on file"
	case errors.Is(err, payoutdomain.ErrInvalidMethod),
		errors.Is(err, payoutdomain.ErrInvalidVPA),
		errors.Is(err, payoutdomain.ErrInvalidAccount),
		errors.Is(err, payoutdomain.ErrInvalidIFSC),
		errors.Is(err, payoutdomain.ErrInvalidHolderName):
		status, code, message = http.StatusBadRequest, err.Error(), "invalid payout method"
	case errors.Is(err, escrowdomain.ErrSignature),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		status, code, message = http.StatusUnauthorized, "invalid_signature", "signature verification failed"
	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		status, code, message = http.StatusBadRequest, "invalid_webhook", "malformed webhook delivery"
	case errors.Is(err, escrowdomain.ErrGateway):
		status, code, message = http.StatusBadGateway, "gateway_error", "payment gateway is unavailable"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": &apiError{Status: status, Code: code, Message: message}})
}
