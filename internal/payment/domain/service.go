package domain

import (
	"context"
	"errors"
)

// Service ingests gateway webhooks and reconciles deal state with what the
// gateway reports. Ingest is idempotent: replaying a delivery, or receiving
// an event the client flow already applied, changes nothing.
type Service interface {
	IngestWebhook(ctx context.Context, eventID string, payload []byte, signature string) error
}

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
