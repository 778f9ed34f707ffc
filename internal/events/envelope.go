package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrMalformedMessage marks a message that can never be processed; consumers
// drop it instead of requeueing.
var ErrMalformedMessage = errors.New("malformed message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventEnvelope represents the common envelope for all events.
// It is generic to allow strongly typed payloads per event.
type EventEnvelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	Sequence      *int64    `json:"sequence,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

// EnvelopeMetadata carries correlation/causation context for emitted events.
type EnvelopeMetadata struct {
	CorrelationID string
	CausationID   string
}

func newEnvelope[T any](name string, version int, schema, producer, partitionKey string, seq int64, meta EnvelopeMetadata, payload T, occurredAt time.Time) EventEnvelope[T] {
	id := uuid.NewString()
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = id
	}
	return EventEnvelope[T]{
		EventName:     name,
		EventVersion:  version,
		EventID:       id,
		CorrelationID: correlationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  partitionKey,
		Sequence:      &seq,
		OccurredAt:    occurredAt,
		Schema:        schema,
		Payload:       payload,
	}
}

// Validate ensures the envelope carries the expected event identity and a
// well-formed payload.
func (e EventEnvelope[T]) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("%w: unexpected eventName %q", ErrMalformedMessage, e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("%w: unexpected eventVersion %d", ErrMalformedMessage, e.EventVersion)
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("%w: invalid eventId %q", ErrMalformedMessage, e.EventID)
	}
	if err := validate.Struct(e.Payload); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, expectedName, err)
	}
	return nil
}
