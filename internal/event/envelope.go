package event

import (
	"fmt"
	"time"
)

// ConstructionError reports a missing required envelope field. It is distinct
// from ValidationError: construction errors mean the caller never produced a
// complete envelope, validation errors mean a complete envelope breaks an
// invariant.
type ConstructionError struct {
	Field string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("event: envelope field %q is required", e.Field)
}

// ValidationError reports an envelope that violates a cross-field invariant.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: invalid envelope: %s", e.Reason)
}

// Envelope is the immutable record carrying one event across the wire.
type Envelope struct {
	EventID     ID        `json:"eventId"`
	EventType   Type      `json:"eventType"`
	Severity    Severity  `json:"severity"`
	Metadata    Metadata  `json:"metadata"`
	Payload     any       `json:"payload"`
	OccurredAt  time.Time `json:"occurredAt"`
	PublishedAt time.Time `json:"publishedAt"`
}

// NewEnvelope constructs an Envelope, failing with *ConstructionError if any
// of the seven fields is missing. It does not check cross-field invariants;
// see Validate.
func NewEnvelope(id ID, typ Type, sev Severity, meta Metadata, payload any, occurredAt, publishedAt time.Time) (*Envelope, error) {
	switch {
	case id.IsZero():
		return nil, &ConstructionError{Field: "eventId"}
	case typ.IsZero():
		return nil, &ConstructionError{Field: "eventType"}
	case !sev.Valid():
		return nil, &ConstructionError{Field: "severity"}
	case meta.Tags == nil:
		return nil, &ConstructionError{Field: "metadata"}
	case payload == nil:
		return nil, &ConstructionError{Field: "payload"}
	case occurredAt.IsZero():
		return nil, &ConstructionError{Field: "occurredAt"}
	case publishedAt.IsZero():
		return nil, &ConstructionError{Field: "publishedAt"}
	}
	return &Envelope{
		EventID:     id,
		EventType:   typ,
		Severity:    sev,
		Metadata:    meta,
		Payload:     payload,
		OccurredAt:  occurredAt.UTC(),
		PublishedAt: publishedAt.UTC(),
	}, nil
}

// Validate enforces the envelope invariant occurredAt <= publishedAt.
func Validate(env *Envelope) error {
	if env == nil {
		return &ValidationError{Reason: "nil envelope"}
	}
	if env.OccurredAt.After(env.PublishedAt) {
		return &ValidationError{Reason: fmt.Sprintf(
			"occurredAt %s is after publishedAt %s",
			env.OccurredAt.Format(time.RFC3339Nano), env.PublishedAt.Format(time.RFC3339Nano))}
	}
	return nil
}
