// Package serde turns envelopes into wire bytes. JSON is the default codec;
// the redaction layer runs inside serialization so sensitive fields are
// transformed before any byte leaves the process.
package serde

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/curvehq/curve-events/internal/event"
	"github.com/curvehq/curve-events/internal/redact"
)

// SerializationError reports an envelope that could not be serialized.
// Redaction crypto failures keep their own type and are not wrapped into it.
type SerializationError struct {
	EventType string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serde: failed to serialize %s envelope: %v", e.EventType, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// Serializer renders an envelope to bytes.
type Serializer interface {
	Serialize(env *event.Envelope) ([]byte, error)
}

// JSON serializes envelopes to the stable JSON wire format, applying the
// configured redactor to the payload first.
type JSON struct {
	redactor *redact.Redactor
}

// NewJSON builds a JSON serializer. A nil redactor disables redaction
// entirely, which is only appropriate for payloads without tagged fields.
func NewJSON(redactor *redact.Redactor) *JSON {
	return &JSON{redactor: redactor}
}

// Serialize implements Serializer. A *redact.CryptoError from the redaction
// layer propagates unchanged; every other failure becomes a
// *SerializationError.
func (s *JSON) Serialize(env *event.Envelope) ([]byte, error) {
	if env == nil {
		return nil, &SerializationError{Cause: errors.New("nil envelope")}
	}

	payload := env.Payload
	if s.redactor != nil {
		transformed, err := s.redactor.Apply(env.Payload)
		if err != nil {
			var cryptoErr *redact.CryptoError
			if errors.As(err, &cryptoErr) {
				return nil, err
			}
			return nil, &SerializationError{EventType: env.EventType.Value, Cause: err}
		}
		payload = transformed
	}

	shadow := *env
	shadow.Payload = payload
	data, err := json.Marshal(&shadow)
	if err != nil {
		return nil, &SerializationError{EventType: env.EventType.Value, Cause: err}
	}
	return data, nil
}
