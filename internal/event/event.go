// Package event defines the envelope carried for every published domain
// event: identifiers, metadata, severity, and the invariants enforced at
// construction and validation time.
package event

import "strings"

// ID uniquely identifies one event. The value is the decimal rendering of a
// 64-bit time-sorted identifier.
type ID struct {
	Value string `json:"value"`
}

// IsZero reports whether the id is blank.
func (id ID) IsZero() bool { return strings.TrimSpace(id.Value) == "" }

// Type names the kind of domain event, e.g. "order.created".
type Type struct {
	Value string `json:"value"`
}

// IsZero reports whether the type is blank.
func (t Type) IsZero() bool { return strings.TrimSpace(t.Value) == "" }

// Payload is implemented by every domain event payload.
type Payload interface {
	EventType() string
}

// Severity classifies how urgent an event is for consumers.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}
