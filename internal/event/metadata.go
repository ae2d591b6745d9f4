package event

import (
	"fmt"
	"strings"
)

// Source identifies the process that emitted an event, plus its position in
// an event chain.
type Source struct {
	Service     string `json:"service"`
	Environment string `json:"environment,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
	Host        string `json:"host,omitempty"`
	Version     string `json:"version,omitempty"`

	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
	RootEventID   string `json:"rootEventId,omitempty"`
}

// NewSource builds a Source. Service is the only required field.
func NewSource(service string) (Source, error) {
	if strings.TrimSpace(service) == "" {
		return Source{}, fmt.Errorf("event: source service must not be blank")
	}
	return Source{Service: service}, nil
}

// IsRootEvent reports whether the event has no cause, i.e. it starts a chain.
func (s Source) IsRootEvent() bool { return strings.TrimSpace(s.CausationID) == "" }

// ChainDepth is 0 for events outside any chain, 1 for chain roots, and 2 for
// children of another event.
func (s Source) ChainDepth() int {
	if strings.TrimSpace(s.CorrelationID) == "" {
		return 0
	}
	if s.IsRootEvent() {
		return 1
	}
	return 2
}

// Actor describes who triggered the event. Construction is permissive; all
// fields may be empty.
type Actor struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	IP   string `json:"ip,omitempty"`
}

// Trace carries distributed tracing coordinates. All fields optional.
type Trace struct {
	TraceID       string `json:"traceId,omitempty"`
	SpanID        string `json:"spanId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// SchemaRef names the payload schema an envelope was written against.
type SchemaRef struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	SchemaID string `json:"schemaId,omitempty"`
}

// NewSchemaRef validates name and version.
func NewSchemaRef(name string, version int) (SchemaRef, error) {
	if strings.TrimSpace(name) == "" {
		return SchemaRef{}, fmt.Errorf("event: schema name must not be blank")
	}
	if version < 1 {
		return SchemaRef{}, fmt.Errorf("event: schema version must be >= 1, got %d", version)
	}
	return SchemaRef{Name: name, Version: version}, nil
}

// Key renders the registry key, "{name}:v{version}".
func (r SchemaRef) Key() string { return fmt.Sprintf("%s:v%d", r.Name, r.Version) }

// Metadata aggregates the contextual attributes of an envelope. The tag map
// is copied on construction so later mutation of the caller's map does not
// leak into stored state.
type Metadata struct {
	Source Source            `json:"source"`
	Actor  Actor             `json:"actor"`
	Trace  Trace             `json:"trace"`
	Schema SchemaRef         `json:"schema"`
	Tags   map[string]string `json:"tags"`
}

// NewMetadata assembles Metadata. A nil tags map becomes an empty map.
func NewMetadata(source Source, actor Actor, trace Trace, schema SchemaRef, tags map[string]string) Metadata {
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	return Metadata{Source: source, Actor: actor, Trace: trace, Schema: schema, Tags: copied}
}
