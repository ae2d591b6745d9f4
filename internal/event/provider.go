package event

import (
	"os"

	"github.com/google/uuid"
)

// Context providers supply the per-envelope metadata pieces. The publisher
// queries them on every publish call so implementations may return
// request-scoped values.
type (
	SourceProvider interface {
		EventSource() Source
	}
	ActorProvider interface {
		EventActor() Actor
	}
	TraceProvider interface {
		EventTrace() Trace
	}
	SchemaProvider interface {
		EventSchema(payload Payload) SchemaRef
	}
	TagsProvider interface {
		EventTags() map[string]string
	}
)

// StaticProviders returns the same metadata for every event, with a fresh
// instance id per process. It is the default wiring for services that do not
// carry request-scoped actor or trace context.
type StaticProviders struct {
	Source Source
	Actor  Actor
	Trace  Trace
	Tags   map[string]string
}

// NewStaticProviders stamps service identity onto a StaticProviders value,
// deriving host from the OS and instance id from a random UUID.
func NewStaticProviders(service, environment, version string) *StaticProviders {
	host, _ := os.Hostname()
	return &StaticProviders{
		Source: Source{
			Service:     service,
			Environment: environment,
			InstanceID:  uuid.NewString(),
			Host:        host,
			Version:     version,
		},
	}
}

func (p *StaticProviders) EventSource() Source { return p.Source }
func (p *StaticProviders) EventActor() Actor   { return p.Actor }
func (p *StaticProviders) EventTrace() Trace   { return p.Trace }

// EventSchema derives the schema reference from the payload's type tag at
// version 1. Services with versioned payloads install a registry-backed
// provider instead.
func (p *StaticProviders) EventSchema(payload Payload) SchemaRef {
	return SchemaRef{Name: payload.EventType(), Version: 1}
}

func (p *StaticProviders) EventTags() map[string]string { return p.Tags }
