package event

import (
	"github.com/curvehq/curve-events/internal/clock"
)

// IDSource yields unique event ids.
type IDSource interface {
	GenerateID() (ID, error)
}

// Factory assembles envelopes from payloads and the configured context
// providers. It stamps occurredAt and publishedAt from the injected clock;
// publishedAt is restamped by the pipeline just before the broker send.
type Factory struct {
	ids    IDSource
	clock  clock.Clock
	source SourceProvider
	actor  ActorProvider
	trace  TraceProvider
	schema SchemaProvider
	tags   TagsProvider
}

// NewFactory wires a Factory. All providers must be non-nil; StaticProviders
// satisfies every provider interface.
func NewFactory(ids IDSource, clk clock.Clock, source SourceProvider, actor ActorProvider, trace TraceProvider, schema SchemaProvider, tags TagsProvider) *Factory {
	if clk == nil {
		clk = clock.System()
	}
	return &Factory{ids: ids, clock: clk, source: source, actor: actor, trace: trace, schema: schema, tags: tags}
}

// Envelope builds a validated envelope for payload at the given severity.
func (f *Factory) Envelope(payload Payload, sev Severity) (*Envelope, error) {
	id, err := f.ids.GenerateID()
	if err != nil {
		return nil, err
	}

	meta := NewMetadata(
		f.source.EventSource(),
		f.actor.EventActor(),
		f.trace.EventTrace(),
		f.schema.EventSchema(payload),
		f.tags.EventTags(),
	)

	now := f.clock.Now()
	env, err := NewEnvelope(id, Type{Value: payload.EventType()}, sev, meta, payload, now, now)
	if err != nil {
		return nil, err
	}
	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}
