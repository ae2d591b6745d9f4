package event

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeIDs struct{ next int64 }

func (f *fakeIDs) GenerateID() (ID, error) {
	f.next++
	return ID{Value: strconv.FormatInt(f.next, 10)}, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestFactoryAssemblesEnvelope(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	providers := NewStaticProviders("orders", "prod", "1.4.0")
	providers.Tags = map[string]string{"team": "checkout"}

	factory := NewFactory(&fakeIDs{}, fixedClock{t: now}, providers, providers, providers, providers, providers)

	env, err := factory.Envelope(orderCreated{OrderID: "O-1"}, SeverityWarn)
	require.NoError(t, err)

	require.Equal(t, "1", env.EventID.Value)
	require.Equal(t, "order.created", env.EventType.Value)
	require.Equal(t, SeverityWarn, env.Severity)
	require.Equal(t, "orders", env.Metadata.Source.Service)
	require.Equal(t, "prod", env.Metadata.Source.Environment)
	require.NotEmpty(t, env.Metadata.Source.InstanceID)
	require.Equal(t, "order.created", env.Metadata.Schema.Name)
	require.Equal(t, 1, env.Metadata.Schema.Version)
	require.Equal(t, "checkout", env.Metadata.Tags["team"])
	require.Equal(t, now, env.OccurredAt)
	require.Equal(t, now, env.PublishedAt)
}

func TestFactoryStampsFreshIDs(t *testing.T) {
	providers := NewStaticProviders("orders", "dev", "0.0.1")
	factory := NewFactory(&fakeIDs{}, fixedClock{t: time.Now().UTC()}, providers, providers, providers, providers, providers)

	a, err := factory.Envelope(orderCreated{OrderID: "O-1"}, SeverityInfo)
	require.NoError(t, err)
	b, err := factory.Envelope(orderCreated{OrderID: "O-2"}, SeverityInfo)
	require.NoError(t, err)
	require.NotEqual(t, a.EventID, b.EventID)
}
