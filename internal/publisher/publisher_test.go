package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/curvehq/curve-events/internal/clock"
	"github.com/curvehq/curve-events/internal/event"
	"github.com/curvehq/curve-events/internal/executor"
	"github.com/curvehq/curve-events/internal/metrics"
	"github.com/curvehq/curve-events/internal/redact"
	"github.com/curvehq/curve-events/internal/serde"
	"github.com/curvehq/curve-events/internal/snowflake"
)

type write struct {
	topic    string
	messages []kafka.Message
}

// scriptedProducer fails a configurable number of times per topic before
// succeeding, and records every attempt.
type scriptedProducer struct {
	mu       sync.Mutex
	failures map[string]int
	failWith error
	writes   []write
}

func (p *scriptedProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, write{topic: topic, messages: msgs})
	if remaining := p.failures[topic]; remaining != 0 {
		if remaining > 0 {
			p.failures[topic] = remaining - 1
		}
		if p.failWith != nil {
			return p.failWith
		}
		return kafka.RequestTimedOut
	}
	return nil
}

func (p *scriptedProducer) attempts(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.writes {
		if w.topic == topic {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu        sync.Mutex
	published []struct {
		eventType string
		success   bool
	}
	dlq     []string
	retries []int
}

func (s *recordingSink) Published(eventType string, success bool, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, struct {
		eventType string
		success   bool
	}{eventType, success})
}

func (s *recordingSink) DLQEvent(eventType, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlq = append(s.dlq, eventType)
}

func (s *recordingSink) Retry(_ string, attempt int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries = append(s.retries, attempt)
}

func (s *recordingSink) BrokerError(string) {}

type orderPlaced struct {
	OrderID string `json:"orderId"`
}

func (orderPlaced) EventType() string { return "order.placed" }

func newFactory(t *testing.T) *event.Factory {
	t.Helper()
	gen, err := snowflake.New(1)
	require.NoError(t, err)
	providers := event.NewStaticProviders("orders", "test", "0.1.0")
	return event.NewFactory(gen, clock.System(), providers, providers, providers, providers, providers)
}

func newSerializer(t *testing.T) serde.Serializer {
	t.Helper()
	r, err := redact.New(redact.Config{Salt: "s"})
	require.NoError(t, err)
	return serde.NewJSON(r)
}

func newPublisher(t *testing.T, cfg Config, producer *scriptedProducer, sink metrics.Sink) *Publisher {
	t.Helper()
	exec := executor.NewGraceful("publisher-test", 2, 16, time.Second, nil)
	t.Cleanup(exec.Shutdown)
	p, err := New(cfg, newFactory(t), newSerializer(t), producer, exec, sink, nil)
	require.NoError(t, err)
	return p
}

func TestPublishHappyPath(t *testing.T) {
	producer := &scriptedProducer{}
	sink := &recordingSink{}
	p := newPublisher(t, Config{Topic: "orders"}, producer, sink)

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-1"}))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "orders", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	msg := producer.writes[0].messages[0]
	require.NotEmpty(t, msg.Key, "record key carries the event id")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, string(msg.Key), decoded["eventId"].(map[string]any)["value"])
	require.Equal(t, "INFO", decoded["severity"])
	require.Contains(t, string(msg.Value), "O-1")

	require.Len(t, sink.published, 1)
	require.Equal(t, "order.placed", sink.published[0].eventType)
	require.True(t, sink.published[0].success)
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	producer := &scriptedProducer{failures: map[string]int{"orders": 1}}
	sink := &recordingSink{}
	p := newPublisher(t, Config{
		Topic: "orders",
		Retry: RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxInterval: 10 * time.Millisecond},
	}, producer, sink)

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-2"}))

	require.Equal(t, 2, producer.attempts("orders"))
	require.Len(t, sink.published, 1)
	require.True(t, sink.published[0].success)
	require.NotEmpty(t, sink.retries)
}

func TestPublishFallsBackToDLQ(t *testing.T) {
	producer := &scriptedProducer{failures: map[string]int{"orders": -1}}
	sink := &recordingSink{}
	p := newPublisher(t, Config{
		Topic:    "orders",
		DLQTopic: "orders.dlq",
		Retry:    RetryConfig{Enabled: true, MaxAttempts: 2, InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxInterval: 5 * time.Millisecond},
	}, producer, sink)

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-3"}))

	require.Equal(t, 2, producer.attempts("orders"), "initial attempt plus one retry")
	require.Equal(t, 1, producer.attempts("orders.dlq"), "single DLQ attempt")
	require.Equal(t, []string{"order.placed"}, sink.dlq)

	// key stays identical across targets
	var mainKey, dlqKey string
	for _, w := range producer.writes {
		switch w.topic {
		case "orders":
			mainKey = string(w.messages[0].Key)
		case "orders.dlq":
			dlqKey = string(w.messages[0].Key)
		}
	}
	require.Equal(t, mainKey, dlqKey)
}

func TestPublishPermanentErrorSkipsRetry(t *testing.T) {
	producer := &scriptedProducer{
		failures: map[string]int{"orders": -1},
		failWith: kafka.MessageSizeTooLarge,
	}
	sink := &recordingSink{}
	p := newPublisher(t, Config{
		Topic:    "orders",
		DLQTopic: "orders.dlq",
		Retry:    RetryConfig{Enabled: true, MaxAttempts: 5, InitialInterval: 5 * time.Millisecond, Multiplier: 1, MaxInterval: 5 * time.Millisecond},
	}, producer, sink)

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-4"}))

	require.Equal(t, 1, producer.attempts("orders"), "permanent errors are not retried")
	require.Equal(t, 1, producer.attempts("orders.dlq"))
}

func TestPublishWritesBackupWhenAllTopicsFail(t *testing.T) {
	dir := t.TempDir()
	producer := &scriptedProducer{failures: map[string]int{"orders": -1, "orders.dlq": -1}}
	p := newPublisher(t, Config{
		Topic:     "orders",
		DLQTopic:  "orders.dlq",
		BackupDir: dir,
	}, producer, &recordingSink{})

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-5"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	path := filepath.Join(dir, entries[0].Name())
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, entries[0].Name(), env["eventId"].(map[string]any)["value"].(string)+".json")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestPublishSerializationFailureMakesNoBrokerCall(t *testing.T) {
	producer := &scriptedProducer{}
	p := newPublisher(t, Config{Topic: "orders"}, producer, &recordingSink{})

	_, err := newSerializer(t).Serialize(nil) // sanity: serializer rejects nil
	require.Error(t, err)

	err = p.Publish(context.Background(), badPayload{})
	var serr *serde.SerializationError
	require.ErrorAs(t, err, &serr)
	require.Empty(t, producer.writes)
}

type badPayload struct {
	Ch chan int `json:"ch"`
}

func (badPayload) EventType() string { return "bad.payload" }

func TestPublishAfterCloseRejected(t *testing.T) {
	p := newPublisher(t, Config{Topic: "orders"}, &scriptedProducer{}, &recordingSink{})
	p.Close()
	require.ErrorIs(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-6"}), ErrShuttingDown)
}

func TestPublishAsyncReturnsImmediately(t *testing.T) {
	producer := &scriptedProducer{}
	sink := &recordingSink{}
	exec := executor.NewGraceful("async-test", 1, 8, time.Second, nil)
	p, err := New(Config{Topic: "orders", Async: true}, newFactory(t), newSerializer(t), producer, exec, sink, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), orderPlaced{OrderID: "O-7"}))

	// draining the executor guarantees the dispatch ran
	exec.Shutdown()
	require.Equal(t, 1, producer.attempts("orders"))
	require.Len(t, sink.published, 1)
	require.True(t, sink.published[0].success)
}

func TestPublishNilPayloadRejected(t *testing.T) {
	p := newPublisher(t, Config{Topic: "orders"}, &scriptedProducer{}, &recordingSink{})
	require.ErrorIs(t, p.Publish(context.Background(), nil), ErrNilPayload)
}

func TestAsyncTimeoutInheritsSyncTimeout(t *testing.T) {
	cfg := Config{Topic: "orders", SyncTimeout: 3 * time.Second}.withDefaults()
	require.Equal(t, 3*time.Second, cfg.AsyncTimeout)

	cfg = Config{Topic: "orders", SyncTimeout: 3 * time.Second, AsyncTimeout: time.Second}.withDefaults()
	require.Equal(t, time.Second, cfg.AsyncTimeout)
	require.Equal(t, 3*time.Second, cfg.SyncTimeout)
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(Config{}, newFactory(t), newSerializer(t), &scriptedProducer{}, nil, nil, nil)
	require.Error(t, err)
}

func TestIsTransientClassification(t *testing.T) {
	require.True(t, IsTransient(kafka.RequestTimedOut))
	require.True(t, IsTransient(kafka.NotLeaderForPartition))
	require.True(t, IsTransient(kafka.BrokerNotAvailable))
	require.True(t, IsTransient(kafka.LeaderNotAvailable))
	require.False(t, IsTransient(kafka.MessageSizeTooLarge))
	require.False(t, IsTransient(kafka.TopicAuthorizationFailed))
	require.False(t, IsTransient(kafka.InvalidTopic))
	require.True(t, IsTransient(errors.New("dial tcp: connection refused")))
}
