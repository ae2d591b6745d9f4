// Package publisher implements the event publishing pipeline: envelope
// assembly, serialization with redaction, broker dispatch with retry, and
// the dead-letter and file-backup fallbacks.
package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/curvehq/curve-events/internal/broker"
	"github.com/curvehq/curve-events/internal/clock"
	"github.com/curvehq/curve-events/internal/event"
	"github.com/curvehq/curve-events/internal/executor"
	"github.com/curvehq/curve-events/internal/metrics"
	"github.com/curvehq/curve-events/internal/serde"
)

// RetryConfig tunes the exponential backoff applied to transient broker
// failures on the main topic.
type RetryConfig struct {
	Enabled         bool
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// Config wires a Publisher.
type Config struct {
	Topic    string
	DLQTopic string
	// Async makes Publish return immediately; dispatch then runs on the
	// graceful executor.
	Async       bool
	SyncTimeout time.Duration
	// AsyncTimeout bounds a dispatch running on the executor. Zero inherits
	// SyncTimeout.
	AsyncTimeout time.Duration
	// BackupDir receives envelope bytes when both the main topic and the
	// DLQ are unreachable.
	BackupDir string
	Retry     RetryConfig
}

func (c Config) withDefaults() Config {
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 10 * time.Second
	}
	if c.AsyncTimeout <= 0 {
		c.AsyncTimeout = c.SyncTimeout
	}
	if c.BackupDir == "" {
		c.BackupDir = "./dlq-backup"
	}
	if c.Retry.Enabled {
		if c.Retry.MaxAttempts < 1 {
			c.Retry.MaxAttempts = 3
		}
		if c.Retry.InitialInterval <= 0 {
			c.Retry.InitialInterval = 100 * time.Millisecond
		}
		if c.Retry.Multiplier < 1 {
			c.Retry.Multiplier = 2
		}
		if c.Retry.MaxInterval <= 0 {
			c.Retry.MaxInterval = 2 * time.Second
		}
	}
	return c
}

// Publisher turns payloads into broker records. A publish call terminates in
// exactly one of three states: main-topic success, DLQ success, or a file
// backup attempt. The same event id travels to whichever target wins, so
// consumers can dedupe.
type Publisher struct {
	cfg        Config
	factory    *event.Factory
	serializer serde.Serializer
	producer   broker.Producer
	executor   *executor.Graceful
	sink       metrics.Sink
	clock      clock.Clock
	logger     *zap.Logger
	closed     atomic.Bool
}

// New wires a Publisher. The executor is required in async mode and for
// non-blocking DLQ fallback; sink and logger may be nil.
func New(cfg Config, factory *event.Factory, serializer serde.Serializer, producer broker.Producer, exec *executor.Graceful, sink metrics.Sink, logger *zap.Logger) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publisher: topic must not be blank")
	}
	if cfg.Async && exec == nil {
		return nil, fmt.Errorf("publisher: async mode requires an executor")
	}
	if sink == nil {
		sink = metrics.Noop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:        cfg.withDefaults(),
		factory:    factory,
		serializer: serializer,
		producer:   producer,
		executor:   exec,
		sink:       sink,
		clock:      clock.System(),
		logger:     logger,
	}, nil
}

// Publish sends payload at INFO severity.
func (p *Publisher) Publish(ctx context.Context, payload event.Payload) error {
	return p.PublishWithSeverity(ctx, payload, event.SeverityInfo)
}

// PublishWithSeverity assembles, serializes, and dispatches one event. It
// returns an error for construction, validation, serialization, and crypto
// failures, and for publishes after Close; transient broker failures are
// absorbed by the retry/DLQ/backup chain and never surface.
func (p *Publisher) PublishWithSeverity(ctx context.Context, payload event.Payload, sev event.Severity) error {
	if p.closed.Load() {
		return ErrShuttingDown
	}
	if payload == nil {
		return ErrNilPayload
	}
	if !sev.Valid() {
		return fmt.Errorf("publisher: unknown severity %q", sev)
	}

	env, err := p.factory.Envelope(payload, sev)
	if err != nil {
		return err
	}
	// Restamp just before the send so publishedAt reflects dispatch time.
	env.PublishedAt = p.clock.Now()
	if err := event.Validate(env); err != nil {
		return err
	}

	data, err := p.serializer.Serialize(env)
	if err != nil {
		return err
	}

	if p.cfg.Async {
		if submitErr := p.executor.Submit(func() {
			dispatchCtx, cancel := context.WithTimeout(context.Background(), p.cfg.AsyncTimeout)
			defer cancel()
			p.dispatch(dispatchCtx, env, data)
		}); submitErr != nil {
			// The pool is saturated or draining; keep the terminal-state
			// invariant by falling through to the backup file.
			p.logger.Warn("async dispatch rejected, writing backup",
				zap.String("event_id", env.EventID.Value), zap.Error(submitErr))
			p.backup(env, data)
		}
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.cfg.SyncTimeout)
	defer cancel()
	p.dispatch(dispatchCtx, env, data)
	return nil
}

// Close rejects further publishes and drains in-flight async dispatches.
func (p *Publisher) Close() {
	if p.closed.Swap(true) {
		return
	}
	if p.executor != nil {
		p.executor.Shutdown()
	}
}

// dispatch drives one event to its terminal state.
func (p *Publisher) dispatch(ctx context.Context, env *event.Envelope, data []byte) {
	eventType := env.EventType.Value
	start := time.Now()

	sendErr := p.sendWithRetry(ctx, env, data)
	if sendErr == nil {
		p.sink.Published(eventType, true, time.Since(start))
		return
	}

	p.sink.Published(eventType, false, time.Since(start))
	p.sink.BrokerError(errorClass(sendErr))
	p.logger.Warn("main topic send failed",
		zap.String("event_id", env.EventID.Value),
		zap.String("event_type", eventType),
		zap.String("topic", p.cfg.Topic),
		zap.Error(sendErr))

	if p.cfg.DLQTopic != "" {
		// Single attempt, never recursive.
		dlqCtx, cancel := context.WithTimeout(context.Background(), p.cfg.SyncTimeout)
		err := p.producer.WriteMessages(dlqCtx, p.cfg.DLQTopic, p.record(env, data))
		cancel()
		if err == nil {
			p.sink.DLQEvent(eventType, errorClass(sendErr))
			return
		}
		p.sink.BrokerError(errorClass(err))
		p.logger.Error("dlq send failed",
			zap.String("event_id", env.EventID.Value),
			zap.String("topic", p.cfg.DLQTopic),
			zap.Error(err))
	}

	p.backup(env, data)
}

func (p *Publisher) sendWithRetry(ctx context.Context, env *event.Envelope, data []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		err := p.producer.WriteMessages(ctx, p.cfg.Topic, p.record(env, data))
		if err == nil {
			if attempt > 1 {
				p.sink.Retry(env.EventType.Value, attempt, "success")
			}
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		p.sink.Retry(env.EventType.Value, attempt, "failure")
		return err
	}

	if !p.cfg.Retry.Enabled {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.Retry.InitialInterval
	policy.Multiplier = p.cfg.Retry.Multiplier
	policy.MaxInterval = p.cfg.Retry.MaxInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.cfg.Retry.MaxAttempts-1)), ctx))
}

func (p *Publisher) record(env *event.Envelope, data []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(env.EventID.Value),
		Value: data,
		Time:  p.clock.Now(),
	}
}

// backup writes envelope bytes to the local backup directory with owner-only
// permissions. Failures are logged, never surfaced: backup is the last link
// in the chain.
func (p *Publisher) backup(env *event.Envelope, data []byte) {
	if err := os.MkdirAll(p.cfg.BackupDir, 0o700); err != nil {
		p.logger.Error("backup directory creation failed",
			zap.String("event_id", env.EventID.Value), zap.Error(err))
		return
	}
	path := filepath.Join(p.cfg.BackupDir, env.EventID.Value+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		p.logger.Error("backup write failed",
			zap.String("event_id", env.EventID.Value),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	p.logger.Info("event backed up to disk",
		zap.String("event_id", env.EventID.Value),
		zap.String("path", path))
}
