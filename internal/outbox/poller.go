package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/curvehq/curve-events/internal/observability"
)

// Storage is what the poller needs from the outbox repository.
type Storage interface {
	CountPending(ctx context.Context) (int, error)
	BeginBatch(ctx context.Context, limit int) (EventBatch, error)
}

// EventBatch is a claimed set of rows plus the transaction locking them.
type EventBatch interface {
	Events() []Event
	MarkPublished(ctx context.Context, eventID string, at time.Time) error
	ScheduleRetry(ctx context.Context, ev Event, cause error, at time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// PollerConfig tunes the drain loop.
type PollerConfig struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	SendTimeout  time.Duration
	// BreakerOpenDuration is how long the breaker stays OPEN before
	// admitting a half-open probe.
	BreakerOpenDuration time.Duration
	// BreakerFailureThreshold is the consecutive-failure count that trips
	// the breaker.
	BreakerFailureThreshold uint32
}

func (c *PollerConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.BreakerOpenDuration <= 0 {
		c.BreakerOpenDuration = 60 * time.Second
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
}

// Poller drains due PENDING rows to Kafka on a fixed interval. A circuit
// breaker stops it from hammering a broker that is down, and the batch size
// adapts to the current backlog.
type Poller struct {
	store            Storage
	producer         messageWriter
	breaker          *gobreaker.CircuitBreaker
	cfg              PollerConfig
	logger           *zap.Logger
	shutdownComplete chan struct{}
}

// NewPoller constructs a Poller.
func NewPoller(store Storage, producer messageWriter, cfg PollerConfig, logger *zap.Logger) *Poller {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		store:            store,
		producer:         producer,
		cfg:              cfg,
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "outbox-broker",
		Timeout: cfg.BreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("outbox breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return p
}

// Start launches the polling loop. It should be called in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(p.shutdownComplete)
	}()

	for {
		if err := p.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("outbox poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the polling loop has exited.
func (p *Poller) Wait() {
	<-p.shutdownComplete
}

func (p *Poller) tick(ctx context.Context) error {
	if p.breaker.State() == gobreaker.StateOpen {
		breakerOpenCounter.Inc()
		return nil
	}

	pending, err := p.store.CountPending(ctx)
	if err != nil {
		return err
	}
	pendingGauge.Set(float64(pending))
	if pending == 0 {
		return nil
	}

	limit := effectiveBatchSize(p.cfg.BatchSize, pending)
	batchSizeGauge.Set(float64(limit))

	start := time.Now()
	batch, err := p.store.BeginBatch(ctx, limit)
	if err != nil {
		return err
	}
	events := batch.Events()
	if len(events) == 0 {
		return batch.Rollback(ctx)
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	for _, ev := range events {
		if err := p.publish(ctx, ev); err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// The breaker rejected the send before it reached the broker.
				// The remaining rows have not spent a retry attempt; leave
				// them PENDING for a later tick.
				p.logger.Warn("breaker rejected batch remainder",
					zap.String("event_id", ev.EventID))
				break
			}
			now := time.Now().UTC()
			if rerr := batch.ScheduleRetry(ctx, ev, err, now); rerr != nil {
				batch.Rollback(ctx)
				return rerr
			}
			retriedCounter.Inc()
			if ev.RetryCount+1 >= storeMaxRetries(p.store) {
				exhaustedCounter.Inc()
				p.logger.Error("outbox event exhausted retries",
					zap.String("event_id", ev.EventID),
					zap.String("event_type", ev.EventType),
					zap.Error(err))
			}
			continue
		}
		publishedAt := time.Now().UTC()
		if err := batch.MarkPublished(ctx, ev.EventID, publishedAt); err != nil {
			batch.Rollback(ctx)
			return err
		}
		publishedCounter.Inc()
		observability.RecordEventPublished(publishedAt)
	}

	return batch.Commit(ctx)
}

func (p *Poller) publish(ctx context.Context, ev Event) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
		defer cancel()
		msg := kafka.Message{
			Key:   []byte(ev.EventID),
			Value: ev.Payload,
			Headers: []kafka.Header{
				{Key: "eventType", Value: []byte(ev.EventType)},
				{Key: "aggregateType", Value: []byte(ev.AggregateType)},
				{Key: "aggregateId", Value: []byte(ev.AggregateID)},
			},
		}
		return nil, p.producer.WriteMessages(sendCtx, p.cfg.Topic, msg)
	})
	if err != nil {
		return fmt.Errorf("outbox: publish %s failed: %w", ev.EventID, err)
	}
	return nil
}

// effectiveBatchSize grows the batch under backlog pressure and shrinks it
// when the queue is nearly empty.
func effectiveBatchSize(base, pending int) int {
	switch {
	case pending > 1000:
		return min(base*2, 500)
	case pending > 500:
		return min(base*3/2, 300)
	case pending < 10:
		return min(base, 10)
	default:
		return base
	}
}

// storeMaxRetries lets the poller log exhaustion without duplicating the
// ceiling configuration. Fakes in tests may not carry one.
func storeMaxRetries(s Storage) int {
	type withMaxRetries interface{ MaxRetries() int }
	if m, ok := s.(withMaxRetries); ok {
		return m.MaxRetries()
	}
	return 5
}
