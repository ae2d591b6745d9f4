// Package outbox persists event intent alongside business state and drains
// it to Kafka with per-row backoff, a circuit breaker, and dynamic batching.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Status is the lifecycle state of an outbox row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// SchemaMode controls whether the store creates its own table.
type SchemaMode string

const (
	// SchemaEmbedded creates the table only when the connected database
	// looks like a disposable embedded/test instance.
	SchemaEmbedded SchemaMode = "EMBEDDED"
	// SchemaAlways runs CREATE IF NOT EXISTS on startup.
	SchemaAlways SchemaMode = "ALWAYS"
	// SchemaNever leaves schema management to the operator.
	SchemaNever SchemaMode = "NEVER"
)

// ErrMissingAggregate reports an outbox write without aggregate coordinates.
// It surfaces to the caller before any row is written.
var ErrMissingAggregate = errors.New("outbox: aggregate type and id must not be blank")

const errorMessageLimit = 500

// Event is one outbox row.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	OccurredAt    time.Time
	Status        Status
	RetryCount    int
	PublishedAt   *time.Time
	ErrorMessage  string
	NextRetryAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// NewPending builds a PENDING row eligible for immediate pickup.
func NewPending(eventID, aggregateType, aggregateID, eventType string, payload []byte, now time.Time) Event {
	return Event{
		EventID:       eventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		OccurredAt:    now,
		Status:        StatusPending,
		NextRetryAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StoreConfig tunes the Store.
type StoreConfig struct {
	// MaxRetries is the retry ceiling after which a row becomes FAILED.
	MaxRetries int
	SchemaMode SchemaMode
}

// Store is the pgx-backed outbox repository.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	schemaMode SchemaMode
	logger     *zap.Logger
}

// NewStore builds a Store.
func NewStore(pool *pgxpool.Pool, cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.SchemaMode == "" {
		cfg.SchemaMode = SchemaNever
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, maxRetries: cfg.MaxRetries, schemaMode: cfg.SchemaMode, logger: logger}
}

// MaxRetries is the configured retry ceiling.
func (s *Store) MaxRetries() int { return s.maxRetries }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS curve_outbox_events (
    event_id       VARCHAR(64)  PRIMARY KEY,
    aggregate_type VARCHAR(100) NOT NULL,
    aggregate_id   VARCHAR(100) NOT NULL,
    event_type     VARCHAR(100) NOT NULL,
    payload        TEXT         NOT NULL,
    occurred_at    TIMESTAMPTZ  NOT NULL,
    status         VARCHAR(20)  NOT NULL,
    retry_count    INT          NOT NULL DEFAULT 0,
    published_at   TIMESTAMPTZ  NULL,
    error_message  VARCHAR(500) NULL,
    next_retry_at  TIMESTAMPTZ  NULL,
    created_at     TIMESTAMPTZ  NOT NULL,
    updated_at     TIMESTAMPTZ  NOT NULL,
    version        BIGINT       NULL
);
CREATE INDEX IF NOT EXISTS idx_curve_outbox_status        ON curve_outbox_events (status);
CREATE INDEX IF NOT EXISTS idx_curve_outbox_aggregate     ON curve_outbox_events (aggregate_type, aggregate_id);
CREATE INDEX IF NOT EXISTS idx_curve_outbox_occurred_at   ON curve_outbox_events (occurred_at);
CREATE INDEX IF NOT EXISTS idx_curve_outbox_next_retry_at ON curve_outbox_events (next_retry_at);
`

// InitSchema creates the outbox table per the configured mode.
func (s *Store) InitSchema(ctx context.Context) error {
	switch s.schemaMode {
	case SchemaNever:
		return nil
	case SchemaEmbedded:
		if !s.looksEmbedded(ctx) {
			s.logger.Info("schema mode EMBEDDED and database is not embedded, skipping table creation")
			return nil
		}
	}
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("outbox: schema init failed: %w", err)
	}
	return nil
}

// looksEmbedded treats a database without a replication peer and with a
// test-ish name as embedded. Heuristic only; operators who care pin ALWAYS
// or NEVER.
func (s *Store) looksEmbedded(ctx context.Context) bool {
	var name string
	if err := s.pool.QueryRow(ctx, `SELECT current_database()`).Scan(&name); err != nil {
		return false
	}
	name = strings.ToLower(name)
	return strings.Contains(name, "test") || strings.Contains(name, "local") || strings.Contains(name, "embedded")
}

// Add inserts a PENDING row inside the caller's transaction. The row only
// becomes visible to the poller after the caller commits, which is the whole
// point: event intent and business state land atomically.
func (s *Store) Add(ctx context.Context, tx pgx.Tx, ev Event) error {
	if strings.TrimSpace(ev.AggregateType) == "" || strings.TrimSpace(ev.AggregateID) == "" {
		return ErrMissingAggregate
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO curve_outbox_events
            (event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
             status, retry_count, next_retry_at, created_at, updated_at, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9, 0)`,
		ev.EventID, ev.AggregateType, ev.AggregateID, ev.EventType, string(ev.Payload),
		ev.OccurredAt, string(StatusPending), ev.NextRetryAt, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("outbox: insert failed: %w", err)
	}
	return nil
}

// CountPending returns the number of PENDING rows, used for dynamic batch
// sizing.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM curve_outbox_events WHERE status = $1`, string(StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox: pending count failed: %w", err)
	}
	return n, nil
}

// BeginBatch opens a transaction and claims up to limit due PENDING rows
// with FOR UPDATE SKIP LOCKED, so concurrent pollers never see the same row.
// The returned batch must be committed or rolled back.
func (s *Store) BeginBatch(ctx context.Context, limit int) (EventBatch, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("outbox: begin failed: %w", err)
	}

	rows, err := tx.Query(ctx, `
        SELECT event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
               status, retry_count, published_at, error_message, next_retry_at,
               created_at, updated_at, version
        FROM curve_outbox_events
        WHERE status = $1 AND next_retry_at <= NOW()
        ORDER BY occurred_at ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED`, string(StatusPending), limit)
	if err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("outbox: claim failed: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload string
		var errMsg *string
		if err := rows.Scan(&ev.EventID, &ev.AggregateType, &ev.AggregateID, &ev.EventType,
			&payload, &ev.OccurredAt, &ev.Status, &ev.RetryCount, &ev.PublishedAt,
			&errMsg, &ev.NextRetryAt, &ev.CreatedAt, &ev.UpdatedAt, &ev.Version); err != nil {
			tx.Rollback(ctx)
			return nil, fmt.Errorf("outbox: scan failed: %w", err)
		}
		ev.Payload = []byte(payload)
		if errMsg != nil {
			ev.ErrorMessage = *errMsg
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("outbox: claim iteration failed: %w", err)
	}

	return &pgxBatch{tx: tx, events: events, maxRetries: s.maxRetries}, nil
}

// DeletePublishedBefore removes up to limit PUBLISHED rows older than
// cutoff and reports how many went away.
func (s *Store) DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM curve_outbox_events
        WHERE event_id IN (
            SELECT event_id FROM curve_outbox_events
            WHERE status = $1 AND occurred_at < $2
            LIMIT $3
        )`, string(StatusPublished), cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("outbox: cleanup delete failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// pgxBatch is one claimed batch and the transaction holding its row locks.
type pgxBatch struct {
	tx         pgx.Tx
	events     []Event
	maxRetries int
}

func (b *pgxBatch) Events() []Event { return b.events }

func (b *pgxBatch) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	_, err := b.tx.Exec(ctx, `
        UPDATE curve_outbox_events
        SET status = $2, published_at = $3, updated_at = $3,
            version = COALESCE(version, 0) + 1
        WHERE event_id = $1`,
		eventID, string(StatusPublished), at)
	if err != nil {
		return fmt.Errorf("outbox: mark published failed: %w", err)
	}
	return nil
}

// ScheduleRetry bumps the retry count and pushes next_retry_at out by
// 2^retryCount seconds. Once the ceiling is hit the row flips to FAILED and
// is never claimed again.
func (b *pgxBatch) ScheduleRetry(ctx context.Context, ev Event, cause error, at time.Time) error {
	retryCount := ev.RetryCount + 1
	status := StatusPending
	if retryCount >= b.maxRetries {
		status = StatusFailed
	}
	delay := time.Duration(math.Pow(2, float64(retryCount))) * time.Second

	_, err := b.tx.Exec(ctx, `
        UPDATE curve_outbox_events
        SET retry_count = $2, status = $3, next_retry_at = $4, updated_at = $5,
            error_message = $6, version = COALESCE(version, 0) + 1
        WHERE event_id = $1`,
		ev.EventID, retryCount, string(status), at.Add(delay), at, truncateError(cause))
	if err != nil {
		return fmt.Errorf("outbox: schedule retry failed: %w", err)
	}
	return nil
}

func (b *pgxBatch) Commit(ctx context.Context) error   { return b.tx.Commit(ctx) }
func (b *pgxBatch) Rollback(ctx context.Context) error { return b.tx.Rollback(ctx) }

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > errorMessageLimit {
		return msg[:errorMessageLimit]
	}
	return msg
}
