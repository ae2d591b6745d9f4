//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestStoreAddAndClaim(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	ev := seedEvent(t, ctx, store, pool, "order.created")

	batch, err := store.BeginBatch(ctx, 10)
	require.NoError(t, err)
	defer batch.Rollback(ctx)

	events := batch.Events()
	require.Len(t, events, 1)
	require.Equal(t, ev.EventID, events[0].EventID)
	require.Equal(t, StatusPending, events[0].Status)
	require.JSONEq(t, `{"k":"v"}`, string(events[0].Payload))
}

func TestStoreSkipLockedHidesClaimedRows(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	seedEvent(t, ctx, store, pool, "order.created")

	first, err := store.BeginBatch(ctx, 10)
	require.NoError(t, err)
	defer first.Rollback(ctx)
	require.Len(t, first.Events(), 1)

	// The row is locked by the first batch, so a concurrent claim sees nothing.
	second, err := store.BeginBatch(ctx, 10)
	require.NoError(t, err)
	defer second.Rollback(ctx)
	require.Empty(t, second.Events())
}

func TestStoreMarkPublished(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	ev := seedEvent(t, ctx, store, pool, "order.created")

	batch, err := store.BeginBatch(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, batch.MarkPublished(ctx, ev.EventID, time.Now().UTC()))
	require.NoError(t, batch.Commit(ctx))

	var status string
	var version int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, version FROM curve_outbox_events WHERE event_id = $1`, ev.EventID).
		Scan(&status, &version))
	require.Equal(t, string(StatusPublished), status)
	require.Equal(t, int64(1), version)

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestStoreRetryBackoffAndExhaustion(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	ev := seedEvent(t, ctx, store, pool, "order.created")
	cause := errors.New("broker unavailable")

	for attempt := 1; attempt <= store.MaxRetries(); attempt++ {
		// Make the row due again regardless of the scheduled backoff.
		_, err := pool.Exec(ctx,
			`UPDATE curve_outbox_events SET next_retry_at = NOW() - INTERVAL '1 hour' WHERE event_id = $1`,
			ev.EventID)
		require.NoError(t, err)

		batch, err := store.BeginBatch(ctx, 10)
		require.NoError(t, err)
		events := batch.Events()
		require.Len(t, events, 1)
		require.Equal(t, attempt-1, events[0].RetryCount)
		require.NoError(t, batch.ScheduleRetry(ctx, events[0], cause, time.Now().UTC()))
		require.NoError(t, batch.Commit(ctx))
	}

	// The final ScheduleRetry crossed the ceiling: the row is FAILED and no
	// longer claimable even when due.
	_, err := pool.Exec(ctx,
		`UPDATE curve_outbox_events SET next_retry_at = NOW() - INTERVAL '1 hour' WHERE event_id = $1`,
		ev.EventID)
	require.NoError(t, err)

	batch, err := store.BeginBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch.Events())
	require.NoError(t, batch.Rollback(ctx))

	var status, errMsg string
	var retryCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT status, retry_count, error_message FROM curve_outbox_events WHERE event_id = $1`, ev.EventID).
		Scan(&status, &retryCount, &errMsg))
	require.Equal(t, string(StatusFailed), status)
	require.Equal(t, store.MaxRetries(), retryCount)
	require.Equal(t, "broker unavailable", errMsg)
}

func TestStoreRejectsBlankAggregate(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	ev := NewPending(uuid.NewString(), "", "", "order.created", []byte(`{}`), time.Now().UTC())
	require.ErrorIs(t, store.Add(ctx, tx, ev), ErrMissingAggregate)
}

func TestStoreRowInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)

	ev := NewPending(uuid.NewString(), "order", "order-1", "order.created", []byte(`{}`), time.Now().UTC())
	require.NoError(t, store.Add(ctx, tx, ev))

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending)

	require.NoError(t, tx.Commit(ctx))

	pending, err = store.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, pending)
}

func TestStoreCleanupDeletesOldPublishedRows(t *testing.T) {
	ctx := context.Background()
	store, pool, cleanup := setupStore(t, ctx)
	defer cleanup()

	old := time.Now().UTC().AddDate(0, 0, -30)
	_, err := pool.Exec(ctx, `
        INSERT INTO curve_outbox_events
            (event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at,
             status, retry_count, published_at, next_retry_at, created_at, updated_at, version)
        VALUES ($1, 'order', 'order-1', 'order.created', '{}', $2, $3, 0, $2, $2, $2, $2, 1)`,
		uuid.NewString(), old, string(StatusPublished))
	require.NoError(t, err)

	seedEvent(t, ctx, store, pool, "order.created")

	cleaner := NewCleaner(store, CleanerConfig{RetentionDays: 7}, nil)
	require.NoError(t, cleaner.RunOnce(ctx))

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM curve_outbox_events`).Scan(&remaining))
	require.Equal(t, 1, remaining)
}

func setupStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("curve"),
		postgrescontainer.WithUsername("curve"),
		postgrescontainer.WithPassword("curve"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	store := NewStore(pool, StoreConfig{MaxRetries: 5, SchemaMode: SchemaAlways}, nil)
	require.NoError(t, store.InitSchema(ctx))

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return store, pool, cleanup
}

func seedEvent(t *testing.T, ctx context.Context, store *Store, pool *pgxpool.Pool, eventType string) Event {
	t.Helper()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	require.NoError(t, err)

	ev := NewPending(uuid.NewString(), "order", "order-1", eventType, []byte(`{"k":"v"}`), time.Now().UTC())
	require.NoError(t, store.Add(ctx, tx, ev))
	require.NoError(t, tx.Commit(ctx))
	return ev
}
