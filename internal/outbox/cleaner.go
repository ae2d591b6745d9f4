package outbox

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/curvehq/curve-events/internal/observability"
)

const cleanerChunkSize = 1000

// CleanerConfig tunes retention of PUBLISHED rows.
type CleanerConfig struct {
	// Schedule is a six-field cron spec. Defaults to 02:00 daily.
	Schedule      string
	RetentionDays int
}

func (c *CleanerConfig) withDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 0 2 * * *"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
}

// Cleaner deletes PUBLISHED rows past the retention window on a cron
// schedule, in bounded chunks so a large backlog never holds long locks.
type Cleaner struct {
	store  *Store
	cfg    CleanerConfig
	cron   *cron.Cron
	logger *zap.Logger
}

// NewCleaner constructs a Cleaner.
func NewCleaner(store *Store, cfg CleanerConfig, logger *zap.Logger) *Cleaner {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start registers the schedule and begins running. Returns an error only for
// an invalid cron spec.
func (c *Cleaner) Start(ctx context.Context) error {
	_, err := c.cron.AddFunc(c.cfg.Schedule, func() {
		if err := c.RunOnce(ctx); err != nil {
			c.logger.Error("outbox cleanup failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
}

// RunOnce deletes eligible rows in chunks until fewer than a full chunk
// remains.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -c.cfg.RetentionDays)
	var total int64
	for {
		n, err := c.store.DeletePublishedBefore(ctx, cutoff, cleanerChunkSize)
		if err != nil {
			return err
		}
		total += n
		if n < cleanerChunkSize {
			break
		}
	}
	if total > 0 {
		cleanedCounter.Add(float64(total))
		c.logger.Info("outbox cleanup complete",
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff))
	}
	observability.RecordCleanupRun(time.Now().UTC())
	return nil
}
