// Package snowflake generates 64-bit time-sorted unique ids:
// sign(1) | milliseconds since custom epoch(41) | worker id(10) | sequence(12).
package snowflake

import (
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curvehq/curve-events/internal/clock"
	"github.com/curvehq/curve-events/internal/event"
)

const (
	// epochMillis is 2024-01-01T00:00:00Z. The 41-bit timestamp field is
	// good for ~69 years past it.
	epochMillis int64 = 1704067200000

	workerBits   = 10
	sequenceBits = 12

	// MaxWorkerID is the largest valid worker id.
	MaxWorkerID = int64(-1) ^ (int64(-1) << workerBits)

	maxSequence = int64(-1) ^ (int64(-1) << sequenceBits)

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits

	// maxRegression is the largest backward clock step the generator waits
	// out. Anything larger fails immediately.
	maxRegression = 100 * time.Millisecond

	// spinBudget caps the cumulative wait while riding out a regression.
	spinBudget = 5 * time.Second
)

// ClockMovedBackwardsError reports an aborted id generation after a backward
// clock step that was too large or lasted too long.
type ClockMovedBackwardsError struct {
	LastTimestamp    int64 // milliseconds since the unix epoch
	CurrentTimestamp int64
}

func (e *ClockMovedBackwardsError) Error() string {
	return fmt.Sprintf("snowflake: clock moved backwards: last=%dms now=%dms diff=%dms",
		e.LastTimestamp, e.CurrentTimestamp, e.LastTimestamp-e.CurrentTimestamp)
}

// Generator produces strictly increasing ids within one process. Safe for
// concurrent use.
type Generator struct {
	mu       sync.Mutex
	clock    clock.Clock
	logger   *zap.Logger
	workerID int64
	lastTS   int64 // unix milliseconds of the previous id
	sequence int64
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock substitutes the time source, used by tests to drive regressions.
func WithClock(c clock.Clock) Option { return func(g *Generator) { g.clock = c } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option { return func(g *Generator) { g.logger = l } }

// New builds a Generator for the given worker id.
func New(workerID int64, opts ...Option) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("snowflake: worker id %d out of range [0,%d]", workerID, MaxWorkerID)
	}
	g := &Generator{clock: clock.System(), logger: zap.NewNop(), workerID: workerID, lastTS: -1}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NewAutoWorker derives the worker id from a stable host identifier: the
// first MAC address when available, the hostname otherwise. Collisions across
// hosts silently produce duplicate ids and are the operator's responsibility.
func NewAutoWorker(opts ...Option) (*Generator, error) {
	return New(deriveWorkerID(), opts...)
}

func deriveWorkerID() int64 {
	h := fnv.New32a()
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) > 0 {
				h.Write(iface.HardwareAddr)
				return int64(h.Sum32()) & MaxWorkerID
			}
		}
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	h.Write([]byte(host))
	return int64(h.Sum32()) & MaxWorkerID
}

// WorkerID returns the configured worker id.
func (g *Generator) WorkerID() int64 { return g.workerID }

// Generate returns the next id. Ids are strictly increasing for the lifetime
// of the generator.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowMillis()
	if now < g.lastTS {
		waited, err := g.waitForClock(now)
		if err != nil {
			return 0, err
		}
		now = waited
	}

	if now == g.lastTS {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now = g.nextMillis(now)
		}
	} else {
		g.sequence = 0
	}
	g.lastTS = now

	return (now-epochMillis)<<timestampShift | g.workerID<<workerShift | g.sequence, nil
}

// GenerateID renders the next id as an event id.
func (g *Generator) GenerateID() (event.ID, error) {
	v, err := g.Generate()
	if err != nil {
		return event.ID{}, err
	}
	return event.ID{Value: strconv.FormatInt(v, 10)}, nil
}

// waitForClock rides out a small regression with exponential backoff, failing
// once the step exceeds maxRegression or the cumulative wait exceeds the
// budget.
func (g *Generator) waitForClock(now int64) (int64, error) {
	delta := time.Duration(g.lastTS-now) * time.Millisecond
	if delta > maxRegression {
		return 0, &ClockMovedBackwardsError{LastTimestamp: g.lastTS, CurrentTimestamp: now}
	}
	g.logger.Warn("clock moved backwards, waiting for it to catch up",
		zap.Int64("last_ms", g.lastTS), zap.Int64("now_ms", now), zap.Duration("delta", delta))

	wait := time.Millisecond
	var total time.Duration
	for now < g.lastTS {
		if total > spinBudget {
			return 0, &ClockMovedBackwardsError{LastTimestamp: g.lastTS, CurrentTimestamp: now}
		}
		time.Sleep(wait)
		total += wait
		wait *= 2
		if wait > maxRegression {
			wait = maxRegression
		}
		now = g.nowMillis()
	}
	return now, nil
}

// nextMillis busy-waits for the clock to pass ts after a sequence overflow.
func (g *Generator) nextMillis(ts int64) int64 {
	now := g.nowMillis()
	for now <= ts {
		now = g.nowMillis()
	}
	return now
}

func (g *Generator) nowMillis() int64 { return g.clock.Now().UnixMilli() }
