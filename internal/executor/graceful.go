// Package executor provides a worker pool with a deterministic
// drain-on-shutdown, used for work that must not run on broker I/O
// goroutines, such as DLQ fallback from async publish callbacks.
package executor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrShuttingDown is returned by Submit once shutdown has begun.
	ErrShuttingDown = errors.New("executor: shutting down")
	// ErrQueueFull is returned by Submit when the task queue is saturated.
	ErrQueueFull = errors.New("executor: queue full")
)

// Graceful runs submitted tasks on a fixed pool of goroutines and drains
// deterministically on shutdown: in-flight and queued tasks get a grace
// period, then the remainder is discarded.
type Graceful struct {
	name    string
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	shutdown bool
	tasks    chan func()

	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	discarded atomic.Int64
}

// NewGraceful starts a pool of workers goroutines with the given queue
// capacity. The termination timeout bounds Shutdown.
func NewGraceful(name string, workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Graceful {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graceful{
		name:    name,
		logger:  logger.With(zap.String("executor", name)),
		timeout: timeout,
		tasks:   make(chan func(), queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go g.worker(&wg)
	}
	go func() {
		wg.Wait()
		close(g.done)
	}()
	return g
}

func (g *Graceful) worker(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-g.quit:
			return
		case task, ok := <-g.tasks:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit enqueues a task. It never blocks: a saturated queue yields
// ErrQueueFull, and after shutdown it yields ErrShuttingDown.
func (g *Graceful) Submit(task func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.shutdown {
		return ErrShuttingDown
	}
	select {
	case g.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits up to the termination timeout for
// queued and in-flight work to finish, then force-stops the workers and
// discards whatever remains. Repeated calls are safe and wait again.
func (g *Graceful) Shutdown() {
	g.closeQueue()

	select {
	case <-g.done:
	case <-time.After(g.timeout):
		remaining := len(g.tasks)
		g.discarded.Add(int64(remaining))
		g.quitOnce.Do(func() { close(g.quit) })
		g.logger.Warn("termination timeout elapsed, discarding queued tasks",
			zap.Int("discarded", remaining))
		<-g.done
	}
}

// ShutdownNow stops the pool without draining and returns the tasks that
// never started.
func (g *Graceful) ShutdownNow() []func() {
	g.closeQueue()
	g.quitOnce.Do(func() { close(g.quit) })
	<-g.done

	var queued []func()
	for task := range g.tasks {
		queued = append(queued, task)
	}
	return queued
}

// Discarded returns the number of tasks dropped during a forced shutdown.
func (g *Graceful) Discarded() int64 { return g.discarded.Load() }

func (g *Graceful) closeQueue() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.shutdown {
		g.shutdown = true
		close(g.tasks)
	}
}
