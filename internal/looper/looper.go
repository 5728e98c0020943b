// Package looper provides a single-threaded cooperative task executor.
// Tasks posted from any goroutine run one at a time, in post order, on the
// goroutine that calls Run. Delayed tasks join the queue when their timer
// fires, so a late wakeup only shifts when a task runs, never its ordering
// relative to tasks posted after it fired.
package looper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Looper serializes tasks onto one goroutine.
type Looper struct {
	log   *slog.Logger
	clock clock.WithDelayedExecution

	mu    sync.Mutex
	tasks []func()
	state state
	wake  chan struct{}

	// stopped is closed when Run returns.
	stopped chan struct{}
}

// New creates a Looper driven by clk. If clk is nil the real clock is used;
// if log is nil, slog.Default() is used.
func New(clk clock.WithDelayedExecution, log *slog.Logger) *Looper {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Looper{
		log:     log.With("component", "looper"),
		clock:   clk,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post appends fn to the task queue. It returns false, discarding fn, once
// Run has returned. Tasks posted before Run starts are kept.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	if l.state == stateStopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// PostDelayed posts fn after d has elapsed on the looper's clock. A
// non-positive delay posts immediately. The return value reports whether
// the looper was still accepting work when the request was made.
func (l *Looper) PostDelayed(d time.Duration, fn func()) bool {
	if d <= 0 {
		return l.Post(fn)
	}
	if l.Stopped() {
		return false
	}
	// The timer callback must not touch the clock: fake clocks fire
	// callbacks while holding their own lock.
	l.clock.AfterFunc(d, func() {
		l.Post(fn)
	})
	return true
}

// Stopped reports whether Run has returned.
func (l *Looper) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateStopped
}

// Pending returns the number of tasks waiting to run.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run executes tasks until ctx is cancelled. Tasks still queued when ctx
// ends are discarded. Run may only be called once.
func (l *Looper) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.state != stateIdle {
		l.mu.Unlock()
		return ErrAlreadyRun
	}
	l.state = stateRunning
	l.mu.Unlock()

	l.log.Debug("looper started")
	defer func() {
		l.mu.Lock()
		dropped := len(l.tasks)
		l.tasks = nil
		l.state = stateStopped
		l.mu.Unlock()
		close(l.stopped)
		l.log.Debug("looper stopped", "dropped_tasks", dropped)
	}()

	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for i, fn := range batch {
			if ctx.Err() != nil {
				l.requeue(batch[i:])
				return nil
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// requeue puts unrun tasks back at the head of the queue so the deferred
// accounting in Run sees them.
func (l *Looper) requeue(rest []func()) {
	l.mu.Lock()
	l.tasks = append(rest[:len(rest):len(rest)], l.tasks...)
	l.mu.Unlock()
}

// Sync blocks until every task posted before the call has run. It returns
// ErrStopped if the looper stops first and ctx.Err() if ctx ends first.
func (l *Looper) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// The marker may have run just before Run returned.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
