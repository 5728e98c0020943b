// Package feeder produces synthetic decoded buffers for one stream and hands
// them to a renderer, standing in for a decode pipeline. It bounds how many
// buffers are outstanding the way a decoder with a fixed output pool would.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zsiec/avsync/media"
)

// ErrInvalidConfig is returned by New for a config that cannot produce a
// stream.
var ErrInvalidConfig = errors.New("feeder: invalid config")

// Target is the subset of renderer.Renderer the feeder drives. Accepting an
// interface here keeps the feeder testable with stubs.
type Target interface {
	QueueBuffer(kind media.StreamKind, buf *media.TimedBuffer)
	QueueEOS(kind media.StreamKind, result error)
}

// Config describes the stream to synthesize.
type Config struct {
	Kind media.StreamKind
	// Interval is the media-time spacing between buffers.
	Interval time.Duration
	Count    int
	StartUs  int64
	// JitterUs perturbs each timestamp by up to ±JitterUs, producing the
	// mild reordering real decoders exhibit.
	JitterUs    int64
	PayloadSize int
	// MaxInFlight bounds buffers handed over but not yet released.
	MaxInFlight int64
	Seed        uint64
}

// Stats holds the feeder's counters.
type Stats struct {
	Produced int64 `json:"produced"`
	Consumed int64 `json:"consumed"`
	Rendered int64 `json:"rendered"`
}

// Feeder generates one stream's buffers.
type Feeder struct {
	log    *slog.Logger
	cfg    Config
	target Target
	sem    *semaphore.Weighted
	rng    *rand.Rand

	produced atomic.Int64
	consumed atomic.Int64
	rendered atomic.Int64
}

// New creates a Feeder that queues buffers on target. If log is nil,
// slog.Default() is used.
func New(cfg Config, target Target, log *slog.Logger) (*Feeder, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown stream kind %d", ErrInvalidConfig, int(cfg.Kind))
	}
	if cfg.Interval <= 0 || cfg.Count < 0 || cfg.PayloadSize < 0 || cfg.JitterUs < 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidConfig, cfg)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Feeder{
		log:    log.With("component", "feeder", "stream", cfg.Kind),
		cfg:    cfg,
		target: target,
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		rng:    rand.New(rand.NewPCG(cfg.Seed, uint64(cfg.Kind))),
	}, nil
}

// Run queues Count buffers followed by an end-of-stream marker, then waits
// until every buffer has been released. It blocks while MaxInFlight buffers
// are outstanding and returns early with ctx's error if ctx ends.
func (f *Feeder) Run(ctx context.Context) error {
	f.log.Debug("feeder started", "count", f.cfg.Count, "interval", f.cfg.Interval)

	for i := range f.cfg.Count {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("feed %s buffer %d: %w", f.cfg.Kind, i, err)
		}
		f.target.QueueBuffer(f.cfg.Kind, f.buffer(i))
		f.produced.Add(1)
	}
	f.target.QueueEOS(f.cfg.Kind, media.ErrEndOfStream)

	if err := f.sem.Acquire(ctx, f.cfg.MaxInFlight); err != nil {
		return fmt.Errorf("wait for %s release: %w", f.cfg.Kind, err)
	}
	f.sem.Release(f.cfg.MaxInFlight)

	st := f.Stats()
	f.log.Debug("feeder finished", "produced", st.Produced, "rendered", st.Rendered)
	return nil
}

// buffer builds the i-th buffer. Payload bytes encode i so sinks can check
// ordering.
func (f *Feeder) buffer(i int) *media.TimedBuffer {
	ts := f.cfg.StartUs + int64(i)*f.cfg.Interval.Microseconds()
	if f.cfg.JitterUs > 0 {
		ts += f.rng.Int64N(2*f.cfg.JitterUs+1) - f.cfg.JitterUs
	}

	data := make([]byte, f.cfg.PayloadSize)
	for j := range data {
		data[j] = byte(i)
	}
	return media.NewTimedBuffer(data, ts, f.onConsumed)
}

func (f *Feeder) onConsumed(render bool) {
	f.consumed.Add(1)
	if render {
		f.rendered.Add(1)
	}
	f.sem.Release(1)
}

// Stats returns the feeder's counters.
func (f *Feeder) Stats() Stats {
	return Stats{
		Produced: f.produced.Load(),
		Consumed: f.consumed.Load(),
		Rendered: f.rendered.Load(),
	}
}
