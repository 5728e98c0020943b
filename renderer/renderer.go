package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/zsiec/avsync/internal/looper"
	"github.com/zsiec/avsync/media"
	"github.com/zsiec/avsync/sink"
)

// Options configures a Renderer. Sink is required; every other field has a
// usable zero value.
type Options struct {
	Sink     sink.AudioSink
	Listener Listener
	Config   Config
	// Clock drives pacing. Tests substitute a fake clock.
	Clock  clock.WithDelayedExecution
	Logger *slog.Logger
}

// Renderer paces one audio and one video stream against a shared anchor
// point. Public methods are safe for concurrent use and never block on the
// worker; the worker runs inside Run.
type Renderer struct {
	id       string
	log      *slog.Logger
	cfg      Config
	clock    clock.WithDelayedExecution
	epoch    time.Time
	sink     sink.AudioSink
	listener Listener
	loop     *looper.Looper
	counters *counters

	// mu guards the queues, the flushing flags, paused and inbound. It is
	// never held across sink I/O or buffer callbacks.
	mu            sync.Mutex
	audioQueue    queue
	videoQueue    queue
	flushingAudio bool
	flushingVideo bool
	paused        bool
	// inbound holds buffers accepted by QueueBuffer whose enqueue task has
	// not run yet, so they can be released if the worker stops first.
	inbound map[*media.TimedBuffer]struct{}

	// Worker state. Touched only from the looper goroutine.
	audioGeneration       int64
	videoGeneration       int64
	drainAudioPending     bool
	drainVideoPending     bool
	anchor                anchor
	hasAudio              bool
	hasVideo              bool
	audioEnded            bool
	syncing               bool
	videoRenderingStarted bool
	lastPositionUs        int64
	videoLateByUs         int64
	framesWritten         int64
	partialBytes          int
}

// New creates a Renderer. Call Run to start the worker; requests made
// before Run are queued and processed in order once it starts.
func New(opts Options) (*Renderer, error) {
	if opts.Sink == nil {
		return nil, ErrSinkRequired
	}
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new renderer: %w", err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	listener := opts.Listener
	if listener == nil {
		listener = NopListener{}
	}

	id := uuid.NewString()
	log = log.With("component", "renderer", "session", id)

	r := &Renderer{
		id:             id,
		log:            log,
		cfg:            cfg,
		clock:          clk,
		epoch:          clk.Now(),
		sink:           opts.Sink,
		listener:       listener,
		loop:           looper.New(clk, log),
		counters:       newCounters(),
		inbound:        make(map[*media.TimedBuffer]struct{}),
		anchor:         newAnchor(),
		lastPositionUs: -1,
	}
	if n, err := opts.Sink.FramesWritten(); err == nil {
		r.framesWritten = n
		r.counters.framesWritten.Store(n)
	}
	return r, nil
}

// ID returns the renderer's unique session identifier.
func (r *Renderer) ID() string {
	return r.id
}

// Config returns the effective thresholds after defaults were applied.
func (r *Renderer) Config() Config {
	return r.cfg
}

// Run processes requests until ctx is cancelled. When it returns, every
// buffer still held by the renderer is released with render=false and
// later QueueBuffer calls release their buffer immediately.
func (r *Renderer) Run(ctx context.Context) error {
	r.log.Info("renderer started")
	err := r.loop.Run(ctx)
	r.releaseAll()
	r.log.Info("renderer stopped")
	if err != nil {
		return fmt.Errorf("run renderer: %w", err)
	}
	return nil
}

// QueueBuffer hands buf to the renderer. Its OnConsumed callback fires
// exactly once: when it is written or displayed, dropped, flushed, or
// discarded at shutdown. A buffer queued while its stream is flushing is
// released immediately with render=false.
func (r *Renderer) QueueBuffer(kind media.StreamKind, buf *media.TimedBuffer) {
	mustKind(kind)
	if buf == nil {
		panic("renderer: QueueBuffer with nil buffer")
	}

	r.mu.Lock()
	if *r.flushingFlagLocked(kind) {
		r.mu.Unlock()
		r.counters.stream(kind).flushed.Add(1)
		buf.Release(false)
		return
	}
	r.inbound[buf] = struct{}{}
	r.mu.Unlock()

	if !r.loop.Post(func() { r.onQueueBuffer(kind, buf) }) {
		r.takeInbound(buf)
		buf.Release(false)
	}
}

// QueueEOS appends an end-of-stream marker carrying result. result must be
// non-nil; media.ErrEndOfStream is the conventional value for a normal end.
func (r *Renderer) QueueEOS(kind media.StreamKind, result error) {
	mustKind(kind)
	if result == nil {
		panic("renderer: QueueEOS requires a non-nil result")
	}

	r.mu.Lock()
	flushing := *r.flushingFlagLocked(kind)
	r.mu.Unlock()
	if flushing {
		return
	}
	r.loop.Post(func() { r.onQueueEOS(kind, result) })
}

// Flush discards everything queued for kind. The caller is notified with
// OnFlushComplete; buffers queued while the flush is outstanding are
// rejected. A second Flush before the first completes is ignored.
func (r *Renderer) Flush(kind media.StreamKind) {
	mustKind(kind)

	r.mu.Lock()
	flag := r.flushingFlagLocked(kind)
	if *flag {
		r.mu.Unlock()
		return
	}
	*flag = true
	r.mu.Unlock()

	if !r.loop.Post(func() { r.onFlush(kind) }) {
		r.mu.Lock()
		*flag = false
		r.mu.Unlock()
	}
}

// Pause stops rendering and pauses the audio sink. Queued data is kept.
func (r *Renderer) Pause() {
	r.loop.Post(r.onPause)
}

// Resume restarts rendering after Pause.
func (r *Renderer) Resume() {
	r.loop.Post(r.onResume)
}

// SignalTimeDiscontinuity discards all queued data, resets the anchor point
// and re-arms the startup gate when both streams are present.
func (r *Renderer) SignalTimeDiscontinuity() {
	r.loop.Post(r.onTimeDiscontinuity)
}

// SignalAudioSinkChanged tells the renderer the audio device was reopened
// or replaced, so its written-frame count must be re-read.
func (r *Renderer) SignalAudioSinkChanged() {
	r.loop.Post(r.onAudioSinkChanged)
}

// Paused reports whether the renderer is paused.
func (r *Renderer) Paused() bool {
	return r.isPaused()
}

// Flushing reports whether a flush of kind is outstanding.
func (r *Renderer) Flushing(kind media.StreamKind) bool {
	mustKind(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.flushingFlagLocked(kind)
}

// QueueDepth returns the number of entries queued for kind, including an
// end-of-stream marker.
func (r *Renderer) QueueDepth(kind media.StreamKind) int {
	mustKind(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueLocked(kind).len()
}

// nowUs is the worker's monotonic time base in microseconds.
func (r *Renderer) nowUs() int64 {
	return r.clock.Since(r.epoch).Microseconds()
}

func (r *Renderer) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Renderer) queueLocked(kind media.StreamKind) *queue {
	if kind == media.StreamAudio {
		return &r.audioQueue
	}
	return &r.videoQueue
}

func (r *Renderer) flushingFlagLocked(kind media.StreamKind) *bool {
	if kind == media.StreamAudio {
		return &r.flushingAudio
	}
	return &r.flushingVideo
}

func (r *Renderer) generation(kind media.StreamKind) int64 {
	if kind == media.StreamAudio {
		return r.audioGeneration
	}
	return r.videoGeneration
}

func (r *Renderer) takeInbound(buf *media.TimedBuffer) {
	r.mu.Lock()
	delete(r.inbound, buf)
	r.mu.Unlock()
}

// releaseAll returns every buffer still held to its producer. It runs after
// the worker has stopped.
func (r *Renderer) releaseAll() {
	r.mu.Lock()
	entries := append(r.audioQueue.takeAll(), r.videoQueue.takeAll()...)
	inbound := r.inbound
	r.inbound = make(map[*media.TimedBuffer]struct{})
	r.mu.Unlock()

	released := 0
	for _, e := range entries {
		if !e.isEOS() && e.buf.Release(false) {
			released++
		}
	}
	for buf := range inbound {
		if buf.Release(false) {
			released++
		}
	}
	if released > 0 {
		r.log.Debug("released buffers at shutdown", "count", released)
	}
}
