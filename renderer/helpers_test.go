package renderer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/zsiec/avsync/media"
	"github.com/zsiec/avsync/sink"
)

// fakeSink is an audio device whose playout only advances when a test says
// so. One frame is 4 bytes and lasts 1ms.
type fakeSink struct {
	mu           sync.Mutex
	frameCount   int
	latency      time.Duration
	writtenBytes int64
	played       int64
	data         []byte
	positionErr  error
	starts       int
	pauses       int
}

var _ sink.AudioSink = (*fakeSink)(nil)

const fakeFrameSize = 4

func newFakeSink(frameCount int) *fakeSink {
	return &fakeSink{frameCount: frameCount}
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.writtenBytes/fakeFrameSize - s.played
	free := (int64(s.frameCount)-queued)*fakeFrameSize - s.writtenBytes%fakeFrameSize
	n := int64(len(p))
	if n > free {
		n = free
	}
	if n <= 0 {
		return 0, nil
	}
	s.data = append(s.data, p[:n]...)
	s.writtenBytes += n
	return int(n), nil
}

func (s *fakeSink) PlayedFrames() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionErr != nil {
		return 0, s.positionErr
	}
	return s.played, nil
}

func (s *fakeSink) FramesWritten() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writtenBytes / fakeFrameSize, nil
}

func (s *fakeSink) FrameCount() int { return s.frameCount }

func (s *fakeSink) FrameSize() int { return fakeFrameSize }

func (s *fakeSink) MsecsPerFrame() float64 { return 1 }

func (s *fakeSink) Latency() time.Duration { return s.latency }

func (s *fakeSink) Start() error {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	s.pauses++
	s.mu.Unlock()
}

// playAll marks everything written so far as played.
func (s *fakeSink) playAll() {
	s.mu.Lock()
	s.played = s.writtenBytes / fakeFrameSize
	s.mu.Unlock()
}

// replace simulates the device being reopened with empty counters.
func (s *fakeSink) replace() {
	s.mu.Lock()
	s.writtenBytes = 0
	s.played = 0
	s.mu.Unlock()
}

func (s *fakeSink) setPositionErr(err error) {
	s.mu.Lock()
	s.positionErr = err
	s.mu.Unlock()
}

func (s *fakeSink) counts() (starts, pauses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.pauses
}

func (s *fakeSink) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// recorder is a Listener that keeps every notification.
type recorder struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recorder) add(n Notification) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
}

func (r *recorder) OnEOS(kind media.StreamKind, result error) {
	r.add(Notification{Kind: NotifyEOS, Stream: kind, Result: result})
}

func (r *recorder) OnFlushComplete(kind media.StreamKind) {
	r.add(Notification{Kind: NotifyFlushComplete, Stream: kind})
}

func (r *recorder) OnPosition(positionUs, videoLateByUs int64) {
	r.add(Notification{Kind: NotifyPosition, PositionUs: positionUs, VideoLateByUs: videoLateByUs})
}

func (r *recorder) OnVideoRenderingStart() {
	r.add(Notification{Kind: NotifyVideoRenderingStart, Stream: media.StreamVideo})
}

func (r *recorder) of(kind NotificationKind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.events {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type release struct {
	name   string
	render bool
}

// releases records buffer callbacks in the order they fire.
type releases struct {
	mu  sync.Mutex
	got []release
}

func (l *releases) buffer(name string, frames int, timeUs int64) *media.TimedBuffer {
	data := make([]byte, frames*fakeFrameSize)
	for i := range data {
		data[i] = byte(int(timeUs/1000) + i)
	}
	return media.NewTimedBuffer(data, timeUs, func(render bool) {
		l.mu.Lock()
		l.got = append(l.got, release{name: name, render: render})
		l.mu.Unlock()
	})
}

// state returns how often name was released and the last render flag.
func (l *releases) state(name string) (count int, render bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.got {
		if r.name == name {
			count++
			render = r.render
		}
	}
	return count, render
}

func (l *releases) order() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.got))
	for i, r := range l.got {
		out[i] = r.name
	}
	return out
}

type harness struct {
	t      *testing.T
	clk    *testingclock.FakeClock
	sink   *fakeSink
	rec    *recorder
	bufs   *releases
	r      *Renderer
	cancel context.CancelFunc
	ctx    context.Context
	done   chan error
}

func newHarness(t *testing.T, s *fakeSink) *harness {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	r, err := New(Options{
		Sink:     s,
		Listener: rec,
		Clock:    clk,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:      t,
		clk:    clk,
		sink:   s,
		rec:    rec,
		bufs:   &releases{},
		r:      r,
		ctx:    ctx,
		cancel: cancel,
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) start() {
	h.done = make(chan error, 1)
	go func() { h.done <- h.r.Run(h.ctx) }()
}

func (h *harness) stop() {
	h.cancel()
	if h.done == nil {
		return
	}
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Error("renderer did not stop")
	}
	h.done = nil
}

// settle waits until the worker has nothing left to run.
func (h *harness) settle() {
	h.t.Helper()
	for range 100 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := h.r.loop.Sync(ctx)
		cancel()
		if err != nil {
			h.t.Fatalf("sync: %v", err)
		}
		if h.r.loop.Pending() == 0 {
			return
		}
	}
	h.t.Fatal("worker did not settle")
}

// step advances the fake clock, firing due drains, and settles.
func (h *harness) step(d time.Duration) {
	h.t.Helper()
	h.clk.Step(d)
	h.settle()
}

func (h *harness) queue(kind media.StreamKind, name string, frames int, timeUs int64) {
	h.r.QueueBuffer(kind, h.bufs.buffer(name, frames, timeUs))
}

func (h *harness) wantReleased(name string, render bool) {
	h.t.Helper()
	count, got := h.bufs.state(name)
	if count != 1 {
		h.t.Fatalf("%s released %d times, want 1", name, count)
	}
	if got != render {
		h.t.Errorf("%s render = %v, want %v", name, got, render)
	}
}

func (h *harness) wantHeld(name string) {
	h.t.Helper()
	if count, _ := h.bufs.state(name); count != 0 {
		h.t.Fatalf("%s released %d times, want still queued", name, count)
	}
}
