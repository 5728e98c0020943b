package sink

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Compile-time interface checks.
var (
	_ AudioSink = (*Simulated)(nil)
	_ AudioSink = (*Discard)(nil)
)

// Simulated models a PCM device that drains its buffer at the configured
// sample rate in clock time. It is created paused; call Start to begin
// playout. Running dry counts as an underrun.
type Simulated struct {
	params Params
	clock  clock.PassiveClock

	mu           sync.Mutex
	writtenBytes int64
	played       int64
	playedBase   int64
	startedAt    time.Time
	running      bool
	starved      bool
	closed       bool
	underruns    int64
}

// NewSimulated creates a paused simulated device. If clk is nil the real
// clock is used.
func NewSimulated(p Params, clk clock.PassiveClock) (*Simulated, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Simulated{params: p, clock: clk}, nil
}

func (s *Simulated) writtenFramesLocked() int64 {
	return s.writtenBytes / int64(s.params.FrameSize())
}

// advanceLocked moves the play head to the current clock time.
func (s *Simulated) advanceLocked() {
	if !s.running {
		return
	}
	now := s.clock.Now()
	elapsed := now.Sub(s.startedAt)
	played := s.playedBase + int64(elapsed)*int64(s.params.SampleRate)/int64(time.Second)

	written := s.writtenFramesLocked()
	if played > written {
		if !s.starved {
			s.underruns++
			s.starved = true
		}
		s.played = written
		s.playedBase = written
		s.startedAt = now
		return
	}
	s.played = played
}

// Write accepts as many bytes as fit in the free device buffer.
func (s *Simulated) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.advanceLocked()

	frameSize := int64(s.params.FrameSize())
	queued := s.writtenFramesLocked() - s.played
	free := (int64(s.params.BufferFrames)-queued)*frameSize - s.writtenBytes%frameSize
	if free <= 0 {
		return 0, nil
	}
	n := int64(len(p))
	if n > free {
		n = free
	}
	s.writtenBytes += n
	if n > 0 {
		s.starved = false
	}
	return int(n), nil
}

// PlayedFrames returns the frames played out so far.
func (s *Simulated) PlayedFrames() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.advanceLocked()
	return s.played, nil
}

// FramesWritten returns the whole frames accepted so far.
func (s *Simulated) FramesWritten() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.writtenFramesLocked(), nil
}

func (s *Simulated) FrameCount() int        { return s.params.BufferFrames }
func (s *Simulated) FrameSize() int         { return s.params.FrameSize() }
func (s *Simulated) MsecsPerFrame() float64 { return s.params.MsecsPerFrame() }
func (s *Simulated) Latency() time.Duration { return s.params.Latency }

// Start resumes playout. Starting a running device is a no-op.
func (s *Simulated) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}
	s.running = true
	s.startedAt = s.clock.Now()
	s.playedBase = s.played
	return nil
}

// Pause freezes the play head.
func (s *Simulated) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advanceLocked()
	s.running = false
	s.playedBase = s.played
}

// Running reports whether the device is playing.
func (s *Simulated) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Underruns returns how many times playout ran out of data.
func (s *Simulated) Underruns() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.underruns
}

// Close stops the device; every later call fails with ErrClosed.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.running = false
	return nil
}

// Discard is a device that plays everything the instant it is written.
type Discard struct {
	params Params

	mu      sync.Mutex
	written int64
	partial int64
}

// NewDiscard creates a discard device.
func NewDiscard(p Params) (*Discard, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Discard{params: p}, nil
}

func (d *Discard) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := d.partial + int64(len(p))
	frameSize := int64(d.params.FrameSize())
	d.written += total / frameSize
	d.partial = total % frameSize
	return len(p), nil
}

func (d *Discard) PlayedFrames() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written, nil
}

func (d *Discard) FramesWritten() (int64, error) {
	return d.PlayedFrames()
}

func (d *Discard) FrameCount() int        { return d.params.BufferFrames }
func (d *Discard) FrameSize() int         { return d.params.FrameSize() }
func (d *Discard) MsecsPerFrame() float64 { return d.params.MsecsPerFrame() }
func (d *Discard) Latency() time.Duration { return 0 }
func (d *Discard) Start() error           { return nil }
func (d *Discard) Pause()                 {}
