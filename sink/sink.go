// Package sink defines the audio output device the renderer paces PCM into,
// along with a clock-driven simulated device, a discard device, and an
// explicit factory registry for selecting one by name.
package sink

import (
	"errors"
	"time"
)

// Sentinel errors for sink handling.
var (
	ErrClosed        = errors.New("sink: closed")
	ErrUnknownSink   = errors.New("sink: unknown sink")
	ErrDuplicateSink = errors.New("sink: sink already registered")
	ErrInvalidParams = errors.New("sink: invalid parameters")
)

// AudioSink is a PCM output device with a bounded internal buffer. Frame
// counters are cumulative since the device was opened.
type AudioSink interface {
	// Write copies PCM bytes into the device buffer and returns how many
	// were accepted. A short count means the buffer is full.
	Write(p []byte) (int, error)
	// PlayedFrames returns the number of frames physically played so far.
	PlayedFrames() (int64, error)
	// FramesWritten returns the number of frames accepted so far.
	FramesWritten() (int64, error)
	// FrameCount is the device buffer capacity in frames.
	FrameCount() int
	// FrameSize is the size of one frame in bytes.
	FrameSize() int
	// MsecsPerFrame is the playback duration of one frame in milliseconds.
	MsecsPerFrame() float64
	// Latency is the device's output latency.
	Latency() time.Duration
	Start() error
	Pause()
}

// Params describe the PCM format and buffering of a device.
type Params struct {
	SampleRate     int           `json:"sampleRate"`
	Channels       int           `json:"channels"`
	BytesPerSample int           `json:"bytesPerSample"`
	BufferFrames   int           `json:"bufferFrames"`
	Latency        time.Duration `json:"latency"`
}

// DefaultParams is 48kHz stereo 16-bit with ~85ms of device buffer.
func DefaultParams() Params {
	return Params{
		SampleRate:     48000,
		Channels:       2,
		BytesPerSample: 2,
		BufferFrames:   4096,
		Latency:        40 * time.Millisecond,
	}
}

// FrameSize returns the byte size of one interleaved frame.
func (p Params) FrameSize() int {
	return p.Channels * p.BytesPerSample
}

// MsecsPerFrame returns the duration of one frame in milliseconds.
func (p Params) MsecsPerFrame() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return 1000.0 / float64(p.SampleRate)
}

// BytesFor returns the byte size of d worth of PCM, rounded down to whole
// frames.
func (p Params) BytesFor(d time.Duration) int {
	frames := int64(d) * int64(p.SampleRate) / int64(time.Second)
	return int(frames) * p.FrameSize()
}

// Validate reports ErrInvalidParams when any field cannot describe a device.
func (p Params) Validate() error {
	if p.SampleRate <= 0 || p.Channels <= 0 || p.BytesPerSample <= 0 || p.BufferFrames <= 0 {
		return ErrInvalidParams
	}
	if p.Latency < 0 {
		return ErrInvalidParams
	}
	return nil
}
