// Package media defines the timestamped buffer types that flow from decode
// pipelines into the renderer, and the stream kinds they belong to.
package media

import (
	"errors"
	"sync/atomic"
)

// ErrEndOfStream is the conventional result carried by an end-of-stream
// marker when a stream finished normally.
var ErrEndOfStream = errors.New("media: end of stream")

// StreamKind identifies which of the two paced streams a buffer belongs to.
type StreamKind int

// Stream kinds handled by the renderer.
const (
	StreamAudio StreamKind = iota
	StreamVideo
)

func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Valid reports whether k names a known stream kind.
func (k StreamKind) Valid() bool {
	return k == StreamAudio || k == StreamVideo
}

// TimedBuffer is a single decoded unit (a PCM chunk or one picture) ready
// for release to a sink. The renderer holds Data exclusively until it
// invokes OnConsumed, after which ownership returns to the producer.
//
// For video, render reports whether the frame should be displayed; a frame
// released with render=false arrived too late or was discarded by a flush.
// For audio, render is true only when the payload was written to the sink.
type TimedBuffer struct {
	Data       []byte
	TimeUs     int64
	OnConsumed func(render bool)

	released atomic.Bool
}

// NewTimedBuffer returns a buffer stamped with timeUs that calls onConsumed
// once it is released.
func NewTimedBuffer(data []byte, timeUs int64, onConsumed func(render bool)) *TimedBuffer {
	return &TimedBuffer{
		Data:       data,
		TimeUs:     timeUs,
		OnConsumed: onConsumed,
	}
}

// Release hands ownership back to the producer. Only the first call has any
// effect, so a buffer is never acknowledged twice.
func (b *TimedBuffer) Release(render bool) bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	if b.OnConsumed != nil {
		b.OnConsumed(render)
	}
	return true
}

// Released reports whether Release has already run.
func (b *TimedBuffer) Released() bool {
	return b.released.Load()
}
