package renderer

import (
	"sync/atomic"

	"github.com/zsiec/avsync/media"
)

// StreamStats holds point-in-time metrics for one paced stream, serialized
// as JSON in session snapshots.
type StreamStats struct {
	Queued   int   `json:"queued"`
	Rendered int64 `json:"rendered"`
	// Dropped counts audio discarded by the startup gate, or video frames
	// released late with render=false.
	Dropped  int64 `json:"dropped"`
	Flushed  int64 `json:"flushed"`
	Flushes  int64 `json:"flushes"`
	EOS      bool  `json:"eos"`
	LastTsUs int64 `json:"lastTsUs"`
}

// Stats is a snapshot of renderer state for diagnostics.
type Stats struct {
	ID                    string      `json:"id"`
	Audio                 StreamStats `json:"audio"`
	Video                 StreamStats `json:"video"`
	AnchorMediaUs         int64       `json:"anchorMediaUs"`
	AnchorRealUs          int64       `json:"anchorRealUs"`
	PositionUs            int64       `json:"positionUs"`
	VideoLateByUs         int64       `json:"videoLateByUs"`
	AudioFramesWritten    int64       `json:"audioFramesWritten"`
	Syncing               bool        `json:"syncing"`
	Paused                bool        `json:"paused"`
	VideoRenderingStarted bool        `json:"videoRenderingStarted"`
}

// counters mirrors worker-owned state into atomics so Stats can be read
// from any goroutine without touching the worker.
type counters struct {
	audio streamCounters
	video streamCounters

	anchorMediaUs    atomic.Int64
	anchorRealUs     atomic.Int64
	positionUs       atomic.Int64
	videoLateByUs    atomic.Int64
	framesWritten    atomic.Int64
	syncing          atomic.Bool
	renderingStarted atomic.Bool
}

type streamCounters struct {
	rendered atomic.Int64
	dropped  atomic.Int64
	flushed  atomic.Int64
	flushes  atomic.Int64
	lastTsUs atomic.Int64
	eos      atomic.Bool
}

func newCounters() *counters {
	c := &counters{}
	c.anchorMediaUs.Store(-1)
	c.anchorRealUs.Store(-1)
	c.positionUs.Store(-1)
	c.audio.lastTsUs.Store(-1)
	c.video.lastTsUs.Store(-1)
	return c
}

func (c *counters) stream(kind media.StreamKind) *streamCounters {
	if kind == media.StreamAudio {
		return &c.audio
	}
	return &c.video
}

func (c *counters) recordAnchor(a *anchor) {
	c.anchorMediaUs.Store(a.mediaUs)
	c.anchorRealUs.Store(a.realUs)
}

func (sc *streamCounters) snapshot(queued int) StreamStats {
	return StreamStats{
		Queued:   queued,
		Rendered: sc.rendered.Load(),
		Dropped:  sc.dropped.Load(),
		Flushed:  sc.flushed.Load(),
		Flushes:  sc.flushes.Load(),
		EOS:      sc.eos.Load(),
		LastTsUs: sc.lastTsUs.Load(),
	}
}

// Stats returns a consistent-enough snapshot of the renderer. Counters are
// read individually, so a snapshot taken mid-drain may straddle one update.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	audioQueued := r.audioQueue.len()
	videoQueued := r.videoQueue.len()
	paused := r.paused
	r.mu.Unlock()

	c := r.counters
	return Stats{
		ID:                    r.id,
		Audio:                 c.audio.snapshot(audioQueued),
		Video:                 c.video.snapshot(videoQueued),
		AnchorMediaUs:         c.anchorMediaUs.Load(),
		AnchorRealUs:          c.anchorRealUs.Load(),
		PositionUs:            c.positionUs.Load(),
		VideoLateByUs:         c.videoLateByUs.Load(),
		AudioFramesWritten:    c.framesWritten.Load(),
		Syncing:               c.syncing.Load(),
		Paused:                paused,
		VideoRenderingStarted: c.renderingStarted.Load(),
	}
}
