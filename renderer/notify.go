package renderer

import (
	"sync/atomic"

	"github.com/zsiec/avsync/media"
)

// Listener receives renderer notifications. All methods are invoked on the
// renderer's worker goroutine and must not block for long or call back into
// the renderer synchronously.
type Listener interface {
	// OnEOS reports that a stream's end-of-stream marker reached the head
	// of its queue.
	OnEOS(kind media.StreamKind, result error)
	// OnFlushComplete reports that a Flush request finished.
	OnFlushComplete(kind media.StreamKind)
	// OnPosition reports the interpolated media position and how late the
	// most recent video frame was.
	OnPosition(positionUs, videoLateByUs int64)
	// OnVideoRenderingStart reports the first video frame released for
	// display since creation or the last video flush.
	OnVideoRenderingStart()
}

// NopListener discards every notification.
type NopListener struct{}

func (NopListener) OnEOS(media.StreamKind, error)    {}
func (NopListener) OnFlushComplete(media.StreamKind) {}
func (NopListener) OnPosition(int64, int64)          {}
func (NopListener) OnVideoRenderingStart()           {}

// NotificationKind identifies a Notification.
type NotificationKind int

// Notification kinds delivered by ChanListener.
const (
	NotifyEOS NotificationKind = iota
	NotifyFlushComplete
	NotifyPosition
	NotifyVideoRenderingStart
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyEOS:
		return "eos"
	case NotifyFlushComplete:
		return "flush-complete"
	case NotifyPosition:
		return "position"
	case NotifyVideoRenderingStart:
		return "video-rendering-start"
	default:
		return "unknown"
	}
}

// Notification is one Listener callback captured as a value.
type Notification struct {
	Kind          NotificationKind
	Stream        media.StreamKind
	Result        error
	PositionUs    int64
	VideoLateByUs int64
}

// ChanListener delivers notifications on a channel. Lifecycle notifications
// block until the channel has room; position updates are dropped instead
// when the consumer falls behind, since a newer one always follows.
type ChanListener struct {
	ch      chan Notification
	dropped atomic.Int64
}

// NewChanListener creates a ChanListener with the given channel capacity.
func NewChanListener(size int) *ChanListener {
	if size < 1 {
		size = 1
	}
	return &ChanListener{ch: make(chan Notification, size)}
}

// C returns the notification channel.
func (l *ChanListener) C() <-chan Notification {
	return l.ch
}

// Dropped returns how many position updates were discarded.
func (l *ChanListener) Dropped() int64 {
	return l.dropped.Load()
}

func (l *ChanListener) OnEOS(kind media.StreamKind, result error) {
	l.ch <- Notification{Kind: NotifyEOS, Stream: kind, Result: result}
}

func (l *ChanListener) OnFlushComplete(kind media.StreamKind) {
	l.ch <- Notification{Kind: NotifyFlushComplete, Stream: kind}
}

func (l *ChanListener) OnPosition(positionUs, videoLateByUs int64) {
	select {
	case l.ch <- Notification{Kind: NotifyPosition, PositionUs: positionUs, VideoLateByUs: videoLateByUs}:
	default:
		l.dropped.Add(1)
	}
}

func (l *ChanListener) OnVideoRenderingStart() {
	l.ch <- Notification{Kind: NotifyVideoRenderingStart, Stream: media.StreamVideo}
}

var (
	_ Listener = NopListener{}
	_ Listener = (*ChanListener)(nil)
)

func (r *Renderer) notifyEOS(kind media.StreamKind, result error) {
	r.log.Debug("end of stream", "stream", kind, "result", result)
	r.counters.stream(kind).eos.Store(true)
	r.listener.OnEOS(kind, result)
}

func (r *Renderer) notifyFlushComplete(kind media.StreamKind) {
	r.listener.OnFlushComplete(kind)
}

func (r *Renderer) notifyVideoRenderingStart() {
	r.log.Debug("video rendering started")
	r.counters.renderingStarted.Store(true)
	r.listener.OnVideoRenderingStart()
}

// notifyPosition emits an interpolated position at most once per
// PositionInterval. Nothing is emitted while paused or before an anchor
// point exists.
func (r *Renderer) notifyPosition() {
	if !r.anchor.valid() || r.isPaused() {
		return
	}
	now := r.nowUs()
	if r.lastPositionUs >= 0 && now < r.lastPositionUs+r.cfg.PositionInterval.Microseconds() {
		return
	}
	r.lastPositionUs = now

	pos := r.anchor.mediaTimeAt(now)
	r.counters.positionUs.Store(pos)
	r.listener.OnPosition(pos, r.videoLateByUs)
}
