package renderer

import (
	"log/slog"
	"sync"

	"github.com/zsiec/avsync/media"
)

// Fanout is a Listener that forwards every notification to a set of
// listeners registered by ID. It remembers the latest position and any
// end-of-stream results so a listener added mid-playback starts from the
// current state instead of waiting for the next update.
type Fanout struct {
	log       *slog.Logger
	mu        sync.RWMutex
	listeners map[string]Listener

	// stateMu orders state updates and broadcasts against Add.
	stateMu     sync.Mutex
	lastPos     *Notification
	eos         map[media.StreamKind]error
	renderStart bool
}

var _ Listener = (*Fanout)(nil)

// NewFanout creates a Fanout with no listeners. If log is nil,
// slog.Default() is used.
func NewFanout(log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		log:       log.With("component", "fanout"),
		listeners: make(map[string]Listener),
		eos:       make(map[media.StreamKind]error),
	}
}

// Add replays the remembered state to l, then registers it for live
// notifications. Listeners must not call Add or Remove from a callback.
func (f *Fanout) Add(id string, l Listener) {
	f.stateMu.Lock()
	f.replay(l)
	f.mu.Lock()
	f.listeners[id] = l
	f.mu.Unlock()
	f.stateMu.Unlock()

	f.log.Debug("listener added", "id", id, "listeners", f.Count())
}

// Remove unregisters a listener by ID.
func (f *Fanout) Remove(id string) {
	f.mu.Lock()
	delete(f.listeners, id)
	f.mu.Unlock()

	f.log.Debug("listener removed", "id", id, "listeners", f.Count())
}

// Count returns the number of registered listeners.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// replay must be called with stateMu held.
func (f *Fanout) replay(l Listener) {
	if f.renderStart {
		l.OnVideoRenderingStart()
	}
	for _, kind := range []media.StreamKind{media.StreamAudio, media.StreamVideo} {
		if result, ok := f.eos[kind]; ok {
			l.OnEOS(kind, result)
		}
	}
	if f.lastPos != nil {
		l.OnPosition(f.lastPos.PositionUs, f.lastPos.VideoLateByUs)
	}
}

func (f *Fanout) each(fn func(Listener)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, l := range f.listeners {
		fn(l)
	}
}

func (f *Fanout) OnEOS(kind media.StreamKind, result error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.eos[kind] = result
	f.each(func(l Listener) { l.OnEOS(kind, result) })
}

// OnFlushComplete clears remembered state for the flushed stream.
func (f *Fanout) OnFlushComplete(kind media.StreamKind) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	delete(f.eos, kind)
	f.lastPos = nil
	if kind == media.StreamVideo {
		f.renderStart = false
	}
	f.each(func(l Listener) { l.OnFlushComplete(kind) })
}

func (f *Fanout) OnPosition(positionUs, videoLateByUs int64) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.lastPos = &Notification{Kind: NotifyPosition, PositionUs: positionUs, VideoLateByUs: videoLateByUs}
	f.each(func(l Listener) { l.OnPosition(positionUs, videoLateByUs) })
}

func (f *Fanout) OnVideoRenderingStart() {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.renderStart = true
	f.each(func(l Listener) { l.OnVideoRenderingStart() })
}
