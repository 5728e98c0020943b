package main

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/zsiec/avsync/media"
	"github.com/zsiec/avsync/renderer"
)

// logListener writes renderer notifications to the session log.
type logListener struct {
	log *slog.Logger
}

var _ renderer.Listener = logListener{}

func (l logListener) OnEOS(kind media.StreamKind, result error) {
	l.log.Info("end of stream", "stream", kind, "result", result)
}

func (l logListener) OnFlushComplete(kind media.StreamKind) {
	l.log.Info("flush complete", "stream", kind)
}

func (l logListener) OnPosition(positionUs, videoLateByUs int64) {
	l.log.Debug("position", "position_us", positionUs, "video_late_us", videoLateByUs)
}

func (l logListener) OnVideoRenderingStart() {
	l.log.Info("video rendering started")
}

// eosTracker closes done once every expected stream has reported end of
// stream.
type eosTracker struct {
	mu      sync.Mutex
	waiting map[media.StreamKind]bool
	done    chan struct{}
}

func newEOSTracker(audio, video bool) *eosTracker {
	t := &eosTracker{
		waiting: make(map[media.StreamKind]bool),
		done:    make(chan struct{}),
	}
	if audio {
		t.waiting[media.StreamAudio] = true
	}
	if video {
		t.waiting[media.StreamVideo] = true
	}
	if len(t.waiting) == 0 {
		close(t.done)
	}
	return t
}

func (t *eosTracker) mark(kind media.StreamKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.waiting[kind] {
		return
	}
	delete(t.waiting, kind)
	if len(t.waiting) == 0 {
		close(t.done)
	}
}

func sortResults(results []result) {
	slices.SortFunc(results, func(a, b result) int {
		if len(a.Key) != len(b.Key) {
			return len(a.Key) - len(b.Key)
		}
		return strings.Compare(a.Key, b.Key)
	})
}
