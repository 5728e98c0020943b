package renderer

import (
	"errors"
	"sync"
	"testing"

	"github.com/zsiec/avsync/media"
)

func TestFanoutAddRemove(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil)
	a := &recorder{}
	f.Add("a", a)
	if f.Count() != 1 {
		t.Errorf("count: got %d, want 1", f.Count())
	}

	f.OnFlushComplete(media.StreamAudio)
	f.Remove("a")
	f.OnFlushComplete(media.StreamVideo)

	if got := len(a.of(NotifyFlushComplete)); got != 1 {
		t.Errorf("flush notifications: got %d, want 1", got)
	}
	if f.Count() != 0 {
		t.Errorf("count after remove: got %d, want 0", f.Count())
	}
}

func TestFanoutBroadcastsToAll(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil)
	listeners := []*recorder{{}, {}, {}}
	for i, l := range listeners {
		f.Add(string(rune('a'+i)), l)
	}

	f.OnVideoRenderingStart()
	f.OnPosition(1_000, 5)

	for i, l := range listeners {
		if got := len(l.of(NotifyVideoRenderingStart)); got != 1 {
			t.Errorf("listener %d rendering-start: got %d, want 1", i, got)
		}
		pos := l.of(NotifyPosition)
		if len(pos) != 1 || pos[0].PositionUs != 1_000 || pos[0].VideoLateByUs != 5 {
			t.Errorf("listener %d positions: got %+v", i, pos)
		}
	}
}

func TestFanoutReplaysStateToLateListener(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil)
	failed := errors.New("decode failed")
	f.OnVideoRenderingStart()
	f.OnEOS(media.StreamVideo, failed)
	f.OnPosition(40_000, 0)
	f.OnPosition(80_000, 0)

	late := &recorder{}
	f.Add("late", late)

	if got := len(late.of(NotifyVideoRenderingStart)); got != 1 {
		t.Errorf("rendering-start replay: got %d, want 1", got)
	}
	eos := late.of(NotifyEOS)
	if len(eos) != 1 || eos[0].Stream != media.StreamVideo || !errors.Is(eos[0].Result, failed) {
		t.Errorf("eos replay: got %+v", eos)
	}
	pos := late.of(NotifyPosition)
	if len(pos) != 1 || pos[0].PositionUs != 80_000 {
		t.Errorf("position replay: got %+v, want latest only", pos)
	}
}

func TestFanoutFlushClearsReplayState(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil)
	f.OnVideoRenderingStart()
	f.OnEOS(media.StreamVideo, media.ErrEndOfStream)
	f.OnPosition(40_000, 0)
	f.OnFlushComplete(media.StreamVideo)

	late := &recorder{}
	f.Add("late", late)
	if len(late.events) != 0 {
		t.Errorf("replay after flush: got %+v, want nothing", late.events)
	}
}

func TestFanoutConcurrentAccess(t *testing.T) {
	t.Parallel()

	f := NewFanout(nil)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			f.Add(id, &recorder{})
			f.Remove(id)
		}()
		go func() {
			defer wg.Done()
			f.OnPosition(int64(i), 0)
		}()
	}
	wg.Wait()
	if f.Count() != 0 {
		t.Errorf("count: got %d, want 0", f.Count())
	}
}
