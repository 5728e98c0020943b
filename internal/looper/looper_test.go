package looper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

func startLooper(t *testing.T, l *Looper) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestPostRunsInOrder(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)

	var got []int
	for i := 0; i < 5; i++ {
		l.Post(func() { got = append(got, i) })
	}
	startLooper(t, l)

	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("task %d: got %d", i, v)
		}
	}
}

func TestPostDelayedWaitsForClock(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	l := New(clk, nil)
	startLooper(t, l)

	var mu sync.Mutex
	ran := false
	l.PostDelayed(50*time.Millisecond, func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})

	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	mu.Lock()
	if ran {
		t.Fatal("delayed task ran before the clock advanced")
	}
	mu.Unlock()

	clk.Step(49 * time.Millisecond)
	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	mu.Lock()
	if ran {
		t.Fatal("delayed task ran 1ms early")
	}
	mu.Unlock()

	clk.Step(time.Millisecond)
	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("delayed task did not run at its deadline")
	}
}

func TestPostDelayedNonPositiveIsImmediate(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)
	startLooper(t, l)

	ran := make(chan struct{})
	l.PostDelayed(-time.Second, func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("negative delay task did not run")
	}
}

func TestPostAfterStop(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)
	cancel, errCh := startLooper(t, l)
	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if l.Post(func() {}) {
		t.Error("Post after stop should return false")
	}
	if l.PostDelayed(time.Second, func() {}) {
		t.Error("PostDelayed after stop should return false")
	}
	if err := l.Sync(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Sync after stop: got %v, want ErrStopped", err)
	}
}

func TestSyncReturnsWhenRunStopsFirst(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Post(cancel)

	syncErr := make(chan error, 1)
	go func() { syncErr <- l.Sync(context.Background()) }()
	for l.Pending() < 2 {
		time.Sleep(time.Millisecond)
	}

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case err := <-syncErr:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Sync: got %v, want ErrStopped", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return after Run stopped")
	}
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)
	startLooper(t, l)
	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run: got %v, want ErrAlreadyRun", err)
	}
}

func TestTasksPostedFromTasks(t *testing.T) {
	t.Parallel()

	l := New(testingclock.NewFakeClock(time.Unix(0, 0)), nil)
	startLooper(t, l)

	var got []string
	l.Post(func() {
		got = append(got, "a")
		l.Post(func() { got = append(got, "c") })
	})
	l.Post(func() { got = append(got, "b") })

	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// "c" may have been queued behind the first Sync marker.
	if err := l.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
