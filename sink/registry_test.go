package sink

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Register("null", func(p Params, _ clock.PassiveClock) (AudioSink, error) {
		return NewDiscard(p)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.Get("null"); !ok {
		t.Fatal("Get returned false for registered sink")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("Get returned true for missing sink")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	err := RegisterBuiltins(r)
	if !errors.Is(err, ErrDuplicateSink) {
		t.Fatalf("second RegisterBuiltins: got %v, want ErrDuplicateSink", err)
	}
}

func TestRegistryNilFactory(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register("nil", nil); err == nil {
		t.Fatal("Register with nil factory should fail")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	r.Unregister(NameDiscard)

	if _, ok := r.Get(NameDiscard); ok {
		t.Fatal("sink still found after Unregister")
	}
	// Should not panic.
	r.Unregister("nonexistent")
}

func TestRegistryNames(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	names := r.Names()
	want := []string{NameDiscard, NameSimulated}
	if len(names) != len(want) {
		t.Fatalf("Names: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names: got %v, want %v", names, want)
		}
	}
}

func TestRegistryOpen(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	clk := testingclock.NewFakeClock(time.Unix(0, 0))

	s, err := r.Open(NameSimulated, DefaultParams(), clk)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*Simulated); !ok {
		t.Fatalf("Open returned %T, want *Simulated", s)
	}

	if _, err := r.Open("alsa", DefaultParams(), clk); !errors.Is(err, ErrUnknownSink) {
		t.Fatalf("Open unknown: got %v, want ErrUnknownSink", err)
	}

	if _, err := r.Open(NameSimulated, Params{}, clk); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("Open bad params: got %v, want ErrInvalidParams", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("sink-%d", n)
			_ = r.Register(name, func(p Params, _ clock.PassiveClock) (AudioSink, error) {
				return NewDiscard(p)
			})
			r.Get(name)
			r.Names()
			r.Unregister(name)
		}(i)
	}

	wg.Wait()
}
