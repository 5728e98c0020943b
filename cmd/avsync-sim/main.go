// Command avsync-sim plays synthetic audio and video through one or more
// renderers against a simulated audio device and reports how well the
// streams stayed in sync.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/zsiec/avsync/internal/config"
	"github.com/zsiec/avsync/internal/feeder"
	"github.com/zsiec/avsync/internal/session"
	"github.com/zsiec/avsync/media"
	"github.com/zsiec/avsync/renderer"
	"github.com/zsiec/avsync/sink"
)

var version = "dev"

// eosGrace bounds the wait for end-of-stream notifications once every
// buffer has been released; a flush can discard a queued marker.
const eosGrace = time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" || cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sinks := sink.NewRegistry()
	if err := sink.RegisterBuiltins(sinks); err != nil {
		slog.Error("failed to register sinks", "error", err)
		os.Exit(1)
	}

	a := &app{
		cfg:   cfg,
		mgr:   session.NewManager(nil),
		sinks: sinks,
		clock: clock.RealClock{},
	}

	slog.Info("avsync-sim starting",
		"version", version,
		"sessions", cfg.Sessions,
		"duration", cfg.Duration,
		"sink", cfg.Sink,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := range cfg.Sessions {
		key := fmt.Sprintf("session-%d", i+1)
		g.Go(func() error {
			return a.runSession(ctx, key)
		})
	}
	runErr := g.Wait()

	if err := a.writeReport(os.Stdout); err != nil {
		slog.Error("failed to write report", "error", err)
	}
	if runErr != nil {
		slog.Error("simulation failed", "error", runErr)
		os.Exit(1)
	}
}

type app struct {
	cfg   config.Config
	mgr   *session.Manager
	sinks *sink.Registry
	clock clock.Clock

	mu      sync.Mutex
	results []result
}

// result is one session's entry in the final report.
type result struct {
	Key           string         `json:"key"`
	ElapsedMs     int64          `json:"elapsedMs"`
	Renderer      renderer.Stats `json:"renderer"`
	AudioFeeder   *feeder.Stats  `json:"audioFeeder,omitempty"`
	VideoFeeder   *feeder.Stats  `json:"videoFeeder,omitempty"`
	Notifications map[string]int `json:"notifications"`
	Underruns     int64          `json:"underruns,omitempty"`
}

// runSession plays one session to completion: both feeders finish, every
// buffer is released and each stream reports end of stream.
func (a *app) runSession(ctx context.Context, key string) error {
	log := slog.With("session_key", key)
	start := a.clock.Now()

	dev, err := a.sinks.Open(a.cfg.Sink, a.cfg.SinkParams(), a.clock)
	if err != nil {
		return fmt.Errorf("session %s: %w", key, err)
	}
	if c, ok := dev.(io.Closer); ok {
		defer c.Close()
	}

	listener := renderer.NewChanListener(64)
	fan := renderer.NewFanout(log)
	fan.Add("control", listener)
	fan.Add("log", logListener{log: log})
	r, err := renderer.New(renderer.Options{
		Sink:     dev,
		Listener: fan,
		Config:   a.cfg.Renderer(),
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", key, err)
	}

	sess, created := a.mgr.Create(key, r)
	if !created {
		return fmt.Errorf("session %s: duplicate key", key)
	}
	defer a.mgr.Remove(key)

	audioFeeder, videoFeeder, err := a.feeders(r, log)
	if err != nil {
		return fmt.Errorf("session %s: %w", key, err)
	}

	rctx, stopRenderer := context.WithCancel(ctx)
	defer stopRenderer()
	rendererDone := make(chan error, 1)
	go func() { rendererDone <- sess.Run(rctx) }()

	eos := newEOSTracker(audioFeeder != nil, videoFeeder != nil)
	counts := make(map[string]int)
	// The listener blocks the worker on lifecycle notifications, so keep
	// reading until the renderer has stopped.
	stopNotify := make(chan struct{})
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		for {
			select {
			case n := <-listener.C():
				counts[n.Kind.String()]++
				if n.Kind == renderer.NotifyEOS {
					eos.mark(n.Stream)
				}
			case <-stopNotify:
				return
			}
		}
	}()

	// A sink that stops draining would hold buffers forever; bound the run.
	feedCtx, stopFeed := context.WithTimeout(ctx, 2*a.cfg.Duration+a.cfg.PauseFor+5*time.Second)
	defer stopFeed()
	g, gctx := errgroup.WithContext(feedCtx)
	if audioFeeder != nil {
		g.Go(func() error { return audioFeeder.Run(gctx) })
	}
	if videoFeeder != nil {
		g.Go(func() error { return videoFeeder.Run(gctx) })
	}
	controlCtx, stopControl := context.WithCancel(gctx)
	defer stopControl()
	go a.control(controlCtx, r, log)

	feedErr := g.Wait()
	stopControl()
	if feedErr == nil {
		select {
		case <-eos.done:
		case <-time.After(eosGrace):
			log.Warn("end of stream not reported for every stream")
		case <-ctx.Done():
		}
	}

	stopRenderer()
	runErr := <-rendererDone
	close(stopNotify)
	<-notifyDone

	res := result{
		Key:           key,
		ElapsedMs:     a.clock.Since(start).Milliseconds(),
		Renderer:      r.Stats(),
		Notifications: counts,
	}
	if audioFeeder != nil {
		st := audioFeeder.Stats()
		res.AudioFeeder = &st
	}
	if videoFeeder != nil {
		st := videoFeeder.Stats()
		res.VideoFeeder = &st
	}
	if sim, ok := dev.(*sink.Simulated); ok {
		res.Underruns = sim.Underruns()
	}
	a.mu.Lock()
	a.results = append(a.results, res)
	a.mu.Unlock()

	log.Info("session finished",
		"elapsed_ms", res.ElapsedMs,
		"audio_rendered", res.Renderer.Audio.Rendered,
		"video_rendered", res.Renderer.Video.Rendered,
		"video_dropped", res.Renderer.Video.Dropped,
	)

	switch {
	case errors.Is(feedErr, context.DeadlineExceeded):
		log.Warn("session timed out before every buffer was released")
	case feedErr != nil && !errors.Is(feedErr, context.Canceled):
		return fmt.Errorf("session %s: %w", key, feedErr)
	}
	if runErr != nil {
		return fmt.Errorf("session %s: %w", key, runErr)
	}
	return nil
}

// feeders builds the audio and video feeders the config asks for. Either
// may be nil.
func (a *app) feeders(r *renderer.Renderer, log *slog.Logger) (audio, video *feeder.Feeder, err error) {
	audioCount, videoCount := a.cfg.FrameCounts()
	maxInFlight := int64(a.cfg.MaxInFlight)

	if audioCount > 0 {
		audio, err = feeder.New(feeder.Config{
			Kind:        media.StreamAudio,
			Interval:    a.cfg.AudioChunk,
			Count:       audioCount,
			StartUs:     a.cfg.AudioStart.Microseconds(),
			JitterUs:    a.cfg.Jitter.Microseconds(),
			PayloadSize: a.cfg.SinkParams().BytesFor(a.cfg.AudioChunk),
			MaxInFlight: maxInFlight,
			Seed:        uint64(time.Now().UnixNano()),
		}, r, log)
		if err != nil {
			return nil, nil, err
		}
	}
	if videoCount > 0 {
		video, err = feeder.New(feeder.Config{
			Kind:        media.StreamVideo,
			Interval:    a.cfg.VideoInterval(),
			Count:       videoCount,
			StartUs:     a.cfg.VideoStart.Microseconds(),
			JitterUs:    a.cfg.Jitter.Microseconds(),
			PayloadSize: 1024,
			MaxInFlight: maxInFlight,
			Seed:        uint64(time.Now().UnixNano()),
		}, r, log)
		if err != nil {
			return nil, nil, err
		}
	}
	return audio, video, nil
}

// control applies the scripted pause and flush, if configured.
func (a *app) control(ctx context.Context, r *renderer.Renderer, log *slog.Logger) {
	if a.cfg.FlushAt > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-a.clock.After(a.cfg.FlushAt):
			}
			log.Info("flushing both streams")
			r.Flush(media.StreamAudio)
			r.Flush(media.StreamVideo)
		}()
	}

	if a.cfg.PauseAt <= 0 {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-a.clock.After(a.cfg.PauseAt):
	}
	log.Info("pausing", "for", a.cfg.PauseFor)
	r.Pause()
	select {
	case <-ctx.Done():
	case <-a.clock.After(a.cfg.PauseFor):
	}
	log.Info("resuming")
	r.Resume()
}

// writeReport prints every session's result as indented JSON, ordered by
// session key.
func (a *app) writeReport(w io.Writer) error {
	a.mu.Lock()
	results := append([]result(nil), a.results...)
	a.mu.Unlock()
	sortResults(results)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
