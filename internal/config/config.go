// Package config loads simulator settings from flags, AVSYNC_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zsiec/avsync/renderer"
	"github.com/zsiec/avsync/sink"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "AVSYNC"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds the simulator settings.
type Config struct {
	Sessions int           `json:"sessions"`
	Duration time.Duration `json:"duration"`
	FPS      float64       `json:"fps"`
	// AudioChunk is the media duration of each audio buffer.
	AudioChunk  time.Duration `json:"audioChunk"`
	AudioStart  time.Duration `json:"audioStart"`
	VideoStart  time.Duration `json:"videoStart"`
	Jitter      time.Duration `json:"jitter"`
	MaxInFlight int           `json:"maxInFlight"`
	NoAudio     bool          `json:"noAudio"`
	NoVideo     bool          `json:"noVideo"`

	Sink        string        `json:"sink"`
	SampleRate  int           `json:"sampleRate"`
	Channels    int           `json:"channels"`
	SinkBuffer  time.Duration `json:"sinkBuffer"`
	SinkLatency time.Duration `json:"sinkLatency"`

	PauseAt  time.Duration `json:"pauseAt"`
	PauseFor time.Duration `json:"pauseFor"`
	FlushAt  time.Duration `json:"flushAt"`

	Thresholds renderer.Config `json:"thresholds"`
	Debug      bool            `json:"debug"`
}

// Flags returns a flag set carrying every setting with its default.
func Flags() *pflag.FlagSet {
	d := renderer.DefaultConfig()
	p := sink.DefaultParams()

	fs := pflag.NewFlagSet("avsync-sim", pflag.ContinueOnError)
	fs.String("config", "", "optional YAML config file")
	fs.Int("sessions", 1, "concurrent playback sessions")
	fs.Duration("duration", 5*time.Second, "media duration to play per session")
	fs.Float64("fps", 30, "video frame rate")
	fs.Duration("audio-chunk", 20*time.Millisecond, "media duration of each audio buffer")
	fs.Duration("audio-start", 0, "timestamp of the first audio buffer")
	fs.Duration("video-start", 0, "timestamp of the first video frame")
	fs.Duration("jitter", 0, "maximum timestamp jitter applied to each buffer")
	fs.Int("max-in-flight", 8, "buffers a stream may have outstanding")
	fs.Bool("no-audio", false, "play video only")
	fs.Bool("no-video", false, "play audio only")

	fs.String("sink", sink.NameSimulated, "audio sink implementation")
	fs.Int("sample-rate", p.SampleRate, "audio sample rate in Hz")
	fs.Int("channels", p.Channels, "audio channel count")
	fs.Duration("sink-buffer", 100*time.Millisecond, "audio device buffer duration")
	fs.Duration("sink-latency", p.Latency, "reported audio output latency")

	fs.Duration("pause-at", 0, "pause playback after this much wall time (0 disables)")
	fs.Duration("pause-for", time.Second, "how long to stay paused")
	fs.Duration("flush-at", 0, "flush both streams after this much wall time (0 disables)")

	fs.Duration("sync-window", d.SyncWindow, "audio lead tolerated at startup before dropping")
	fs.Duration("late-threshold", d.LateThreshold, "lateness at which video frames are dropped")
	fs.Duration("early-threshold", d.EarlyThreshold, "how early a video frame may be released")
	fs.Duration("max-video-delay", d.MaxVideoDelay, "longest scheduled video wait")
	fs.Duration("video-recheck-delay", d.VideoRecheckDelay, "wait used in place of longer video delays")
	fs.Duration("position-interval", d.PositionInterval, "minimum spacing of position updates")
	fs.Duration("audio-retry-delay", d.AudioRetryDelay, "minimum audio refill interval")
	fs.Bool("debug", false, "enable debug logging")
	return fs
}

// Load parses args and layers environment and file settings underneath.
func Load(args []string) (Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	return FromFlags(fs)
}

// FromFlags resolves settings for an already parsed flag set.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Sessions:    v.GetInt("sessions"),
		Duration:    v.GetDuration("duration"),
		FPS:         v.GetFloat64("fps"),
		AudioChunk:  v.GetDuration("audio-chunk"),
		AudioStart:  v.GetDuration("audio-start"),
		VideoStart:  v.GetDuration("video-start"),
		Jitter:      v.GetDuration("jitter"),
		MaxInFlight: v.GetInt("max-in-flight"),
		NoAudio:     v.GetBool("no-audio"),
		NoVideo:     v.GetBool("no-video"),
		Sink:        v.GetString("sink"),
		SampleRate:  v.GetInt("sample-rate"),
		Channels:    v.GetInt("channels"),
		SinkBuffer:  v.GetDuration("sink-buffer"),
		SinkLatency: v.GetDuration("sink-latency"),
		PauseAt:     v.GetDuration("pause-at"),
		PauseFor:    v.GetDuration("pause-for"),
		FlushAt:     v.GetDuration("flush-at"),
		Thresholds: renderer.Config{
			SyncWindow:        v.GetDuration("sync-window"),
			LateThreshold:     v.GetDuration("late-threshold"),
			EarlyThreshold:    v.GetDuration("early-threshold"),
			MaxVideoDelay:     v.GetDuration("max-video-delay"),
			VideoRecheckDelay: v.GetDuration("video-recheck-delay"),
			PositionInterval:  v.GetDuration("position-interval"),
			AudioRetryDelay:   v.GetDuration("audio-retry-delay"),
		},
		Debug: v.GetBool("debug"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings renderer and sink construction do not.
func (c Config) Validate() error {
	switch {
	case c.Sessions < 1:
		return fmt.Errorf("%w: sessions must be at least 1, got %d", ErrInvalid, c.Sessions)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %v", ErrInvalid, c.Duration)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps must be positive, got %v", ErrInvalid, c.FPS)
	case c.AudioChunk <= 0:
		return fmt.Errorf("%w: audio-chunk must be positive, got %v", ErrInvalid, c.AudioChunk)
	case c.NoAudio && c.NoVideo:
		return fmt.Errorf("%w: no-audio and no-video leave nothing to play", ErrInvalid)
	case c.Sink == "":
		return fmt.Errorf("%w: sink name is empty", ErrInvalid)
	}
	if err := c.SinkParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Renderer().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Renderer returns the renderer thresholds.
func (c Config) Renderer() renderer.Config {
	return c.Thresholds
}

// SinkParams returns the audio device parameters.
func (c Config) SinkParams() sink.Params {
	p := sink.Params{
		SampleRate:     c.SampleRate,
		Channels:       c.Channels,
		BytesPerSample: sink.DefaultParams().BytesPerSample,
		Latency:        c.SinkLatency,
	}
	p.BufferFrames = int(c.SinkBuffer * time.Duration(c.SampleRate) / time.Second)
	return p
}

// VideoInterval is the media-time spacing of video frames.
func (c Config) VideoInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}

// FrameCounts returns how many audio buffers and video frames cover
// Duration.
func (c Config) FrameCounts() (audio, video int) {
	if !c.NoAudio {
		audio = int(c.Duration / c.AudioChunk)
	}
	if !c.NoVideo {
		video = int(c.Duration / c.VideoInterval())
	}
	return audio, video
}
