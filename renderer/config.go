package renderer

import "time"

// Config holds the pacing thresholds. The defaults are hand-tuned values
// carried over from long-standing renderer behaviour rather than derived;
// every one of them can be overridden.
type Config struct {
	// SyncWindow is the largest amount audio may start ahead of video
	// before leading audio is dropped at startup.
	SyncWindow time.Duration `json:"syncWindow"`
	// LateThreshold is how late a video frame may be and still be displayed.
	LateThreshold time.Duration `json:"lateThreshold"`
	// EarlyThreshold is how early a video frame may be drained before it is
	// left queued for a later attempt.
	EarlyThreshold time.Duration `json:"earlyThreshold"`
	// MaxVideoDelay caps how far ahead a video drain is scheduled. Longer
	// waits are replaced by VideoRecheckDelay so timestamp jumps are noticed.
	MaxVideoDelay     time.Duration `json:"maxVideoDelay"`
	VideoRecheckDelay time.Duration `json:"videoRecheckDelay"`
	// PositionInterval rate-limits position notifications.
	PositionInterval time.Duration `json:"positionInterval"`
	// AudioRetryDelay is the shortest interval between audio refills.
	AudioRetryDelay time.Duration `json:"audioRetryDelay"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SyncWindow:        100 * time.Millisecond,
		LateThreshold:     40 * time.Millisecond,
		EarlyThreshold:    50 * time.Millisecond,
		MaxVideoDelay:     80 * time.Millisecond,
		VideoRecheckDelay: 35 * time.Millisecond,
		PositionInterval:  100 * time.Millisecond,
		AudioRetryDelay:   5 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SyncWindow == 0 {
		c.SyncWindow = d.SyncWindow
	}
	if c.LateThreshold == 0 {
		c.LateThreshold = d.LateThreshold
	}
	if c.EarlyThreshold == 0 {
		c.EarlyThreshold = d.EarlyThreshold
	}
	if c.MaxVideoDelay == 0 {
		c.MaxVideoDelay = d.MaxVideoDelay
	}
	if c.VideoRecheckDelay == 0 {
		c.VideoRecheckDelay = d.VideoRecheckDelay
	}
	if c.PositionInterval == 0 {
		c.PositionInterval = d.PositionInterval
	}
	if c.AudioRetryDelay == 0 {
		c.AudioRetryDelay = d.AudioRetryDelay
	}
	return c
}

// Validate rejects negative thresholds and a recheck delay longer than the
// cap it stands in for.
func (c Config) Validate() error {
	fields := []struct {
		name string
		v    time.Duration
	}{
		{"SyncWindow", c.SyncWindow},
		{"LateThreshold", c.LateThreshold},
		{"EarlyThreshold", c.EarlyThreshold},
		{"MaxVideoDelay", c.MaxVideoDelay},
		{"VideoRecheckDelay", c.VideoRecheckDelay},
		{"PositionInterval", c.PositionInterval},
		{"AudioRetryDelay", c.AudioRetryDelay},
	}
	for _, f := range fields {
		if f.v < 0 {
			return &ConfigError{Field: f.name, Value: f.v}
		}
	}
	if c.VideoRecheckDelay > c.MaxVideoDelay {
		return &ConfigError{Field: "VideoRecheckDelay", Value: c.VideoRecheckDelay}
	}
	return nil
}
