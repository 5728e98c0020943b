package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/zsiec/avsync/media"
)

// Sentinel errors for renderer construction. These enable callers to
// distinguish failure modes using errors.Is.
var (
	ErrSinkRequired  = errors.New("renderer: audio sink is required")
	ErrInvalidConfig = errors.New("renderer: invalid config")
)

// ConfigError reports which Config field failed validation.
type ConfigError struct {
	Field string
	Value time.Duration
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("renderer: invalid config %s=%v", e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// mustKind panics on a stream kind no caller can legitimately produce.
func mustKind(kind media.StreamKind) {
	if !kind.Valid() {
		panic(fmt.Sprintf("renderer: unknown stream kind %d", int(kind)))
	}
}
