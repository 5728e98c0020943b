package looper

import "errors"

// Sentinel errors returned by Looper.
var (
	ErrAlreadyRun = errors.New("looper: Run called more than once")
	ErrStopped    = errors.New("looper: stopped")
)
