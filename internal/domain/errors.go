package domain

import "errors"

// Domain errors represent error conditions in the relpd domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running listener.
	ErrAlreadyRunning = errors.New("relpd: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped listener.
	ErrNotRunning = errors.New("relpd: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("relpd: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("relpd: invalid configuration")
)
