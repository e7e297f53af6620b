package core

import "errors"

var (
	// ErrActorNotFound is returned for pids that name no live actor or supervisor.
	ErrActorNotFound = errors.New("actor not found")

	// ErrMailboxClosed is returned when delivering to a stopped actor's mailbox.
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrRestartLimit is the reason a supervisor escalates after exceeding
	// its restart intensity.
	ErrRestartLimit = errors.New("restart limit exceeded")

	// ErrSystemClosed is returned by every operation after Close.
	ErrSystemClosed = errors.New("system closed")

	// ErrModuleNotFound is returned for unregistered module ids.
	ErrModuleNotFound = errors.New("module not found")

	// ErrAlreadyRunning is returned when RunToCompletion is called while a
	// run is in progress.
	ErrAlreadyRunning = errors.New("system already running")

	// ErrStopped is the reason recorded for actors stopped by their supervisor.
	ErrStopped = errors.New("stopped by supervisor")
)
