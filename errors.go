package cohort

import "errors"

var (
	// Lifecycle errors.
	ErrAlreadyRunning = errors.New("cohort: worker already running")
	ErrNoCoordinator  = errors.New("cohort: no coordinator address configured")
	ErrNoExecutor     = errors.New("cohort: no executor configured")
	ErrTerminated     = errors.New("cohort: terminated")
	ErrInterrupted    = errors.New("cohort: interrupted")
)
