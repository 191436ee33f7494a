package core

import "fmt"

// WorkerErrorKind classifies worker failures for user-facing hints.
type WorkerErrorKind string

const (
	// WorkerErrorUnknown is an uncategorized worker failure.
	WorkerErrorUnknown WorkerErrorKind = "unknown"
	// WorkerErrorUnavailable indicates the worker is not running and could not be started.
	WorkerErrorUnavailable WorkerErrorKind = "unavailable"
	// WorkerErrorSpawn indicates the worker process failed to start.
	WorkerErrorSpawn WorkerErrorKind = "spawn"
	// WorkerErrorTimeout indicates no response arrived within the request window.
	WorkerErrorTimeout WorkerErrorKind = "timeout"
	// WorkerErrorCrashed indicates the worker exited with requests in flight.
	WorkerErrorCrashed WorkerErrorKind = "crashed"
	// WorkerErrorRemote carries a structured failure reported by the worker.
	WorkerErrorRemote WorkerErrorKind = "remote"
)

// WorkerError wraps worker failures with a stable classification.
type WorkerError struct {
	Kind    WorkerErrorKind
	Op      string
	Message string
	Err     error
}

// NewWorkerError constructs a classified worker error.
func NewWorkerError(kind WorkerErrorKind, op string, err error) *WorkerError {
	return &WorkerError{Kind: kind, Op: op, Err: err}
}

func (e *WorkerError) Error() string {
	if e == nil {
		return "worker error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("worker %s failed", e.Op)
	}
	return "worker error"
}

func (e *WorkerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
