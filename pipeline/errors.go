package pipeline

import (
	"errors"
	"fmt"
)

// Retryable marks err as a transient failure (network, remote unavailable).
// Stages retry every capability error under their RetryPolicy; the marker
// only feeds logging and the ledger.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }
func RetryableErr(err error) error {
	if err == nil {
		return nil
	}
	return &Retryable{Err: err}
}
func IsRetryable(err error) bool { return errors.As(err, new(*Retryable)) }

// ErrRetriesExhausted is matched by every error returned when a RetryPolicy
// gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrDefinitionsUnavailable is returned by IngestStage.Current while no
// valid definition set is available.
var ErrDefinitionsUnavailable = errors.New("definitions are unavailable")

// ExhaustedError reports the last failure of an operation whose retries ran out.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// FatalError terminates the whole pipeline. Run returns it so the process
// can exit non-zero; stages never exit on their own.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func IsFatal(err error) bool { return errors.As(err, new(*FatalError)) }
