package pipeline

import (
	"errors"
	"fmt"
)

// FatalStageError aborts the run. The only fatal condition in the pipeline
// is an entry stage yielding zero features; everything downstream degrades
// instead of failing the run.
type FatalStageError struct {
	Stage  string
	Reason string
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("fatal failure in stage %s: %s", e.Stage, e.Reason)
}

// DegradedStageError records a partial stage failure. The run continues with
// reduced artifacts and the reason lands on the Run's degradation records.
type DegradedStageError struct {
	Stage  string
	Reason string
}

func (e *DegradedStageError) Error() string {
	return fmt.Sprintf("degraded stage %s: %s", e.Stage, e.Reason)
}

// TransientError marks a retryable capability failure (LLM or probe call).
// Once retries are exhausted the caller converts it to a degradation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsFatal reports whether err is (or wraps) a FatalStageError.
func IsFatal(err error) bool {
	var fe *FatalStageError
	return errors.As(err, &fe)
}

// IsDegraded reports whether err is (or wraps) a DegradedStageError.
func IsDegraded(err error) bool {
	var de *DegradedStageError
	return errors.As(err, &de)
}
