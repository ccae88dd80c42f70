package controller

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a run is already active. It is transient: the
// caller should surface it as a notice, not as a failure.
var ErrBusy = errors.New("generation already in progress")

// ErrEmptyResult marks an attempt whose generated text was blank.
var ErrEmptyResult = errors.New("generated content is empty")

// ErrGenerationFailed is matched by every GenerationFailedError.
var ErrGenerationFailed = errors.New("generation failed")

// GenerationFailedError is the terminal outcome of a run that exhausted its
// attempts without a non-empty result.
type GenerationFailedError struct {
	Attempts int
	Last     error
}

func (e *GenerationFailedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("generation failed after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *GenerationFailedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrGenerationFailed}
	}
	return []error{ErrGenerationFailed, e.Last}
}

// IsBusy reports whether err is a single-flight rejection.
func IsBusy(err error) bool { return errors.Is(err, ErrBusy) }

// IsGenerationFailed reports whether err is a terminal generation failure.
func IsGenerationFailed(err error) bool { return errors.Is(err, ErrGenerationFailed) }

// IsEmptyResult reports whether err came from a blank generation.
func IsEmptyResult(err error) bool { return errors.Is(err, ErrEmptyResult) }
