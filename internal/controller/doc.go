// Package controller serializes theater generation runs. A Controller admits
// one run at a time, rejecting (never queueing) concurrent callers, and
// retries a failed or empty generation up to the configured attempt budget
// with a fixed delay between attempts.
//
//   - controller.go: Controller, Settings and the Run loop.
//   - errors.go: ErrBusy, ErrEmptyResult, GenerationFailedError and Is* helpers.
//   - observer.go: Observer hooks for progress reporting.
//   - metrics.go: Prometheus instrumentation of runs and attempts.
package controller
