package controller

import "time"

// Observer receives progress callbacks from a run. Implementations must be
// lightweight and must not panic; they are invoked synchronously.
type Observer interface {
	// AttemptStarted is called before attempt n of total.
	AttemptStarted(run Run, n, total int)
	// AttemptFailed is called after attempt n fails. delay is the pause
	// before the next attempt, or zero when no attempts remain.
	AttemptFailed(run Run, n, total int, err error, delay time.Duration)
	// Finished is called once per admitted run with its terminal outcome.
	Finished(run Run, text string, err error)
}

// NopObserver drops every callback.
type NopObserver struct{}

func (NopObserver) AttemptStarted(Run, int, int)                      {}
func (NopObserver) AttemptFailed(Run, int, int, error, time.Duration) {}
func (NopObserver) Finished(Run, string, error)                       {}

// Observers fans callbacks out to several observers in order.
type Observers []Observer

func (o Observers) AttemptStarted(run Run, n, total int) {
	for _, x := range o {
		x.AttemptStarted(run, n, total)
	}
}

func (o Observers) AttemptFailed(run Run, n, total int, err error, delay time.Duration) {
	for _, x := range o {
		x.AttemptFailed(run, n, total, err, delay)
	}
}

func (o Observers) Finished(run Run, text string, err error) {
	for _, x := range o {
		x.Finished(run, text, err)
	}
}
