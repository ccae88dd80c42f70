package controller

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"theaterd/internal/generator"
)

// Defaults applied by Settings.Normalize.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Settings are read once at the start of each run.
type Settings struct {
	Enabled    bool
	MaxRetries uint
	RetryDelay time.Duration
	Prompt     string
}

// attempts returns the attempt budget; at least one attempt is always made.
func (s Settings) attempts() int {
	if s.MaxRetries == 0 {
		return 1
	}
	return int(s.MaxRetries)
}

// Target is the opaque reference a run's text will be attached to.
// The controller never interprets it.
type Target any

// Run identifies one admitted generation run.
type Run struct {
	ID      string
	Target  Target
	Started time.Time
}

// Controller admits at most one run at a time.
type Controller struct {
	gen    generator.Generator
	obs    Observer
	active atomic.Bool
	// sleep waits for d or ctx; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver installs progress callbacks.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.obs = o
		}
	}
}

// New returns an idle Controller calling gen for each attempt.
func New(gen generator.Generator, opts ...Option) *Controller {
	c := &Controller{gen: gen, obs: NopObserver{}, sleep: sleepCtx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Active reports whether a run is in progress.
func (c *Controller) Active() bool { return c.active.Load() }

// Outcome describes a completed run.
type Outcome struct {
	RunID    string
	Text     string
	Attempts int
}

// Run performs one bounded-retry generation for target. It returns ErrBusy
// without side effects when another run is active, the generated text on the
// first non-blank result, or a *GenerationFailedError once every attempt has
// failed. The active flag is cleared on every exit path.
func (c *Controller) Run(ctx context.Context, target Target, s Settings) (string, error) {
	out, err := c.Do(ctx, target, s)
	return out.Text, err
}

// Do is Run with the attempt count and run ID reported alongside the text.
func (c *Controller) Do(ctx context.Context, target Target, s Settings) (Outcome, error) {
	if !c.active.CompareAndSwap(false, true) {
		busyTotal.Inc()
		return Outcome{}, ErrBusy
	}
	defer c.active.Store(false)
	activeGauge.Set(1)
	defer activeGauge.Set(0)

	run := Run{ID: uuid.NewString(), Target: target, Started: time.Now()}
	text, attempts, err := c.loop(ctx, run, s)
	observeRun(run, attempts, err)
	c.obs.Finished(run, text, err)
	return Outcome{RunID: run.ID, Text: text, Attempts: attempts}, err
}

func (c *Controller) loop(ctx context.Context, run Run, s Settings) (text string, n int, err error) {
	limit := s.attempts()
	var last error
	for n = 1; n <= limit; n++ {
		c.obs.AttemptStarted(run, n, limit)
		attemptsTotal.Inc()
		text, last = c.attempt(ctx, s.Prompt)
		if last == nil {
			return text, n, nil
		}
		var delay time.Duration
		if n < limit {
			delay = s.RetryDelay
		}
		c.obs.AttemptFailed(run, n, limit, last, delay)
		if n == limit {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", n, &GenerationFailedError{Attempts: n, Last: err}
		}
	}
	return "", limit, &GenerationFailedError{Attempts: limit, Last: last}
}

// attempt makes one generation call. Panics from the generator are turned
// into attempt failures so the run still releases its slot.
func (c *Controller) attempt(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("generator panic: %v", r)
		}
	}()
	text, err = c.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
