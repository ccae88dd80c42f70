package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theaterd/internal/generator"
)

// scripted returns results[i] (or errs[i]) on the i-th call and repeats the
// last entry once exhausted.
type scripted struct {
	mu      sync.Mutex
	results []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scripted) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	var err error
	if len(s.errs) > 0 {
		err = s.errs[min(i, len(s.errs)-1)]
	}
	if err != nil {
		return "", err
	}
	return s.results[min(i, len(s.results)-1)], nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingObserver struct {
	started  []int
	failed   []error
	delays   []time.Duration
	finished int
}

func (r *recordingObserver) AttemptStarted(_ Run, n, _ int) { r.started = append(r.started, n) }
func (r *recordingObserver) AttemptFailed(_ Run, _, _ int, err error, d time.Duration) {
	r.failed = append(r.failed, err)
	r.delays = append(r.delays, d)
}
func (r *recordingObserver) Finished(Run, string, error) { r.finished++ }

func noSleep(c *Controller) *Controller {
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestRunExhaustsEveryAttempt(t *testing.T) {
	for _, n := range []uint{1, 2, 3, 5} {
		gen := &scripted{results: []string{""}}
		c := noSleep(New(gen))
		_, err := c.Run(context.Background(), 0, Settings{MaxRetries: n, Prompt: "p"})
		require.Error(t, err)
		assert.True(t, IsGenerationFailed(err))
		assert.True(t, IsEmptyResult(err))
		var gf *GenerationFailedError
		require.ErrorAs(t, err, &gf)
		assert.Equal(t, int(n), gf.Attempts)
		assert.Equal(t, int(n), gen.Calls())
		assert.False(t, c.Active())
	}
}

func TestRunStopsAtFirstNonEmpty(t *testing.T) {
	for k := 1; k <= 4; k++ {
		results := make([]string, k)
		results[k-1] = "scene"
		gen := &scripted{results: results}
		c := noSleep(New(gen))
		out, err := c.Run(context.Background(), 0, Settings{MaxRetries: 4, Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "scene", out)
		assert.Equal(t, k, gen.Calls())
	}
}

func TestRunEmptyThenOK(t *testing.T) {
	gen := &scripted{results: []string{"", "", "ok"}}
	obs := &recordingObserver{}
	c := New(gen, WithObserver(obs))
	out, err := c.Run(context.Background(), "msg-7", Settings{MaxRetries: 3, RetryDelay: 0, Prompt: "theater"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, []int{1, 2, 3}, obs.started)
	assert.Len(t, obs.failed, 2)
	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, []string{"theater", "theater", "theater"}, gen.prompts)
}

func TestRunAlwaysEmptyTwoAttempts(t *testing.T) {
	gen := &scripted{results: []string{""}}
	c := New(gen)
	_, err := c.Run(context.Background(), nil, Settings{MaxRetries: 2})
	require.Error(t, err)
	assert.True(t, IsGenerationFailed(err))
	assert.Equal(t, 2, gen.Calls())
}

func TestRunKeepsLastError(t *testing.T) {
	boom := errors.New("backend down")
	gen := &scripted{errs: []error{errors.New("first"), boom}}
	c := noSleep(New(gen))
	_, err := c.Run(context.Background(), nil, Settings{MaxRetries: 2})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "backend down")
}

func TestRunWhitespaceIsEmpty(t *testing.T) {
	gen := &scripted{results: []string{" \n\t", "  text  "}}
	c := noSleep(New(gen))
	out, err := c.Run(context.Background(), nil, Settings{MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, "  text  ", out)
}

func TestRunZeroRetriesMakesOneAttempt(t *testing.T) {
	gen := &scripted{results: []string{""}}
	_, err := New(gen).Run(context.Background(), nil, Settings{MaxRetries: 0})
	require.Error(t, err)
	assert.Equal(t, 1, gen.Calls())
}

func TestRunFixedDelayBetweenAttempts(t *testing.T) {
	gen := &scripted{results: []string{""}}
	obs := &recordingObserver{}
	c := New(gen, WithObserver(obs))
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	_, err := c.Run(context.Background(), nil, Settings{MaxRetries: 3, RetryDelay: 2 * time.Second})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, slept)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 0}, obs.delays)
}

func TestRunBusyRejectsWithoutConsumingAttempts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	gen := generator.Func(func(ctx context.Context, _ string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
		return "done", nil
	})
	c := New(gen)
	assert.False(t, c.Active())

	res := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), 1, Settings{MaxRetries: 3})
		res <- err
	}()
	<-entered
	assert.True(t, c.Active())

	_, err := c.Run(context.Background(), 2, Settings{MaxRetries: 3})
	require.ErrorIs(t, err, ErrBusy)
	assert.True(t, IsBusy(err))
	assert.True(t, c.Active(), "busy rejection must not clear the active run")

	close(release)
	require.NoError(t, <-res)
	assert.False(t, c.Active())
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestRunRecoversGeneratorPanic(t *testing.T) {
	calls := 0
	gen := generator.Func(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return "fine", nil
	})
	c := noSleep(New(gen))
	out, err := c.Run(context.Background(), nil, Settings{MaxRetries: 2})
	require.NoError(t, err)
	assert.Equal(t, "fine", out)
	assert.False(t, c.Active())
}

func TestRunShutdownDuringDelay(t *testing.T) {
	gen := &scripted{results: []string{""}}
	c := New(gen)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, nil, Settings{MaxRetries: 3, RetryDelay: time.Hour})
	require.Error(t, err)
	assert.True(t, IsGenerationFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gen.Calls())
	assert.False(t, c.Active())
}

func TestControllerReusableAfterFailure(t *testing.T) {
	gen := &scripted{results: []string{"", "again"}}
	c := noSleep(New(gen))
	_, err := c.Run(context.Background(), nil, Settings{MaxRetries: 1})
	require.Error(t, err)
	out, err := c.Run(context.Background(), nil, Settings{MaxRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, "again", out)
}
