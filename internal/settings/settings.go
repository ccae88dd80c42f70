// Package settings owns the live theater settings and their debounced
// persistence.
package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"theaterd/internal/controller"
)

// Settings are the user-editable theater options.
type Settings struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	MaxRetries   uint   `json:"max_retries" yaml:"max_retries" validate:"gte=1,lte=20"`
	RetryDelayMs uint   `json:"retry_delay_ms" yaml:"retry_delay_ms" validate:"lte=600000"`
	Prompt       string `json:"prompt" yaml:"prompt" validate:"required"`
}

// Defaults mirror the stock extension settings.
func Defaults() Settings {
	return Settings{
		Enabled:      true,
		MaxRetries:   controller.DefaultMaxRetries,
		RetryDelayMs: uint(controller.DefaultRetryDelay / time.Millisecond),
		Prompt:       DefaultPrompt,
	}
}

// Controller converts to the per-run controller view.
func (s Settings) Controller() controller.Settings {
	return controller.Settings{
		Enabled:    s.Enabled,
		MaxRetries: s.MaxRetries,
		RetryDelay: time.Duration(s.RetryDelayMs) * time.Millisecond,
		Prompt:     s.Prompt,
	}
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	MaxRetries   *uint   `json:"max_retries,omitempty"`
	RetryDelayMs *uint   `json:"retry_delay_ms,omitempty"`
	Prompt       *string `json:"prompt,omitempty"`
}

// Apply returns s with p's non-nil fields applied.
func (p Patch) Apply(s Settings) Settings {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.MaxRetries != nil {
		s.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelayMs != nil {
		s.RetryDelayMs = *p.RetryDelayMs
	}
	if p.Prompt != nil {
		s.Prompt = *p.Prompt
	}
	return s
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return &InvalidError{err: err}
	}
	return nil
}

// InvalidError wraps validation failures; the HTTP layer maps it to 400.
type InvalidError struct{ err error }

func (e *InvalidError) Error() string   { return fmt.Sprintf("invalid settings: %v", e.err) }
func (e *InvalidError) Unwrap() error   { return e.err }
func (e *InvalidError) StatusCode() int { return 400 }

// Saver persists settings snapshots.
type Saver interface {
	Save(Settings)
}

// Holder guards the current settings. Readers get a copy, so a run sees a
// consistent snapshot even if settings change mid-run.
type Holder struct {
	mu    sync.RWMutex
	cur   Settings
	saver Saver
}

// NewHolder validates initial and returns a holder persisting through saver
// (which may be nil).
func NewHolder(initial Settings, saver Saver) (*Holder, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Holder{cur: initial, saver: saver}, nil
}

// Get returns the current settings.
func (h *Holder) Get() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Update validates and installs p, then schedules a save.
func (h *Holder) Update(p Patch) (Settings, error) {
	h.mu.Lock()
	next := p.Apply(h.cur)
	if err := next.Validate(); err != nil {
		h.mu.Unlock()
		return h.Get(), err
	}
	h.cur = next
	h.mu.Unlock()
	if h.saver != nil {
		h.saver.Save(next)
	}
	return next, nil
}
