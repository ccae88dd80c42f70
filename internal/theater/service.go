// Package theater wires the generation controller to the chat transcript:
// it reacts to new assistant messages, runs generation, appends the result
// and reports progress as notices.
package theater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"theaterd/internal/chat"
	"theaterd/internal/controller"
	"theaterd/internal/generator"
	"theaterd/internal/settings"
)

// DefaultSettleDelay is the pause after a new message before generating,
// giving the host time to finish rendering it.
const DefaultSettleDelay = 800 * time.Millisecond

// ErrDisabled is returned when generation is switched off in settings.
var ErrDisabled = errors.New("theater generation is disabled")

// Result describes a successful generation.
type Result struct {
	Index    int          `json:"index"`
	Text     string       `json:"text"`
	Attempts int          `json:"attempts"`
	Message  chat.Message `json:"message"`
}

// Config wires a Service.
type Config struct {
	Generator   generator.Generator
	Store       chat.Store
	Settings    *settings.Holder
	Notifier    Notifier
	Logger      zerolog.Logger
	SettleDelay time.Duration
}

// Service is the theater orchestration layer.
type Service struct {
	ctl      *controller.Controller
	store    chat.Store
	settings *settings.Holder
	notify   Notifier
	log      zerolog.Logger
	settle   time.Duration
	started  time.Time
}

// New constructs a Service from cfg.
func New(cfg Config) *Service {
	n := cfg.Notifier
	if n == nil {
		n = LogNotifier{Log: cfg.Logger}
	}
	settle := cfg.SettleDelay
	if settle < 0 {
		settle = 0
	}
	p := &progress{notify: n, log: cfg.Logger}
	return &Service{
		ctl:      controller.New(cfg.Generator, controller.WithObserver(p)),
		store:    cfg.Store,
		settings: cfg.Settings,
		notify:   n,
		log:      cfg.Logger,
		settle:   settle,
		started:  time.Now(),
	}
}

// Busy reports whether a generation run is in progress.
func (s *Service) Busy() bool { return s.ctl.Active() }

// Ready reports whether the service has its collaborators wired.
func (s *Service) Ready() bool { return s.store != nil && s.settings != nil }

// Settings returns the current settings.
func (s *Service) Settings() settings.Settings { return s.settings.Get() }

// UpdateSettings validates and applies a partial settings update.
func (s *Service) UpdateSettings(p settings.Patch) (settings.Settings, error) {
	return s.settings.Update(p)
}

// Store exposes the transcript.
func (s *Service) Store() chat.Store { return s.store }

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration { return time.Since(s.started) }

// OnMessage is the inbound port for "a message was added" events. After the
// settle delay it generates for the newest message when that message is not
// from the user. It returns nil when the event is ignored.
func (s *Service) OnMessage(ctx context.Context, index int) error {
	if !s.settings.Get().Enabled {
		return nil
	}
	if s.settle > 0 {
		t := time.NewTimer(s.settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	last, ok := s.store.Last()
	if !ok || last.IsUser {
		s.log.Debug().Int("index", index).Msg("latest message is not a reply; skipping")
		return nil
	}
	_, err := s.Generate(ctx, &last.Index)
	return err
}

// Generate runs the controller for ref (nil means the newest message) and
// appends the text on success. Every outcome is reported as a notice.
func (s *Service) Generate(ctx context.Context, ref *int) (Result, error) {
	cur := s.settings.Get()
	if !cur.Enabled {
		s.log.Debug().Msg("theater disabled; skipping generation")
		return Result{}, ErrDisabled
	}
	target := -1
	if ref != nil {
		target = *ref
	}

	out, err := s.ctl.Do(ctx, target, cur.Controller())
	if controller.IsBusy(err) {
		s.notify.Notify(newNotice(LevelWarning, 2*time.Second, "generation in progress, please wait"))
		return Result{}, err
	}
	if err != nil {
		s.notify.Notify(newNotice(LevelError, 5*time.Second, "generation failed: "+rootCause(err)))
		return Result{}, err
	}

	index := target
	if ref == nil {
		index = s.store.Len() - 1
	}
	msg, err := s.store.AppendText(index, out.Text)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		s.notify.Notify(newNotice(LevelError, 3*time.Second, chat.ErrNotFound.Error()))
		return Result{}, err
	case errors.Is(err, chat.ErrUserMessage):
		s.notify.Notify(newNotice(LevelWarning, 3*time.Second, chat.ErrUserMessage.Error()))
		return Result{}, err
	case err != nil:
		s.notify.Notify(newNotice(LevelError, 5*time.Second, "saving chat failed: "+err.Error()))
		return Result{}, fmt.Errorf("append theater to message %d: %w", index, err)
	}
	s.notify.Notify(newNotice(LevelSuccess, 2*time.Second, "generation complete"))
	s.log.Info().Str("run_id", out.RunID).Int("index", index).Int("attempts", out.Attempts).Msg("theater appended")
	return Result{Index: index, Text: out.Text, Attempts: out.Attempts, Message: msg}, nil
}

// rootCause picks the last underlying error for display.
func rootCause(err error) string {
	var gf *controller.GenerationFailedError
	if errors.As(err, &gf) && gf.Last != nil {
		return gf.Last.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
