package settings

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is the save window used when none is configured.
const DefaultDebounce = time.Second

// File persists settings as YAML, coalescing bursts of saves into one write
// per debounce window.
type File struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending *Settings
	timer   *time.Timer

	// wmu orders writes so a newer snapshot is never overwritten by an older one.
	wmu sync.Mutex
}

// NewFile returns a debounced YAML saver for path.
func NewFile(path string, debounce time.Duration, log zerolog.Logger) *File {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &File{path: path, debounce: debounce, log: log}
}

// Load reads settings from the file. ok is false if the file does not exist.
func (f *File) Load() (s Settings, ok bool, err error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, err
	}
	s = Defaults()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings %s: %w", f.path, err)
	}
	return s, true, nil
}

// Save schedules s to be written after the debounce window.
func (f *File) Save(s Settings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = &s
	if f.timer == nil {
		f.timer = time.AfterFunc(f.debounce, func() { _ = f.Flush() })
	}
}

// Flush writes any pending settings immediately.
func (f *File) Flush() error {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	f.mu.Lock()
	s := f.pending
	f.pending = nil
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	if s == nil {
		return nil
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		f.log.Error().Err(err).Str("path", f.path).Msg("settings save failed")
		return err
	}
	f.log.Debug().Str("path", f.path).Msg("settings saved")
	return nil
}
