// Package generator provides the text-generation backends theaterd calls for
// each attempt: an OpenAI-compatible HTTP server, Google Gemini, in-process
// llama.cpp (build tag `llama`) and a static echo backend for demos.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Generator produces text for a prompt. Implementations may return an empty
// string; callers treat that as a failed attempt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

var (
	// ErrUnavailable signals a backend that is not built or not reachable.
	ErrUnavailable = errors.New("generator unavailable")
	// ErrInvalidConfig signals a backend configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid generator config")
)

// Backend kinds accepted by New.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
	KindLlama  = "llama"
	KindStatic = "static"
)

// Config selects and parameterizes a backend.
type Config struct {
	Kind string
	// openai
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// openai, gemini
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	// llama
	ModelPath   string
	ContextSize int
	Threads     int
	// static
	Text string
}

// New constructs the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindOpenAI, "":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("%w: openai backend requires base_url", ErrInvalidConfig)
		}
		return NewOpenAI(cfg), nil
	case KindGemini:
		return NewGemini(ctx, cfg)
	case KindLlama:
		return NewLlama(cfg)
	case KindStatic:
		return Static(cfg.Text), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfig, cfg.Kind)
	}
}

// Static returns text for every prompt.
type Static string

func (s Static) Generate(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}
