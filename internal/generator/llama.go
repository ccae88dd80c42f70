//go:build llama

package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// Llama runs generation in-process with go-llama.cpp.
type Llama struct {
	mu        sync.Mutex
	model     *llama.LLama
	threads   int
	maxTokens int
	topP      float32
	temp      float32
}

// NewLlama loads the model at cfg.ModelPath.
func NewLlama(cfg Config) (Generator, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("%w: llama backend requires model_path", ErrInvalidConfig)
	}
	m, err := llama.New(cfg.ModelPath, llama.SetContext(zn(cfg.ContextSize, 2048)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Llama{
		model:     m,
		threads:   cfg.Threads,
		maxTokens: cfg.MaxTokens,
		topP:      cfg.TopP,
		temp:      cfg.Temperature,
	}, nil
}

// Generate runs a blocking prediction, stopping early when ctx is done.
func (l *Llama) Generate(ctx context.Context, prompt string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return "", fmt.Errorf("%w: llama model closed", ErrUnavailable)
	}
	l.model.SetTokenCallback(func(string) bool { return ctx.Err() == nil })
	text, err := l.model.Predict(prompt,
		llama.SetTokens(zn(l.maxTokens, 512)),
		llama.SetThreads(zn(l.threads, 4)),
		llama.SetTopP(zf(l.topP, llama.DefaultOptions.TopP)),
		llama.SetTemperature(zf(l.temp, llama.DefaultOptions.Temperature)),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

// Close frees the model.
func (l *Llama) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
