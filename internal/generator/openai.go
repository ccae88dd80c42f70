package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// OpenAI talks to an OpenAI-compatible /v1/completions endpoint (llama.cpp
// server, vLLM and friends) and accumulates the streamed text.
type OpenAI struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float32
	topP        float32
	reqTimeout  time.Duration
	httpClient  *http.Client
}

// NewOpenAI constructs a server-backed generator.
func NewOpenAI(cfg Config) *OpenAI {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout stays 0: deadlines travel on the request context.
	return &OpenAI{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		reqTimeout:  cfg.RequestTimeout,
		httpClient:  &http.Client{Transport: tr},
	}
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	Stream      bool    `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// llama.cpp native streaming
	Content string `json:"content"`
}

// Generate posts prompt and returns the concatenated streamed text.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if o.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(completionRequest{
		Model:       o.model,
		Prompt:      prompt,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		TopP:        o.topP,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return decodeWhole(resp.Body)
	}
	return readStream(ctx, resp.Body)
}

// readStream accumulates "data:" lines until [DONE] or EOF.
func readStream(ctx context.Context, r io.Reader) (string, error) {
	var out strings.Builder
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "data:") {
			data := strings.TrimSpace(line[len("data:"):])
			if data == "[DONE]" {
				return out.String(), nil
			}
			var chunk completionChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr == nil {
				out.WriteString(chunk.text())
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out.String(), nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
	}
}

func decodeWhole(r io.Reader) (string, error) {
	var chunk completionChunk
	if err := json.NewDecoder(r).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	return chunk.text(), nil
}

func (c completionChunk) text() string {
	if len(c.Choices) == 0 {
		return c.Content
	}
	if c.Choices[0].Text != "" {
		return c.Choices[0].Text
	}
	return c.Choices[0].Delta.Content
}
