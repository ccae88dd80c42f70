package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"theaterd/internal/theater"
)

func TestReadNotices(t *testing.T) {
	stream := ": connected\n\n" +
		"id: a\nevent: notice\ndata: {\"id\":\"a\",\"level\":\"info\",\"message\":\"generating... (1/3)\"}\n\n" +
		": ping\n\n" +
		"id: b\nevent: notice\ndata: {\"id\":\"b\",\"level\":\"success\",\"message\":\"generation complete\"}\n\n"
	var got []theater.Notice
	if err := readNotices(strings.NewReader(stream), func(n theater.Notice) { got = append(got, n) }); err != nil {
		t.Fatalf("readNotices: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].Level != theater.LevelSuccess {
		t.Fatalf("unexpected notices: %+v", got)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a\n\nb", 10); got != "a b" {
		t.Fatalf("preview=%q", got)
	}
	if got := preview("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("preview=%q", got)
	}
}

func TestDoJSONDecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"generation already in progress","code":429}`))
	}))
	defer srv.Close()

	err := doJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL+"/generate", map[string]any{}, nil)
	var ae *apiError
	if !errors.As(err, &ae) || ae.Status != http.StatusTooManyRequests || ae.Msg != "generation already in progress" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("THEATERD_ADDR", ":7000")
	cfg, err := loadConfig(serveOptions{addr: ":9001", backend: "static"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9001" || cfg.Backend.Kind != "static" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadConfigRejectsOpenAIWithoutURL(t *testing.T) {
	t.Setenv("THEATERD_BACKEND", "")
	t.Setenv("THEATERD_BACKEND_URL", "")
	if _, err := loadConfig(serveOptions{}); err == nil {
		t.Fatalf("expected validation error for openai backend without base_url")
	}
}
