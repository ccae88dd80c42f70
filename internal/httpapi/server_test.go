package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"theaterd/internal/chat"
	"theaterd/internal/controller"
	"theaterd/internal/settings"
	"theaterd/internal/theater"
)

type mockService struct {
	mu       sync.Mutex
	store    *chat.MemoryStore
	settings settings.Settings
	busy     bool
	ready    bool
	genErr   error
	genRef   *int
	events   []int
	setErr   error
}

func newMock() *mockService {
	return &mockService{store: chat.NewMemoryStore(), settings: settings.Defaults(), ready: true}
}

func (m *mockService) Generate(ctx context.Context, ref *int) (theater.Result, error) {
	m.mu.Lock()
	m.genRef = ref
	m.mu.Unlock()
	if m.genErr != nil {
		return theater.Result{}, m.genErr
	}
	return theater.Result{Index: 1, Text: "scene", Attempts: 2}, nil
}

func (m *mockService) OnMessage(ctx context.Context, index int) error {
	m.mu.Lock()
	m.events = append(m.events, index)
	m.mu.Unlock()
	return nil
}

func (m *mockService) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockService) Busy() bool                  { return m.busy }
func (m *mockService) Ready() bool                 { return m.ready }
func (m *mockService) Settings() settings.Settings { return m.settings }
func (m *mockService) Store() chat.Store           { return m.store }
func (m *mockService) Uptime() time.Duration       { return 3 * time.Second }
func (m *mockService) UpdateSettings(p settings.Patch) (settings.Settings, error) {
	if m.setErr != nil {
		return m.settings, m.setErr
	}
	m.settings = p.Apply(m.settings)
	return m.settings, nil
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostMessageTriggersEventForReplies(t *testing.T) {
	svc := newMock()
	h := NewMux(svc, theater.NewHub(1))

	w := postJSON(h, "/messages", `{"name":"you","is_user":true,"text":"hi"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = postJSON(h, "/messages", `{"name":"Aria","text":"hello"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var m chat.Message
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m.Index != 1 || m.IsUser {
		t.Fatalf("unexpected message: %+v", m)
	}
	deadline := time.Now().Add(time.Second)
	for svc.eventCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected exactly one message event, got %d", svc.eventCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPostMessageValidation(t *testing.T) {
	h := NewMux(newMock(), nil)
	if w := postJSON(h, "/messages", `{"name":"Aria"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing text: status=%d", w.Code)
	}
	if w := postJSON(h, "/messages", `not-json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"text":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("no content-type: status=%d", w.Code)
	}
}

func TestListAndGetMessages(t *testing.T) {
	svc := newMock()
	_, _ = svc.store.Append(chat.Message{Name: "you", IsUser: true, Text: "hi"})
	_, _ = svc.store.Append(chat.Message{Name: "Aria", Text: "hello"})
	h := NewMux(svc, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages?role=assistant", nil))
	var body map[string][]chat.Message
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body["messages"]) != 1 || body["messages"][0].Name != "Aria" {
		t.Fatalf("unexpected filter result: %+v", body)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/0", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"is_user":true`) {
		t.Fatalf("get: status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/5", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing: status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/messages/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-integer: status=%d", w.Code)
	}
}

func TestGenerateEmptyBodyTargetsLatest(t *testing.T) {
	svc := newMock()
	h := NewMux(svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var res theater.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if res.Text != "scene" || res.Attempts != 2 || svc.genRef != nil {
		t.Fatalf("unexpected result: %+v ref=%v", res, svc.genRef)
	}
}

func TestGenerateWithIndex(t *testing.T) {
	svc := newMock()
	h := NewMux(svc, nil)
	if w := postJSON(h, "/generate", `{"index":3}`); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.genRef == nil || *svc.genRef != 3 {
		t.Fatalf("index not forwarded: %v", svc.genRef)
	}
	if w := postJSON(h, "/generate", `{"index":-1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("negative index: status=%d", w.Code)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{controller.ErrBusy, http.StatusTooManyRequests},
		{theater.ErrDisabled, http.StatusConflict},
		{chat.ErrNotFound, http.StatusNotFound},
		{chat.ErrUserMessage, http.StatusUnprocessableEntity},
		{&controller.GenerationFailedError{Attempts: 3, Last: controller.ErrEmptyResult}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := newMock()
		svc.genErr = tc.err
		w := postJSON(NewMux(svc, nil), "/generate", `{}`)
		if w.Code != tc.want {
			t.Fatalf("%v: status=%d want %d", tc.err, w.Code, tc.want)
		}
		var body ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Code != tc.want || body.Error == "" {
			t.Fatalf("unexpected error body: %+v", body)
		}
	}
}

func TestStatusAndSettings(t *testing.T) {
	svc := newMock()
	svc.busy = true
	h := NewMux(svc, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !st.Busy || st.UptimeSeconds != 3 || st.Settings.MaxRetries != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}

	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString(`{"max_retries":6,"enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("put: status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.settings.MaxRetries != 6 || svc.settings.Enabled {
		t.Fatalf("settings not applied: %+v", svc.settings)
	}

	svc.setErr = (settings.Settings{}).Validate()
	req = httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString(`{"max_retries":0}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid settings: status=%d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	svc := newMock()
	h := NewMux(svc, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	svc.ready = false
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestHealthzAndHeaders(t *testing.T) {
	h := NewMux(newMock(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options=%q", got)
	}
}

func TestCORSOptIn(t *testing.T) {
	SetCORSOptions(true, []string{"http://chat.local"})
	defer SetCORSOptions(false, nil)
	h := NewMux(newMock(), nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://chat.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://chat.local" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestEventsStream(t *testing.T) {
	hub := theater.NewHub(4)
	srv := httptest.NewServer(NewMux(newMock(), hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	br := bufio.NewReader(resp.Body)
	if line, _ := br.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line=%q", line)
	}
	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	hub.Notify(theater.Notice{ID: "n1", Level: theater.LevelSuccess, Message: "generation complete"})

	var data string
	for data == "" {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var n theater.Notice
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		t.Fatalf("json: %v", err)
	}
	if n.ID != "n1" || n.Message != "generation complete" {
		t.Fatalf("unexpected notice: %+v", n)
	}
}

func TestSwaggerDoc(t *testing.T) {
	h := NewMux(newMock(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if _, ok := doc["paths"].(map[string]any)["/generate"]; !ok {
		t.Fatalf("missing /generate path")
	}
}
