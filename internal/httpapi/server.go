package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"theaterd/internal/chat"
	"theaterd/internal/controller"
	"theaterd/internal/settings"
	"theaterd/internal/theater"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, ref *int) (theater.Result, error)
	OnMessage(ctx context.Context, index int) error
	Busy() bool
	Ready() bool
	Settings() settings.Settings
	UpdateSettings(p settings.Patch) (settings.Settings, error)
	Store() chat.Store
	Uptime() time.Duration
}

// Events is the notice feed streamed on /events.
type Events interface {
	Subscribe() (<-chan theater.Notice, func())
}

// MessageRequest is the body of POST /messages.
type MessageRequest struct {
	Name   string `json:"name" validate:"max=256" example:"Aria"`
	IsUser bool   `json:"is_user" example:"false"`
	Text   string `json:"text" validate:"required" example:"The curtain rises."`
}

// GenerateRequest is the optional body of POST /generate.
type GenerateRequest struct {
	// Target message index; omitted means the newest message.
	Index *int `json:"index,omitempty" validate:"omitnil,gte=0" example:"3"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Busy          bool              `json:"busy"`
	Settings      settings.Settings `json:"settings"`
	Messages      int               `json:"messages"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// heartbeat keeps idle SSE connections alive through proxies.
var heartbeat = 15 * time.Second

func NewMux(svc Service, events Events) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Log-Level"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
		msgs := svc.Store().List()
		switch r.URL.Query().Get("role") {
		case "user":
			msgs = lo.Filter(msgs, func(m chat.Message, _ int) bool { return m.IsUser })
		case "assistant":
			msgs = lo.Filter(msgs, func(m chat.Message, _ int) bool { return !m.IsUser })
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	})

	r.Get("/messages/{index}", func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "index must be an integer")
			return
		}
		m, err := svc.Store().Get(i)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	r.Post("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if !decodeJSON(w, r, &req, false) {
			return
		}
		m, err := svc.Store().Append(chat.Message{Name: req.Name, IsUser: req.IsUser, Text: req.Text})
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		if !m.IsUser {
			go dispatchMessage(svc, m.Index)
		}
		writeJSON(w, http.StatusCreated, m)
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		start := time.Now()
		lvl := requestLogLevel(r)
		// Runs outlive the request; only shutdown ends them.
		res, err := svc.Generate(serverBaseCtx, req.Index)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("busy")
			}
			writeJSONError(w, status, err.Error())
			logEnd(r, lvl, "generate end", status, start, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		logEnd(r, lvl, "generate end", http.StatusOK, start, nil)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Busy:          svc.Busy(),
			Settings:      svc.Settings(),
			Messages:      svc.Store().Len(),
			UptimeSeconds: int64(svc.Uptime().Seconds()),
		})
	})

	r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Settings())
	})

	r.Put("/settings", func(w http.ResponseWriter, r *http.Request) {
		var p settings.Patch
		if !decodeJSON(w, r, &p, false) {
			return
		}
		s, err := svc.UpdateSettings(p)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		streamEvents(w, r, events)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeJSON reads and validates a JSON body into v. An empty body is
// accepted when optional is set. It writes the error response itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if r.ContentLength == 0 && optional {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// dispatchMessage delivers a message-added event outside the request.
func dispatchMessage(svc Service, index int) {
	err := svc.OnMessage(serverBaseCtx, index)
	switch {
	case err == nil, controller.IsBusy(err):
	case serverBaseCtx.Err() != nil:
	default:
		zlog.Warn().Err(err).Int("index", index).Msg("message event generation failed")
	}
}

// streamEvents relays notices as Server-Sent Events until the client leaves.
func streamEvents(w http.ResponseWriter, r *http.Request, events Events) {
	flusher, ok := w.(http.Flusher)
	if !ok || events == nil {
		writeJSONError(w, http.StatusNotImplemented, "streaming unsupported")
		return
	}
	ch, cancel := events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	tick := time.NewTicker(heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-serverBaseCtx.Done():
			return
		case <-tick.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case n, open := <-ch:
			if !open {
				return
			}
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: notice\ndata: %s\n\n", n.ID, b)
			flusher.Flush()
		}
	}
}
