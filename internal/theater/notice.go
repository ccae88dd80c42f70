package theater

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a user-facing status message. DurationMs is how long a
// presentation layer should keep it visible; zero means until replaced.
type Notice struct {
	ID         string    `json:"id"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	DurationMs int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
}

func newNotice(level Level, d time.Duration, msg string) Notice {
	return Notice{ID: uuid.NewString(), Level: level, Message: msg, DurationMs: d.Milliseconds(), Time: time.Now()}
}

// Notifier receives notices. Notify must not block.
type Notifier interface {
	Notify(Notice)
}

// LogNotifier writes notices to a zerolog logger.
type LogNotifier struct{ Log zerolog.Logger }

func (n LogNotifier) Notify(x Notice) {
	var ev *zerolog.Event
	switch x.Level {
	case LevelError:
		ev = n.Log.Error()
	case LevelWarning:
		ev = n.Log.Warn()
	default:
		ev = n.Log.Info()
	}
	ev.Str("notice_id", x.ID).Str("level", string(x.Level)).Msg(x.Message)
}

// MultiNotifier fans out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(x Notice) {
	for _, n := range m {
		n.Notify(x)
	}
}

// Hub broadcasts notices to subscribers. Each subscriber has a bounded
// buffer; when it is full the notice is dropped for that subscriber.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Notice]struct{}
	buffer int
}

// NewHub returns a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[chan Notice]struct{}), buffer: buffer}
}

// Subscribe returns a notice channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Notify(x Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- x:
		default:
		}
	}
}
