// Package chat holds the transcript theater text is appended to.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for an index outside the transcript.
	ErrNotFound = errors.New("target message does not exist")
	// ErrUserMessage is returned when theater would be appended to a user message.
	ErrUserMessage = errors.New("cannot generate for user messages")
)

// Separator joins a message body and appended theater text.
const Separator = "\n\n"

// Message is one chat entry.
type Message struct {
	Index    int       `json:"index"`
	Name     string    `json:"name"`
	IsUser   bool      `json:"is_user"`
	Text     string    `json:"mes"`
	SendDate time.Time `json:"send_date"`
}

// Store is the transcript used by the theater service.
type Store interface {
	Append(m Message) (Message, error)
	Get(i int) (Message, error)
	Last() (Message, bool)
	Len() int
	List() []Message
	// AppendText validates index as a theater target and appends text to it.
	AppendText(i int, text string) (Message, error)
}

// MemoryStore is a mutex-guarded transcript, optionally mirrored to a JSON file.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs []Message
	path string
	now  func() time.Time
}

// NewMemoryStore returns an empty, non-persistent store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{now: time.Now} }

// Open loads path if it exists and persists every mutation back to it.
func Open(path string) (*MemoryStore, error) {
	s := &MemoryStore{path: path, now: time.Now}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&s.msgs); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", path, err)
	}
	for i := range s.msgs {
		s.msgs[i].Index = i
	}
	return s, nil
}

func (s *MemoryStore) Append(m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Index = len(s.msgs)
	if m.SendDate.IsZero() {
		m.SendDate = s.now()
	}
	s.msgs = append(s.msgs, m)
	if err := s.saveLocked(); err != nil {
		s.msgs = s.msgs[:m.Index]
		return Message{}, err
	}
	return m, nil
}

func (s *MemoryStore) Get(i int) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.msgs) {
		return Message{}, ErrNotFound
	}
	return s.msgs[i], nil
}

func (s *MemoryStore) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	return s.msgs[len(s.msgs)-1], true
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

func (s *MemoryStore) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *MemoryStore) AppendText(i int, text string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.msgs) {
		return Message{}, ErrNotFound
	}
	if s.msgs[i].IsUser {
		return Message{}, ErrUserMessage
	}
	prev := s.msgs[i].Text
	s.msgs[i].Text = prev + Separator + text
	if err := s.saveLocked(); err != nil {
		s.msgs[i].Text = prev
		return Message{}, err
	}
	return s.msgs[i], nil
}

// saveLocked rewrites the whole transcript via a temp file and rename.
func (s *MemoryStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.msgs, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".chat-*.json")
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save chat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save chat: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}
