// ABOUTME: Persistent conversation history backed by a JSON file
// ABOUTME: Corrupt or missing files load as empty rather than failing startup
package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one turn stored in a conversation.
type Message struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"` // "user" or "model"
	Text    string    `json:"text"`
	Sources []Source  `json:"sources,omitempty"`
	SentAt  time.Time `json:"sentAt"`
}

// Source is a grounding citation saved with a model message.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Conversation is a stored chat session.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps conversations in memory and mirrors them to a JSON file.
type Store struct {
	path string

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// Open loads the store at path. A missing file starts empty; a corrupt
// file is logged and replaced on the next save.
func Open(path string) (*Store, error) {
	s := &Store{
		path:          path,
		conversations: make(map[string]*Conversation),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	var convs []*Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		log.Printf("History file %s is corrupt, starting empty: %v", path, err)
		return s, nil
	}
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
	return s, nil
}

// NewConversation creates and persists an empty conversation.
func (s *Store) NewConversation(title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Append adds a message to a conversation and persists. The first user
// message titles an untitled conversation.
func (s *Store) Append(convID string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convID]
	if !ok {
		return Message{}, fmt.Errorf("history: unknown conversation %s", convID)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.SentAt
	if conv.Title == "" && msg.Role == "user" {
		conv.Title = titleFrom(msg.Text)
	}
	if err := s.saveLocked(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Get returns a copy of one conversation.
func (s *Store) Get(convID string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[convID]
	if !ok {
		return nil, false
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	return &cp, true
}

// List returns all conversations, most recently updated first.
func (s *Store) List() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cp := *c
		cp.Messages = append([]Message(nil), c.Messages...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a conversation and persists. Deleting an unknown ID is
// a no-op.
func (s *Store) Delete(convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[convID]; !ok {
		return nil
	}
	delete(s.conversations, convID)
	return s.saveLocked()
}

// saveLocked writes the full store atomically. Callers hold s.mu.
func (s *Store) saveLocked() error {
	convs := make([]*Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})

	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating history dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing history: %w", err)
	}
	return nil
}

// titleFrom derives a short conversation title from the first message.
func titleFrom(text string) string {
	const max = 40
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
