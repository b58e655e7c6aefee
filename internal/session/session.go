package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Entry represents a single transcript line. Only sender and text go on the wire.
type Entry struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"-"`
}

// Transcript represents one conversation in insertion order
type Transcript struct {
	ID        string
	Feature   string
	StartTime time.Time

	mu      sync.Mutex
	entries []Entry
}

// New creates an empty transcript for feature.
func New(feature string) *Transcript {
	return &Transcript{
		ID:        fmt.Sprintf("transcript_%s", uuid.NewString()),
		Feature:   feature,
		StartTime: time.Now(),
	}
}

// Append adds an entry and returns it.
func (t *Transcript) Append(sender Sender, text string) Entry {
	e := Entry{Sender: sender, Text: text, Timestamp: time.Now()}
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
	return e
}

// Window returns a copy of the last n entries. n <= 0 yields an empty, non-nil slice
// so that it encodes as [] rather than null.
func (t *Transcript) Window(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		return []Entry{}
	}
	start := len(t.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(t.entries)-start)
	copy(out, t.entries[start:])
	return out
}

// Entries returns a copy of every entry.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
