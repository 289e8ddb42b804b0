package transcript

import (
	"strings"
	"sync"
)

// Kind tells a recorded entry from a continuation.
type Kind int

const (
	KindRecord Kind = iota
	KindContinue
)

// Entry is one event captured by a Buffer.
type Entry struct {
	Kind Kind
	Text string
}

// Buffer is an in-memory Sink that keeps every event, for tests and embedding.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Sink = (*Buffer)(nil)

func (b *Buffer) Record(text string) {
	b.add(Entry{Kind: KindRecord, Text: text})
}

func (b *Buffer) Continue(text string) {
	b.add(Entry{Kind: KindContinue, Text: text})
}

// Entries returns a copy of the captured events.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)

	return out
}

// Texts returns the text of every captured event.
func (b *Buffer) Texts() []string {
	entries := b.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}

	return out
}

// Count returns how many events contain substr.
func (b *Buffer) Count(substr string) int {
	n := 0
	for _, text := range b.Texts() {
		if strings.Contains(text, substr) {
			n++
		}
	}

	return n
}

func (b *Buffer) add(e Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

type discard struct{}

func (discard) Record(string)   {}
func (discard) Continue(string) {}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}
