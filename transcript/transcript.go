// Package transcript writes the append-only run transcript of the detector client.
//
// Every event becomes one line "[2006-01-02 15:04:05.000] <event text>" in a file created per run.
// The event phrasing is fixed: the analyzer package, and tools outside this module, match on it.
package transcript

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// TimestampLayout is the layout of the bracketed timestamp prefixing each transcript line.
	TimestampLayout = "2006-01-02 15:04:05.000"
	// FileNameLayout names the per-run transcript file from the run start time.
	FileNameLayout = "2006-01-02_15-04-05"
)

// Sink receives transcript events.
//
// Record writes a standalone event. Continue writes a continuation of the previous event:
// the file line is still timestamped, but console output omits the timestamp and aligns the
// text under the previous event's text.
type Sink interface {
	Record(text string)
	Continue(text string)
}

// Prefix returns the bracketed timestamp prefix, including the trailing space.
func Prefix(t time.Time) string {
	return "[" + t.Format(TimestampLayout) + "] "
}

// FormatLine formats one transcript file line without the trailing newline.
func FormatLine(t time.Time, text string) string {
	return Prefix(t) + text
}

// Writer is the file-backed Sink. It is safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	console   io.Writer
	indent    int
	now       func() time.Time
	lastError error
}

var _ Sink = (*Writer)(nil)

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithConsole sets the console echo writer. A nil writer disables the echo.
func WithConsole(w io.Writer) WriterOption {
	return func(tw *Writer) { tw.console = w }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) WriterOption {
	return func(tw *Writer) {
		if now != nil {
			tw.now = now
		}
	}
}

// Create creates dir if needed and opens a new transcript file named after start.
func Create(dir string, start time.Time, opts ...WriterOption) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	path := filepath.Join(dir, start.Format(FileNameLayout)+".txt")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	w := &Writer{
		file:    f,
		path:    path,
		console: os.Stdout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Path returns the transcript file path.
func (w *Writer) Path() string {
	return w.path
}

// Record appends a timestamped event and echoes it to the console.
func (w *Writer) Record(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := Prefix(w.now())
	w.indent = len(prefix)
	w.append(prefix + text)
	w.echo(prefix + text)
}

// Continue appends a timestamped continuation line; the console echo is aligned and unstamped.
func (w *Writer) Continue(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.append(Prefix(w.now()) + text)
	w.echo(strings.Repeat(" ", w.indent) + text)
}

// Err returns the last file write error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lastError
}

// Close closes the transcript file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil

	return err
}

func (w *Writer) append(line string) {
	if w.file == nil {
		w.lastError = os.ErrClosed
		return
	}
	if _, err := io.WriteString(w.file, line+"\n"); err != nil {
		w.lastError = errors.Join(w.lastError, err)
	}
}

func (w *Writer) echo(line string) {
	if w.console != nil {
		_, _ = io.WriteString(w.console, line+"\n")
	}
}
