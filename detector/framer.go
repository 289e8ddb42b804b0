package detector

import (
	"slices"
	"strings"
	"time"
)

// Line is one reply line produced by the Framer.
type Line struct {
	// Text is the trimmed line. For the aggregate command it is the joined continuation text.
	Text string
	// Echo reports whether the line opened a new frame, i.e. it is the device's echo of a command.
	Echo bool
	// Command is the leading token of the echo line of the frame the line belongs to.
	Command string
}

type framerSettings struct {
	wide            []string
	aggregate       string
	marker          string
	aggregateLimit  int
	idleTimeout     time.Duration
	wideIdleTimeout time.Duration
	maxPartial      int
}

// Framer splits the device's reply stream into lines and groups them into frames.
//
// The device sends free-form text with no length field, so frame boundaries are inferred: the first
// non-blank line of a received batch is a command echo when no frame is open or when its leading token
// differs from the open frame's command, and a frame ends at the next echo or after an idle gap.
//
// A Framer is not safe for concurrent use; each connection's receiver owns one.
type Framer struct {
	cfg framerSettings

	pending string

	command string
	wide    bool

	aggregating bool
	agg         []string
}

// NewFramer creates a Framer using the framing parameters of cfg.
func NewFramer(cfg *ConnectionConfig) *Framer {
	return &Framer{cfg: cfg.framerSettings()}
}

// Feed processes one received batch and returns the completed lines.
func (f *Framer) Feed(data []byte) []Line {
	return f.feed(data, true)
}

// Supplement processes data read while a wide frame is being completed.
// Every complete line is a continuation of the open frame.
func (f *Framer) Supplement(data []byte) []Line {
	return f.feed(data, false)
}

// AwaitingSupplement reports whether a wide command's frame is open and has not been finalized.
func (f *Framer) AwaitingSupplement() bool {
	return f.wide && f.command != ""
}

// Command returns the command of the open frame, or an empty string.
func (f *Framer) Command() string {
	return f.command
}

// Finalize completes the open frame. A trailing fragment is emitted as a continuation line,
// collected aggregate text is emitted, and the frame is closed.
func (f *Framer) Finalize() []Line {
	var out []Line

	rest := strings.TrimSpace(f.pending)
	f.pending = ""
	if rest != "" {
		if f.command == "" {
			out = append(out, f.open(rest))
		} else {
			out = append(out, f.continuation(rest)...)
		}
	}

	return append(out, f.closeFrame()...)
}

// Expire is called after idle time without new data. Once idle exceeds the threshold of the open frame,
// the partial line is flushed as its own frame and the open frame is closed.
//
// The partial line is flushed at most once; later calls return nil until new data arrives.
func (f *Framer) Expire(idle time.Duration) []Line {
	if f.pending == "" && f.command == "" {
		return nil
	}
	if idle <= f.threshold() {
		return nil
	}

	out := f.closeFrame()
	if partial := f.flushPartial(); partial != nil {
		out = append(out, *partial)
	}

	return out
}

// discard drops the partial line and any collected aggregate text without emitting them,
// and closes the open frame.
func (f *Framer) discard() {
	f.pending = ""
	f.command = ""
	f.wide = false
	f.aggregating = false
	f.agg = f.agg[:0]
}

// Pending returns the buffered partial line.
func (f *Framer) Pending() string {
	return f.pending
}

func (f *Framer) threshold() time.Duration {
	if f.wide {
		return f.cfg.wideIdleTimeout
	}

	return f.cfg.idleTimeout
}

func (f *Framer) feed(data []byte, detectEcho bool) []Line {
	f.pending += strings.ToValidUTF8(string(data), "")

	idx := strings.LastIndexByte(f.pending, '\n')
	if idx < 0 {
		if len(f.pending) > f.cfg.maxPartial {
			out := f.closeFrame()
			if partial := f.flushPartial(); partial != nil {
				out = append(out, *partial)
			}

			return out
		}

		return nil
	}

	complete := f.pending[:idx]
	f.pending = f.pending[idx+1:]

	var out []Line
	first := detectEcho
	for _, raw := range strings.Split(complete, "\n") {
		text := strings.TrimSpace(raw)

		if first {
			first = false
			if text != "" && !f.aggregating {
				if name := leadingToken(text); f.command == "" || name != f.command {
					out = append(out, f.closeFrame()...)
					out = append(out, f.open(text))

					continue
				}
			}
		}

		if text == "" {
			continue
		}
		if f.command == "" {
			out = append(out, f.open(text))
			continue
		}

		out = append(out, f.continuation(text)...)
	}

	return out
}

// flushPartial emits the buffered partial line as an echo line. The resulting frame is not kept open.
func (f *Framer) flushPartial() *Line {
	text := strings.TrimSpace(f.pending)
	f.pending = ""
	if text == "" {
		return nil
	}

	return &Line{Text: text, Echo: true, Command: leadingToken(text)}
}

func (f *Framer) open(text string) Line {
	name := leadingToken(text)
	f.command = name
	f.wide = slices.Contains(f.cfg.wide, name)
	f.aggregating = f.cfg.aggregate != "" && name == f.cfg.aggregate
	f.agg = f.agg[:0]

	return Line{Text: text, Echo: true, Command: name}
}

func (f *Framer) continuation(text string) []Line {
	if !f.aggregating {
		return []Line{{Text: text, Command: f.command}}
	}

	f.agg = append(f.agg, text)
	joined := strings.Join(f.agg, " ")
	if (f.cfg.marker != "" && strings.Contains(joined, f.cfg.marker)) || len(joined) > f.cfg.aggregateLimit {
		f.aggregating = false
		f.agg = f.agg[:0]

		return []Line{{Text: joined, Command: f.command}}
	}

	return nil
}

func (f *Framer) closeFrame() []Line {
	var out []Line
	if f.aggregating && len(f.agg) > 0 {
		out = append(out, Line{Text: strings.Join(f.agg, " "), Command: f.command})
	}

	f.command = ""
	f.wide = false
	f.aggregating = false
	f.agg = f.agg[:0]

	return out
}

// leadingToken returns text up to the first space.
func leadingToken(text string) string {
	if i := strings.IndexByte(text, ' '); i >= 0 {
		return text[:i]
	}

	return text
}
