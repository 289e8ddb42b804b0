package detector

import (
	"slices"
	"sync"
)

// SessionState is the state shared by the connection loop and the per-connection sender and receiver.
//
// It holds the command cursor, the connected flag, the connection generation and the quiescence flags,
// all guarded by one mutex. A new generation starts on every successful connect, so an activity left over
// from a previous connection can't move the cursor of the current one.
type SessionState struct {
	mu         sync.Mutex
	cursor     int
	generation uint64
	connected  bool

	gateStarvation bool
	dataStarved    bool
	errorFields    map[string]struct{}
}

// QuiescenceState is a snapshot of the quiescence flags.
type QuiescenceState struct {
	DataStarved  bool
	ErrorPresent bool
	// ErrorFields lists the status fields currently reporting a non-zero error count.
	ErrorFields []string
}

// NewSessionState creates a disconnected session state.
// When starvationGating is true a data-starved device suspends command issuance.
func NewSessionState(starvationGating bool) *SessionState {
	return &SessionState{
		gateStarvation: starvationGating,
		errorFields:    make(map[string]struct{}),
	}
}

// begin marks the session connected, resets the cursor and returns the new generation.
// The quiescence flags are kept.
func (s *SessionState) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.cursor = 0
	s.connected = true

	return s.generation
}

// markDisconnected clears the connected flag if gen is still the current generation.
func (s *SessionState) markDisconnected(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == gen {
		s.connected = false
	}
}

// active reports whether gen is the current, connected generation.
func (s *SessionState) active(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected && s.generation == gen
}

// current returns the cursor for a list of n commands, wrapping it to 0 when it is out of range.
// ok is false when gen is no longer active.
func (s *SessionState) current(gen uint64, n int) (idx int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.generation != gen || n <= 0 {
		return 0, false
	}
	if s.cursor < 0 || s.cursor >= n {
		s.cursor = 0
	}

	return s.cursor, true
}

// advance moves the cursor from idx to idx+1, wrapping to 0 at n.
//
// The cursor only moves if gen is current and the cursor still equals idx. moved reports whether it moved
// and wrapped whether it wrapped to 0.
func (s *SessionState) advance(gen uint64, idx int, n int) (moved bool, wrapped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || s.cursor != idx || n <= 0 {
		return false, false
	}

	s.cursor = idx + 1
	if s.cursor >= n {
		s.cursor = 0
		return true, true
	}

	return true, false
}

// Connected reports whether a connection is currently up.
func (s *SessionState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Cursor returns the index of the next command to send.
func (s *SessionState) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor
}

// Generation returns the number of connections started so far.
func (s *SessionState) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generation
}

// Blocked reports whether command issuance is suspended.
//
// An error field with a non-zero count always blocks. Data starvation blocks only when starvation gating
// is enabled.
func (s *SessionState) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.errorFields) > 0 || (s.gateStarvation && s.dataStarved)
}

// Quiescence returns a snapshot of the quiescence flags.
func (s *SessionState) Quiescence() QuiescenceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make([]string, 0, len(s.errorFields))
	for f := range s.errorFields {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	return QuiescenceState{
		DataStarved:  s.dataStarved,
		ErrorPresent: len(fields) > 0,
		ErrorFields:  fields,
	}
}

// ClearQuiescence resets all quiescence flags. It is never called by the client itself.
func (s *SessionState) ClearQuiescence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataStarved = false
	clear(s.errorFields)
}

// observe applies one parsed status field to the quiescence flags.
// It returns the transition caused by the observation.
func (s *SessionState) observe(field statusField, value int) gateTransition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field == fieldRecv {
		was := s.dataStarved
		s.dataStarved = value == 0
		switch {
		case s.dataStarved && !was:
			return transitionStarved
		case !s.dataStarved && was:
			return transitionFed
		default:
			return transitionNone
		}
	}

	_, was := s.errorFields[field.String()]
	if value != 0 {
		s.errorFields[field.String()] = struct{}{}
		if !was {
			return transitionRaised
		}

		return transitionNone
	}

	delete(s.errorFields, field.String())
	if was {
		return transitionCleared
	}

	return transitionNone
}

type gateTransition int

const (
	transitionNone gateTransition = iota
	transitionStarved
	transitionFed
	transitionRaised
	transitionCleared
)
