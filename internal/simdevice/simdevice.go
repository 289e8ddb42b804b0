// Package simdevice provides a loopback detector simulator for tests and examples.
//
// The simulator accepts TCP connections, reads CRLF terminated commands, records them and answers with
// scripted replies. A reply is written as one or more segments with an optional pause between them, which
// reproduces replies spread across several TCP segments.
package simdevice

import (
	"bufio"
	"context"
	"errors"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Erick14-l/RCS-AutoTest/internal/clock"
	"github.com/Erick14-l/RCS-AutoTest/logger"
)

// Reply is the scripted answer to one command.
type Reply struct {
	// Segments are written in order. Each segment is written with a single Write call.
	Segments []string
	// Gap is the pause between two segments.
	Gap time.Duration
}

// Echo builds a single-segment reply echoing command followed by body lines, each terminated by LF.
func Echo(command string, body ...string) Reply {
	var sb strings.Builder
	sb.WriteString(command)
	sb.WriteByte('\n')
	for _, line := range body {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	return Reply{Segments: []string{sb.String()}}
}

// Silent is a reply that writes nothing.
var Silent = Reply{}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the simulator.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithReply scripts the reply to command. A command is matched by its full text first, then by its
// leading token.
func WithReply(command string, r Reply) Option {
	return func(s *Server) { s.replies[command] = r }
}

// WithDefaultReply sets the reply builder used for commands without a scripted reply.
// The default echoes the command followed by "ok".
func WithDefaultReply(f func(command string) Reply) Option {
	return func(s *Server) { s.defaultReply = f }
}

// Server is a simulated detector control port.
type Server struct {
	ln           net.Listener
	logger       logger.Logger
	defaultReply func(command string) Reply

	mu       sync.Mutex
	replies  map[string]Reply
	received []string
	conns    map[net.Conn]struct{}

	accepted atomic.Int32
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// Start listens on addr and serves connections until Close is called.
// Use "127.0.0.1:0" to pick a free port.
func Start(addr string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:      ln,
		logger:  logger.GetLogger(),
		replies: make(map[string]Reply),
		conns:   make(map[net.Conn]struct{}),
		defaultReply: func(command string) Reply {
			return Echo(command, "ok")
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "simdevice", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)

	return n
}

// SetReply scripts the reply to command while the server is running.
func (s *Server) SetReply(command string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies[command] = r
}

// Received returns the commands received so far, without line terminators.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.received)
}

// Accepted returns the number of accepted connections.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// WaitReceived waits until at least n commands were received.
func (s *Server) WaitReceived(ctx context.Context, n int) bool {
	return clock.PollUntil(ctx, 5*time.Millisecond, func() bool {
		return len(s.Received()) >= n
	})
}

// WaitAccepted waits until at least n connections were accepted.
func (s *Server) WaitAccepted(ctx context.Context, n int) bool {
	return clock.PollUntil(ctx, 5*time.Millisecond, func() bool {
		return s.Accepted() >= n
	})
}

// Push writes raw text to every open connection.
func (s *Server) Push(text string) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_, _ = c.Write([]byte(text))
	}
}

// DropConnections closes every open connection while the listener stays up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the listener, closes every connection and waits for the handlers to exit.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.ln.Close()
	s.DropConnections()
	s.wg.Wait()

	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
			}

			return
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = conn.Close()

			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.accepted.Add(1)
		s.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		command := strings.TrimRight(line, "\r\n")
		if command == "" {
			continue
		}

		reply := s.record(command)
		for i, seg := range reply.Segments {
			if i > 0 && reply.Gap > 0 {
				time.Sleep(reply.Gap)
			}
			if _, err := conn.Write([]byte(seg)); err != nil {
				return
			}
		}
	}
}

func (s *Server) record(command string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, command)

	if r, ok := s.replies[command]; ok {
		return r
	}

	token := command
	if i := strings.IndexByte(command, ' '); i >= 0 {
		token = command[:i]
	}
	if r, ok := s.replies[token]; ok {
		return r
	}

	return s.defaultReply(command)
}
