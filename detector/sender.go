package detector

import (
	"context"
	"time"

	"github.com/Erick14-l/RCS-AutoTest/internal/clock"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

type senderSettings struct {
	replyWait        time.Duration
	commandInterval  time.Duration
	gatePollInterval time.Duration
}

func (cfg *ConnectionConfig) senderSettings() senderSettings {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return senderSettings{
		replyWait:        cfg.replyWait,
		commandInterval:  cfg.commandInterval,
		gatePollInterval: cfg.gatePollInterval,
	}
}

// sender walks the command list once for one connection, keeping a single command in flight.
type sender struct {
	conn     *connection
	cfg      senderSettings
	commands []string
	state    *SessionState
	sink     transcript.Sink
	metrics  *ConnectionMetrics
	logger   logger.Logger

	suspended bool
}

func newSender(c *Client, cn *connection, commands []string) *sender {
	return &sender{
		conn:     cn,
		cfg:      c.cfg.senderSettings(),
		commands: commands,
		state:    c.state,
		sink:     c.sink(),
		metrics:  c.metrics,
		logger:   cn.logger.With("method", "senderTask"),
	}
}

// step sends one command. It returns false after a full traversal of the list or when the
// connection is gone.
func (s *sender) step(ctx context.Context) bool {
	gen := s.conn.gen
	if !s.state.active(gen) {
		return false
	}

	if !s.waitGate(ctx) {
		return false
	}

	idx, ok := s.state.current(gen, len(s.commands))
	if !ok {
		return false
	}
	command := s.commands[idx]

	if err := s.conn.write(command + "\r\n"); err != nil {
		s.metrics.incCommandErr()
		s.sink.Record(transcript.SendError(err))
		s.state.markDisconnected(gen)
		s.sink.Record(transcript.DisconnectIndex(s.state.Cursor()))
		s.logger.Error("send failed", "command", command, "index", idx, "error", err)
		s.conn.drop()

		return false
	}

	s.sink.Record(transcript.Send(command))
	s.metrics.incCommandSend(leadingToken(command))
	s.logger.Debug("command sent", "command", command, "index", idx)

	if !clock.Sleep(ctx, s.cfg.replyWait) {
		return false
	}

	moved, wrapped := s.state.advance(gen, idx, len(s.commands))
	if !moved {
		if !s.state.active(gen) {
			return false
		}
		s.logger.Debug("cursor changed during reply wait", "index", idx, "cursor", s.state.Cursor())
	}

	if wrapped {
		s.metrics.incCycle()
		s.sink.Record(transcript.PhraseCycleDone)
		s.logger.Info("command list traversed", "count", len(s.commands))

		return false
	}

	return clock.Sleep(ctx, s.cfg.commandInterval)
}

// waitGate polls the quiescence gate until issuance is allowed.
// It returns false if the context ends or the connection goes away while waiting.
func (s *sender) waitGate(ctx context.Context) bool {
	if s.state.Blocked() {
		if !s.suspended {
			s.suspended = true
			s.metrics.setBlocked(true)
			s.logger.Warn("command issuance suspended", "quiescence", s.state.Quiescence())
		}

		gen := s.conn.gen
		ok := clock.PollUntil(ctx, s.cfg.gatePollInterval, func() bool {
			return !s.state.Blocked() || !s.state.active(gen)
		})
		if !ok || !s.state.active(gen) {
			return false
		}
	}

	s.metrics.setBlocked(false)
	if s.suspended {
		s.suspended = false
		s.logger.Info("command issuance resumed")
	}

	return true
}
