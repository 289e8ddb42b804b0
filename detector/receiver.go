package detector

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Erick14-l/RCS-AutoTest/internal/clock"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

// nonBlockingWindow is the read deadline used by a supplementary read attempt.
const nonBlockingWindow = time.Millisecond

type receiverSettings struct {
	pollInterval          time.Duration
	wideSettle            time.Duration
	supplementaryReads    int
	supplementaryInterval time.Duration
	bufferSize            int
	statusCommand         string
}

func (cfg *ConnectionConfig) receiverSettings() receiverSettings {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return receiverSettings{
		pollInterval:          cfg.pollInterval,
		wideSettle:            cfg.wideSettle,
		supplementaryReads:    cfg.supplementaryReads,
		supplementaryInterval: cfg.supplementaryInterval,
		bufferSize:            cfg.recvBufferSize,
		statusCommand:         cfg.statusCommand,
	}
}

// receiver reads the reply stream of one connection, frames it and feeds the quiescence gate.
type receiver struct {
	conn     *connection
	cfg      receiverSettings
	framer   *Framer
	state    *SessionState
	sink     transcript.Sink
	metrics  *ConnectionMetrics
	logger   logger.Logger
	stopping func() bool

	buf      []byte
	lastData time.Time
}

func newReceiver(c *Client, cn *connection) *receiver {
	cfg := c.cfg.receiverSettings()

	return &receiver{
		conn:     cn,
		cfg:      cfg,
		framer:   NewFramer(c.cfg),
		state:    c.state,
		sink:     c.sink(),
		metrics:  c.metrics,
		logger:   cn.logger.With("method", "receiverTask"),
		stopping: func() bool { return !c.running.Load() },
		buf:      make([]byte, cfg.bufferSize),
		lastData: time.Now(),
	}
}

// step performs one receive poll. It returns false when the connection failed.
func (r *receiver) step(ctx context.Context) bool {
	if !r.state.active(r.conn.gen) {
		return false
	}

	n, err := r.read(r.cfg.pollInterval)
	if n > 0 {
		r.lastData = time.Now()
		r.emit(r.framer.Feed(r.buf[:n]))

		if r.framer.AwaitingSupplement() {
			if serr := r.supplement(ctx); serr != nil {
				err = serr
			}
		}
	}

	if err == nil {
		return true
	}

	if isTimeout(err) {
		r.expire()
		return true
	}

	r.fail(err)

	return false
}

// supplement completes a wide frame: after a settle delay it makes a fixed number of short,
// evenly spaced read attempts, then finalizes the frame.
func (r *receiver) supplement(ctx context.Context) error {
	command := r.framer.Command()
	r.logger.Debug("supplementary reads", "command", command, "attempts", r.cfg.supplementaryReads)

	if !clock.Sleep(ctx, r.cfg.wideSettle) {
		return ctx.Err()
	}

	for attempt := range r.cfg.supplementaryReads {
		if attempt > 0 && !clock.Sleep(ctx, r.cfg.supplementaryInterval) {
			return ctx.Err()
		}

		r.metrics.incSupplementaryRead()

		n, err := r.read(nonBlockingWindow)
		if n > 0 {
			r.lastData = time.Now()
			r.emit(r.framer.Supplement(r.buf[:n]))
		}
		if err != nil && !isTimeout(err) {
			r.framer.discard()
			return err
		}
	}

	r.emit(r.framer.Finalize())

	return nil
}

func (r *receiver) read(window time.Duration) (int, error) {
	if err := r.conn.conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return 0, err
	}

	n, err := r.conn.conn.Read(r.buf)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, ErrConnClosed
	}
	if errors.Is(err, io.EOF) {
		// data arrived together with EOF; report the close on the next read.
		err = nil
	}

	return n, err
}

func (r *receiver) expire() {
	lines := r.framer.Expire(time.Since(r.lastData))
	for _, line := range lines {
		if line.Echo {
			r.metrics.incIdleFlush()
			r.logger.Debug("flush partial reply after idle gap", "text", line.Text)
		}
	}
	r.emit(lines)
}

func (r *receiver) fail(err error) {
	// Pending partial data is dropped on failure.
	if r.stopping() || isConnClosed(err) || errors.Is(err, context.Canceled) {
		r.logger.Debug("receiver exit", "error", err)
		return
	}

	switch {
	case errors.Is(err, ErrConnClosed), isConnReset(err):
		r.sink.Record(transcript.ConnError(err))
	default:
		r.sink.Record(transcript.RecvError(err))
	}
	r.logger.Error("receive failed", "error", err)
}

func (r *receiver) emit(lines []Line) {
	for _, line := range lines {
		if line.Echo {
			r.sink.Record(transcript.Recv(line.Text))
			r.metrics.incFrameRecv(line.Command)

			continue
		}

		r.sink.Continue(line.Text)
		if r.cfg.statusCommand != "" && line.Command == r.cfg.statusCommand {
			r.observeStatus(line.Text)
		}
	}
}

func (r *receiver) observeStatus(text string) {
	field, val, ok := parseStatusLine(text)
	if !ok {
		return
	}

	transition := r.state.observe(field, val)

	if field == fieldRecv {
		if val == 0 {
			r.sink.Record(transcript.PhraseNoData)
			if transition == transitionStarved {
				r.logger.Warn("device reports no data input", "field", field.String())
			}
		}

		return
	}

	if val != 0 {
		r.sink.Record(transcript.PhraseErrorPresent)
	}

	switch transition {
	case transitionRaised:
		r.logger.Warn("device reports error, command issuance suspended", "field", field.String(), "count", val)
	case transitionCleared:
		r.logger.Info("device error cleared", "field", field.String())
	}
}
