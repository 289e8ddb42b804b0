package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Erick14-l/RCS-AutoTest/cmdlist"
	"github.com/Erick14-l/RCS-AutoTest/internal/clock"
	"github.com/Erick14-l/RCS-AutoTest/internal/task"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

// Client drives a detector over its TCP control port.
//
// Run connects, loads the command list and spawns a receiver and a sender for the connection.
// The sender replays the command list once; the receiver frames the replies and records them.
// When the connection fails, Client reconnects after a fixed interval, forever, until Stop is called
// or the context passed to Run is canceled.
type Client struct {
	cfg     *ConnectionConfig
	logger  logger.Logger
	state   *SessionState
	metrics *ConnectionMetrics

	running atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	current  *connection
	commands []string
}

// NewClient creates a detector client with the given configuration.
func NewClient(cfg *ConnectionConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrConnConfigNil
	}

	cfg.mu.RLock()
	l := cfg.logger
	gating := cfg.starvationGating
	cfg.mu.RUnlock()

	return &Client{
		cfg:     cfg,
		logger:  l.With("remote", cfg.Address()),
		state:   NewSessionState(gating),
		metrics: newConnectionMetrics(),
	}, nil
}

// State returns the session state shared by the connection's tasks.
func (c *Client) State() *SessionState {
	return c.state
}

// GetMetrics returns the client metrics.
func (c *Client) GetMetrics() *ConnectionMetrics {
	return c.metrics
}

// Commands returns the command list loaded for the current or last connection.
func (c *Client) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.commands)
}

// ClearQuiescence resets the quiescence flags so a suspended sender resumes.
// The client never calls it on its own.
func (c *Client) ClearQuiescence() {
	c.logger.Info("quiescence cleared by operator", "quiescence", c.state.Quiescence())
	c.state.ClearQuiescence()
}

// IsRunning reports whether Run is active.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Run connects to the device and keeps the connection up until Stop is called or ctx is done.
// It returns nil after Stop, ctx.Err() after cancellation, and ErrAlreadyRunning if called twice.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.running.Store(false)
	}()

	c.logger.Info("client started")

	for c.running.Load() && runCtx.Err() == nil {
		conn, err := c.dial(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				break
			}
			c.reportDialError(err)
			if !clock.Sleep(runCtx, c.cfg.ReconnectInterval()) {
				break
			}

			continue
		}

		c.serve(runCtx, conn)
	}

	c.logger.Info("client stopped")

	if c.running.Load() && ctx.Err() != nil {
		return ctx.Err()
	}

	return nil
}

// Stop clears the running flag and closes the socket. Both connection tasks fail their
// outstanding I/O and exit; Run returns once they are gone.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	cancel := c.cancel
	cn := c.current
	c.mu.Unlock()

	if cn != nil {
		cn.drop()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	c.cfg.mu.RLock()
	timeout := c.cfg.connectTimeout
	c.cfg.mu.RUnlock()

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil && isConnRefused(err) {
		return nil, fmt.Errorf("%w: %w", ErrConnRefused, err)
	}

	return conn, err
}

func (c *Client) reportDialError(err error) {
	c.metrics.incConnRetryGauge()

	interval := c.cfg.ReconnectInterval()
	if errors.Is(err, ErrConnRefused) {
		c.sink().Record(transcript.Refused(int(math.Ceil(interval.Seconds()))))
		c.logger.Warn("connection refused", "retryIn", interval, "retries", c.metrics.ConnRetryGauge.Load())

		return
	}

	c.sink().Record(transcript.ConnError(err))
	c.logger.Error("failed to connect", "error", err, "retryIn", interval)
}

// serve runs one connection until it fails or the client stops.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	cycleID := uuid.NewString()
	l := c.logger.With("cycleID", cycleID)

	c.metrics.incConnect()
	c.sink().Record(transcript.Connected(c.cfg.Host(), c.cfg.Port()))
	l.Info("connected", "local", conn.LocalAddr().String())

	gen := c.state.begin()
	commands := c.reloadCommands(l)

	cn := newConnection(ctx, conn, gen, l)
	c.mu.Lock()
	c.current = cn
	c.mu.Unlock()

	defer func() {
		cn.drop()
		cn.tasks.Wait()
		c.state.markDisconnected(gen)

		c.mu.Lock()
		if c.current == cn {
			c.current = nil
		}
		c.mu.Unlock()

		l.Info("connection closed", "cursor", c.state.Cursor())
	}()

	// A stop issued before current was set must still tear the connection down.
	if !c.running.Load() {
		return
	}

	recv := newReceiver(c, cn)
	onRecvExit := func() {
		c.state.markDisconnected(gen)
		cn.drop()
	}
	if err := cn.tasks.Start("receiverTask", recv.step, onRecvExit); err != nil {
		l.Error("failed to start receiver", "error", err)
		return
	}

	if len(commands) == 0 {
		l.Warn("command list is empty, nothing to send")
	} else {
		send := newSender(c, cn, commands)
		if err := cn.tasks.Start("senderTask", send.step, nil); err != nil {
			l.Error("failed to start sender", "error", err)
			return
		}
	}

	c.cfg.mu.RLock()
	settle := c.cfg.settleDelay
	c.cfg.mu.RUnlock()
	clock.Sleep(ctx, settle)

	select {
	case <-cn.done:
	case <-ctx.Done():
	}
}

// reloadCommands loads the command list for a new connection. A load failure leaves the list empty.
func (c *Client) reloadCommands(l logger.Logger) []string {
	c.cfg.mu.RLock()
	src := c.cfg.commandSource
	c.cfg.mu.RUnlock()

	sink := c.sink()

	list, err := src()
	if err != nil {
		sink.Record(transcript.LoadFailed(err))
		l.Error("failed to load commands", "error", err)
		list.Commands = nil
	} else {
		for _, adj := range list.Adjustments {
			if adj.Kind == cmdlist.Inserted {
				sink.Record(transcript.CommandAdded(adj.Command))
			} else {
				sink.Record(transcript.CommandMoved(adj.Command))
			}
			l.Debug("critical command adjusted", "kind", adj.Kind.String(), "command", adj.Command, "position", adj.Position)
		}
		if list.Parsed != len(list.Commands) {
			sink.Record(transcript.ListResized(list.Parsed, len(list.Commands)))
		}
	}

	c.mu.Lock()
	c.commands = slices.Clone(list.Commands)
	c.mu.Unlock()

	sink.Record(transcript.Reloaded(len(list.Commands)))
	l.Info("commands reloaded", "count", len(list.Commands))

	return list.Commands
}

func (c *Client) sink() transcript.Sink {
	c.cfg.mu.RLock()
	defer c.cfg.mu.RUnlock()

	return c.cfg.transcript
}

// connection is one TCP connection and the tasks serving it.
type connection struct {
	gen    uint64
	conn   net.Conn
	tasks  *task.Manager
	logger logger.Logger

	writeMu  sync.Mutex
	done     chan struct{}
	dropOnce sync.Once
}

func newConnection(ctx context.Context, conn net.Conn, gen uint64, l logger.Logger) *connection {
	return &connection{
		gen:    gen,
		conn:   conn,
		tasks:  task.NewManager(ctx, l),
		logger: l,
		done:   make(chan struct{}),
	}
}

func (cn *connection) write(text string) error {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()

	_, err := cn.conn.Write([]byte(text))

	return err
}

// drop closes the socket and cancels the connection's tasks. It is safe to call more than once.
func (cn *connection) drop() {
	cn.dropOnce.Do(func() {
		close(cn.done)
		cn.tasks.Stop()
		_ = cn.conn.Close()
	})
}
