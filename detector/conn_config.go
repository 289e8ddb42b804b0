package detector

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Erick14-l/RCS-AutoTest/cmdlist"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

// Default command names used by the framer.
const (
	DefaultAggregateCommand = "detector_temp"
	DefaultAggregateMarker  = "high_board_temp"
	DefaultStatusCommand    = "get_img_handle_status"
	DefaultCommandFile      = "sscom51.ini"
)

// DefaultWideCommands returns the commands whose replies may span several TCP segments.
func DefaultWideCommands() []string {
	return []string{
		"detector_info",
		"detector_temp",
		"detector_state",
		"get_pcie_status",
		"get_img_handle_status",
	}
}

// CommandSource produces the command list for a new connection.
// It is called once per successful connect.
type CommandSource func() (cmdlist.List, error)

// ConnectionConfig represents the configuration parameters of a detector control connection.
type ConnectionConfig struct {
	mu sync.RWMutex

	// host specifies the host of the detector control port.
	host string

	// port specifies the TCP port number of the detector control port.
	port int

	// connectTimeout bounds a single dial attempt. It should be between 10 milliseconds and 30 seconds.
	// Defaults to 3 seconds.
	connectTimeout time.Duration
	// reconnectInterval is the sleep between failed dial attempts.
	// Defaults to 5 seconds.
	reconnectInterval time.Duration
	// settleDelay is the pause after the per-connection tasks are spawned.
	// Defaults to 500 milliseconds.
	settleDelay time.Duration

	// replyWait is how long the sender waits after each command before advancing the cursor.
	// Defaults to 1 second.
	replyWait time.Duration
	// commandInterval is the base pacing between two commands.
	// Defaults to 2 seconds.
	commandInterval time.Duration
	// gatePollInterval is the poll interval while command issuance is suspended.
	// Defaults to 1 second.
	gatePollInterval time.Duration

	// pollInterval is the read deadline of a single receive poll.
	// Defaults to 10 milliseconds.
	pollInterval time.Duration
	// idleTimeout is the silence after which a partial reply is flushed.
	// Defaults to 500 milliseconds.
	idleTimeout time.Duration
	// wideIdleTimeout is the idle threshold used while a wide command's frame is open.
	// Defaults to 500 milliseconds.
	wideIdleTimeout time.Duration
	// wideSettle is the pause after a wide command's echo before supplementary reads start.
	// Defaults to 300 milliseconds.
	wideSettle time.Duration
	// supplementaryReads is the number of supplementary read attempts for wide commands.
	// Defaults to 5.
	supplementaryReads int
	// supplementaryInterval is the spacing between supplementary read attempts.
	// Defaults to 100 milliseconds.
	supplementaryInterval time.Duration

	// recvBufferSize is the size of the socket read buffer.
	// Defaults to 16384 bytes.
	recvBufferSize int
	// maxPartialSize is the largest partial line kept without a newline before it is flushed.
	// Defaults to 4096 bytes.
	maxPartialSize int

	// wideCommands is the set of commands whose replies need supplementary reads.
	wideCommands []string
	// aggregateCommand is the command whose continuation lines are joined into one line.
	aggregateCommand string
	// aggregateMarker ends aggregation once it appears in the joined text.
	aggregateMarker string
	// aggregateLimit ends aggregation once the joined text is longer than it.
	// Defaults to 200 characters.
	aggregateLimit int
	// statusCommand is the command whose reply carries recv and error counters.
	statusCommand string
	// starvationGating makes a zero recv counter suspend command issuance.
	// Defaults to false.
	starvationGating bool

	// commandSource loads the command list on every connect.
	// Defaults to loading sscom51.ini from the working directory.
	commandSource CommandSource

	// transcript receives every send and receive event.
	// Defaults to transcript.Discard.
	transcript transcript.Sink

	// logger provides a logger instance for operational logs.
	logger logger.Logger
}

// NewConnectionConfig creates a new detector connection configuration with the given host, port number,
// and optional functional options.
//
// It initializes a ConnectionConfig with default values and then applies the provided options to customize
// the configuration. See the various WithXXX functions for available configuration options.
//
// Returns a pointer to the initialized ConnectionConfig and an error if any occurred during the configuration process.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		connectTimeout:        3 * time.Second,
		reconnectInterval:     5 * time.Second,
		settleDelay:           500 * time.Millisecond,
		replyWait:             1 * time.Second,
		commandInterval:       2 * time.Second,
		gatePollInterval:      1 * time.Second,
		pollInterval:          10 * time.Millisecond,
		idleTimeout:           500 * time.Millisecond,
		wideIdleTimeout:       500 * time.Millisecond,
		wideSettle:            300 * time.Millisecond,
		supplementaryReads:    5,
		supplementaryInterval: 100 * time.Millisecond,
		recvBufferSize:        16384,
		maxPartialSize:        4096,
		wideCommands:          DefaultWideCommands(),
		aggregateCommand:      DefaultAggregateCommand,
		aggregateMarker:       DefaultAggregateMarker,
		aggregateLimit:        200,
		statusCommand:         DefaultStatusCommand,
		commandSource:         fileSource(DefaultCommandFile),
		transcript:            transcript.Discard,
		logger:                logger.GetLogger(),
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// Host returns the configured device host.
func (cfg *ConnectionConfig) Host() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.host
}

// Port returns the configured device port.
func (cfg *ConnectionConfig) Port() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.port
}

// Address returns host:port.
func (cfg *ConnectionConfig) Address() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.host, fmt.Sprint(cfg.port))
}

func (cfg *ConnectionConfig) ReconnectInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.reconnectInterval
}

func (cfg *ConnectionConfig) ReplyWait() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.replyWait
}

func (cfg *ConnectionConfig) CommandInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandInterval
}

func (cfg *ConnectionConfig) StarvationGating() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.starvationGating
}

// IsWide reports whether command is in the wide command set.
func (cfg *ConnectionConfig) IsWide(command string) bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return slices.Contains(cfg.wideCommands, command)
}

// framerSettings takes a consistent snapshot of the framing parameters.
func (cfg *ConnectionConfig) framerSettings() framerSettings {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return framerSettings{
		wide:            slices.Clone(cfg.wideCommands),
		aggregate:       cfg.aggregateCommand,
		marker:          cfg.aggregateMarker,
		aggregateLimit:  cfg.aggregateLimit,
		idleTimeout:     cfg.idleTimeout,
		wideIdleTimeout: cfg.wideIdleTimeout,
		maxPartial:      cfg.maxPartialSize,
	}
}

// ConnOption represents a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error {
	if cfg == nil {
		return ErrConnConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	return c.applyFunc(cfg)
}

func newConnOptFunc(name string, runtime bool, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// withRemoteHost sets the host of the detector.
// The name is not resolved here; the device may be unreachable while the client is configured.
func withRemoteHost(host string) ConnOption {
	return newConnOptFunc("withRemoteHost", false, func(cfg *ConnectionConfig) error {
		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		host = strings.Trim(host, ".")
		if host == "" || strings.ContainsAny(host, " :/") {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

// withPort sets the TCP port number of the detector.
// An error is returned if the port number is out of the valid range (1-65535).
func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", false, func(cfg *ConnectionConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

func durationOpt(name string, lo, hi time.Duration, set func(*ConnectionConfig, time.Duration)) func(time.Duration) ConnOption {
	return func(val time.Duration) ConnOption {
		return newConnOptFunc(name, true, func(cfg *ConnectionConfig) error {
			if val < lo || val > hi {
				return fmt.Errorf("%s: %s out of range [%s, %s]", name, val, lo, hi)
			}
			set(cfg, val)

			return nil
		})
	}
}

// WithConnectTimeout sets the timeout of a single dial attempt.
// The valid range is 10 milliseconds to 30 seconds. The default value is 3 seconds.
func WithConnectTimeout(val time.Duration) ConnOption {
	return durationOpt("WithConnectTimeout", 10*time.Millisecond, 30*time.Second,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.connectTimeout = v })(val)
}

// WithReconnectInterval sets the sleep between failed dial attempts.
// The valid range is 1 millisecond to 10 minutes. The default value is 5 seconds.
func WithReconnectInterval(val time.Duration) ConnOption {
	return durationOpt("WithReconnectInterval", time.Millisecond, 10*time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.reconnectInterval = v })(val)
}

// WithSettleDelay sets the pause after the per-connection tasks are spawned.
// The default value is 500 milliseconds.
func WithSettleDelay(val time.Duration) ConnOption {
	return durationOpt("WithSettleDelay", 0, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.settleDelay = v })(val)
}

// WithReplyWait sets how long the sender waits for a reply before advancing to the next command.
// The default value is 1 second.
func WithReplyWait(val time.Duration) ConnOption {
	return durationOpt("WithReplyWait", time.Millisecond, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.replyWait = v })(val)
}

// WithCommandInterval sets the base pacing between two commands.
// The default value is 2 seconds.
func WithCommandInterval(val time.Duration) ConnOption {
	return durationOpt("WithCommandInterval", 0, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.commandInterval = v })(val)
}

// WithGatePollInterval sets how often a suspended sender re-checks the quiescence gate.
// The default value is 1 second.
func WithGatePollInterval(val time.Duration) ConnOption {
	return durationOpt("WithGatePollInterval", time.Millisecond, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.gatePollInterval = v })(val)
}

// WithPollInterval sets the read deadline of one receive poll.
// The default value is 10 milliseconds.
func WithPollInterval(val time.Duration) ConnOption {
	return durationOpt("WithPollInterval", time.Millisecond, time.Second,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.pollInterval = v })(val)
}

// WithIdleTimeout sets the silence after which a partial reply is flushed as a complete frame.
// The default value is 500 milliseconds.
func WithIdleTimeout(val time.Duration) ConnOption {
	return durationOpt("WithIdleTimeout", time.Millisecond, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.idleTimeout = v })(val)
}

// WithWideIdleTimeout sets the idle threshold used while a wide command's frame is open.
// The default value is 500 milliseconds.
func WithWideIdleTimeout(val time.Duration) ConnOption {
	return durationOpt("WithWideIdleTimeout", time.Millisecond, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.wideIdleTimeout = v })(val)
}

// WithWideSettle sets the pause between a wide command's echo and the first supplementary read.
// The default value is 300 milliseconds.
func WithWideSettle(val time.Duration) ConnOption {
	return durationOpt("WithWideSettle", 0, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.wideSettle = v })(val)
}

// WithSupplementaryInterval sets the spacing between supplementary read attempts.
// The default value is 100 milliseconds.
func WithSupplementaryInterval(val time.Duration) ConnOption {
	return durationOpt("WithSupplementaryInterval", 0, time.Minute,
		func(cfg *ConnectionConfig, v time.Duration) { cfg.supplementaryInterval = v })(val)
}

// WithSupplementaryReads sets the number of supplementary read attempts for wide commands.
// The valid range is 0 to 100. The default value is 5.
func WithSupplementaryReads(val int) ConnOption {
	return newConnOptFunc("WithSupplementaryReads", true, func(cfg *ConnectionConfig) error {
		if val < 0 || val > 100 {
			return errors.New("supplementary reads out of range [0, 100]")
		}
		cfg.supplementaryReads = val

		return nil
	})
}

// WithRecvBufferSize sets the size of the socket read buffer.
// The valid range is 64 bytes to 1 MiB. The default value is 16384.
func WithRecvBufferSize(val int) ConnOption {
	return newConnOptFunc("WithRecvBufferSize", false, func(cfg *ConnectionConfig) error {
		if val < 64 || val > 1<<20 {
			return errors.New("receive buffer size out of range [64, 1048576]")
		}
		cfg.recvBufferSize = val

		return nil
	})
}

// WithMaxPartialSize sets the largest partial line kept without a newline.
// The default value is 4096.
func WithMaxPartialSize(val int) ConnOption {
	return newConnOptFunc("WithMaxPartialSize", true, func(cfg *ConnectionConfig) error {
		if val < 1 {
			return errors.New("max partial size must be positive")
		}
		cfg.maxPartialSize = val

		return nil
	})
}

// WithWideCommands replaces the set of commands whose replies need supplementary reads.
func WithWideCommands(commands ...string) ConnOption {
	return newConnOptFunc("WithWideCommands", true, func(cfg *ConnectionConfig) error {
		cfg.wideCommands = slices.Clone(commands)
		return nil
	})
}

// WithAggregate configures the command whose continuation lines are joined into one line.
// Aggregation ends when marker appears in the joined text or the text grows longer than limit.
// An empty command disables aggregation.
func WithAggregate(command, marker string, limit int) ConnOption {
	return newConnOptFunc("WithAggregate", true, func(cfg *ConnectionConfig) error {
		if command != "" && limit < 1 {
			return errors.New("aggregate limit must be positive")
		}
		cfg.aggregateCommand = command
		cfg.aggregateMarker = marker
		cfg.aggregateLimit = limit

		return nil
	})
}

// WithStatusCommand sets the command whose reply lines are scanned for recv and error counters.
func WithStatusCommand(command string) ConnOption {
	return newConnOptFunc("WithStatusCommand", true, func(cfg *ConnectionConfig) error {
		cfg.statusCommand = command
		return nil
	})
}

// WithStarvationGating makes a zero recv counter suspend command issuance.
// By default a zero counter is only reported.
func WithStarvationGating(val bool) ConnOption {
	return newConnOptFunc("WithStarvationGating", true, func(cfg *ConnectionConfig) error {
		cfg.starvationGating = val
		return nil
	})
}

// WithCommandFile loads the command list from path on every connect, decoding, parsing and
// pinning the critical commands with cmdlist.Load.
func WithCommandFile(path string) ConnOption {
	return newConnOptFunc("WithCommandFile", true, func(cfg *ConnectionConfig) error {
		if path == "" {
			return cmdlist.ErrNoPath
		}
		cfg.commandSource = fileSource(path)

		return nil
	})
}

// WithCommands uses a fixed command list. The list is sent as given, without critical command pinning.
func WithCommands(commands ...string) ConnOption {
	list := slices.Clone(commands)

	return WithCommandSource(func() (cmdlist.List, error) {
		return cmdlist.List{Commands: slices.Clone(list), Parsed: len(list)}, nil
	})
}

// WithCommandSource sets a custom loader called on every connect.
func WithCommandSource(src CommandSource) ConnOption {
	return newConnOptFunc("WithCommandSource", true, func(cfg *ConnectionConfig) error {
		if src == nil {
			return errors.New("command source is nil")
		}
		cfg.commandSource = src

		return nil
	})
}

// WithTranscript sets the sink receiving send and receive events.
func WithTranscript(sink transcript.Sink) ConnOption {
	return newConnOptFunc("WithTranscript", false, func(cfg *ConnectionConfig) error {
		if sink == nil {
			sink = transcript.Discard
		}
		cfg.transcript = sink

		return nil
	})
}

// WithLogger sets the logger used for operational logs.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", false, func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// Update applies runtime options to an existing configuration.
// Options that can't be changed at runtime return an error.
func (cfg *ConnectionConfig) Update(opts ...ConnOption) error {
	for _, opt := range opts {
		if f, ok := opt.(*connOptFunc); ok && !f.runtime {
			return fmt.Errorf("option %s can't be changed at runtime", f.name)
		}
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

func fileSource(path string) CommandSource {
	return func() (cmdlist.List, error) {
		return cmdlist.Load(path)
	}
}
