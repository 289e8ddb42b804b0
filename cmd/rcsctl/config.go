package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/Erick14-l/RCS-AutoTest/detector"
)

// runConfig is the resolved configuration of the run command.
// Sources are applied in order: defaults, TOML file, RCS_* environment variables, flags.
type runConfig struct {
	Host              string        `env:"RCS_HOST"`
	Port              int           `env:"RCS_PORT"`
	CommandFile       string        `env:"RCS_COMMAND_FILE"`
	LogDir            string        `env:"RCS_LOG_DIR"`
	LogLevel          string        `env:"RCS_LOG_LEVEL"`
	ReconnectInterval time.Duration `env:"RCS_RECONNECT_INTERVAL"`
	ReplyWait         time.Duration `env:"RCS_REPLY_WAIT"`
	CommandInterval   time.Duration `env:"RCS_COMMAND_INTERVAL"`
	IdleTimeout       time.Duration `env:"RCS_IDLE_TIMEOUT"`
	StarvationGating  bool          `env:"RCS_STARVATION_GATING"`
	WideCommands      []string      `env:"RCS_WIDE_COMMANDS"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		Host:              "192.168.5.142",
		Port:              22001,
		CommandFile:       detector.DefaultCommandFile,
		LogDir:            "logs",
		LogLevel:          "info",
		ReconnectInterval: 5 * time.Second,
		ReplyWait:         1 * time.Second,
		CommandInterval:   2 * time.Second,
		IdleTimeout:       500 * time.Millisecond,
		WideCommands:      detector.DefaultWideCommands(),
	}
}

type fileConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	CommandFile       string   `toml:"command_file"`
	LogDir            string   `toml:"log_dir"`
	LogLevel          string   `toml:"log_level"`
	ReconnectInterval string   `toml:"reconnect_interval"`
	ReplyWait         string   `toml:"reply_wait"`
	CommandInterval   string   `toml:"command_interval"`
	IdleTimeout       string   `toml:"idle_timeout"`
	StarvationGating  bool     `toml:"starvation_gating"`
	WideCommands      []string `toml:"wide_commands"`
}

// loadRunConfig resolves the run configuration. path may be empty; only flags set on the command
// line override the other sources.
func loadRunConfig(path string, f *runFlags, flags *pflag.FlagSet) (runConfig, error) {
	cfg := defaultRunConfig()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return runConfig{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return runConfig{}, fmt.Errorf("parse env: %w", err)
	}

	if f != nil && flags != nil {
		f.apply(&cfg, flags)
	}

	return cfg, nil
}

func applyFile(cfg *runConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if keys := meta.Undecoded(); len(keys) > 0 {
		return fmt.Errorf("load config: unknown keys %v", keys)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("command_file") {
		cfg.CommandFile = strings.TrimSpace(raw.CommandFile)
	}
	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("starvation_gating") {
		cfg.StarvationGating = raw.StarvationGating
	}
	if meta.IsDefined("wide_commands") {
		cfg.WideCommands = raw.WideCommands
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconnect_interval", raw.ReconnectInterval, &cfg.ReconnectInterval},
		{"reply_wait", raw.ReplyWait, &cfg.ReplyWait},
		{"command_interval", raw.CommandInterval, &cfg.CommandInterval},
		{"idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		val, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = val
	}

	return nil
}

// runFlags holds the values bound to the run command's flags.
type runFlags struct {
	host              string
	port              int
	commandFile       string
	logDir            string
	logLevel          string
	reconnectInterval time.Duration
	replyWait         time.Duration
	commandInterval   time.Duration
	idleTimeout       time.Duration
	starvationGating  bool
}

func (f *runFlags) register(flags *pflag.FlagSet) {
	def := defaultRunConfig()

	flags.StringVar(&f.host, "host", def.Host, "detector control host")
	flags.IntVar(&f.port, "port", def.Port, "detector control port")
	flags.StringVar(&f.commandFile, "commands", def.CommandFile, "command list file")
	flags.StringVar(&f.logDir, "log-dir", def.LogDir, "transcript directory")
	flags.StringVar(&f.logLevel, "log-level", def.LogLevel, "operational log level (debug, info, warn, error)")
	flags.DurationVar(&f.reconnectInterval, "reconnect-interval", def.ReconnectInterval, "pause between failed connection attempts")
	flags.DurationVar(&f.replyWait, "reply-wait", def.ReplyWait, "wait for the reply to a command")
	flags.DurationVar(&f.commandInterval, "command-interval", def.CommandInterval, "pause between commands")
	flags.DurationVar(&f.idleTimeout, "idle-timeout", def.IdleTimeout, "silence that ends a partial reply")
	flags.BoolVar(&f.starvationGating, "starvation-gating", def.StarvationGating, "suspend commands while the device reports recv:0")
}

// apply copies the flags set on the command line into cfg.
func (f *runFlags) apply(cfg *runConfig, flags *pflag.FlagSet) {
	if flags.Changed("host") {
		cfg.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("commands") {
		cfg.CommandFile = f.commandFile
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = f.logDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("reconnect-interval") {
		cfg.ReconnectInterval = f.reconnectInterval
	}
	if flags.Changed("reply-wait") {
		cfg.ReplyWait = f.replyWait
	}
	if flags.Changed("command-interval") {
		cfg.CommandInterval = f.commandInterval
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = f.idleTimeout
	}
	if flags.Changed("starvation-gating") {
		cfg.StarvationGating = f.starvationGating
	}
}

// connOptions converts the run configuration to detector options.
func (cfg runConfig) connOptions() []detector.ConnOption {
	return []detector.ConnOption{
		detector.WithCommandFile(cfg.CommandFile),
		detector.WithReconnectInterval(cfg.ReconnectInterval),
		detector.WithReplyWait(cfg.ReplyWait),
		detector.WithCommandInterval(cfg.CommandInterval),
		detector.WithIdleTimeout(cfg.IdleTimeout),
		detector.WithWideIdleTimeout(cfg.IdleTimeout),
		detector.WithStarvationGating(cfg.StarvationGating),
		detector.WithWideCommands(cfg.WideCommands...),
	}
}
