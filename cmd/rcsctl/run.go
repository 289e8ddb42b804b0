package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Erick14-l/RCS-AutoTest/detector"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		flags      runFlags
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the detector and replay the command list until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(configPath, &flags, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	flags.register(cmd.Flags())

	return cmd
}

// runClient runs the detector client until ctx is canceled. The transcript is written to a new file
// in cfg.LogDir and echoed to console.
func runClient(ctx context.Context, cfg runConfig, console io.Writer) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	l := logger.NewSlog(level, false)
	logger.SetDefault(l)

	w, err := transcript.Create(cfg.LogDir, time.Now(), transcript.WithConsole(console))
	if err != nil {
		return err
	}
	defer w.Close()

	l.Info("transcript created", "path", w.Path())

	opts := append(cfg.connOptions(), detector.WithTranscript(w), detector.WithLogger(l))
	connCfg, err := detector.NewConnectionConfig(cfg.Host, cfg.Port, opts...)
	if err != nil {
		return fmt.Errorf("connection config: %w", err)
	}

	client, err := detector.NewClient(connCfg)
	if err != nil {
		return err
	}

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.Record(transcript.PhraseInterrupted)
		l.Info("client interrupted", "metrics", metricsSummary(client.GetMetrics()))

		return w.Err()
	}
	if err != nil {
		return err
	}

	return w.Err()
}

func metricsSummary(m *detector.ConnectionMetrics) map[string]uint64 {
	return map[string]uint64{
		"connects": m.ConnectCount.Load(),
		"sent":     m.CommandSendCount.Load(),
		"frames":   m.FrameRecvCount.Load(),
		"cycles":   m.CycleCount.Load(),
	}
}
