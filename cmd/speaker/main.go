// Package main is the entry point of the speaker client, which speaks the
// texts relayed to it through the platform's speech program.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/vyrodovalexey/speechrelay/internal/config"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/speaker"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("speaker version %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "speaker: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("speaker stopped", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("speaker stopped")
}

// run builds the synthesizer and client and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger observability.Logger, opts ...speaker.SynthOption) error {
	synth, err := speaker.NewDefaultSynthesizer(cfg.SpeakerCommand, opts...)
	if err != nil {
		return err
	}

	logger.Info("starting speaker",
		observability.String("server", cfg.ServerURL),
		observability.String("platform", runtime.GOOS),
		observability.String("program", synth.Program()),
	)
	if err := synth.CheckAvailable(); err != nil {
		logger.Warn("speech program not found on PATH",
			observability.String("program", synth.Program()),
			observability.Error(err),
		)
	}

	client, err := speaker.NewClient(speaker.Config{
		ServerURL:         cfg.ServerURL,
		Key:               cfg.SpeechKey,
		ReconnectAttempts: cfg.SpeakerReconnectAttempts,
		ReconnectDelay:    cfg.SpeakerReconnectDelay,
	}, synth, speaker.WithLogger(logger))
	if err != nil {
		return err
	}

	err = client.Run(ctx)
	if errors.Is(err, speaker.ErrAuthenticationFailed) {
		return fmt.Errorf("%w: the key must match the relay's SPEECH_KEY", err)
	}
	return err
}
