package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/edit-relay/internal/app"
	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/platform/config"
)

const logFilePerm = 0o644

func main() {
	mode := flag.String("mode", "relay", "Service mode (relay, once, migrate)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, &logger)

	if err := runMode(ctx, application, *mode); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		if errors.Is(err, apperrors.ErrInvariantViolation) {
			closeLogAndFatal(logger, closeLog, err, "invariant violated")
		}

		closeLogAndFatal(logger, closeLog, err, "application error")
	}

	logger.Info().Msg("application stopped")
}

func closeLogAndFatal(logger zerolog.Logger, closeLog func(), err error, msg string) {
	logger.Error().Err(err).Msg(msg)
	closeLog()
	os.Exit(1)
}

// newLogger writes JSON (console when local) to stderr and, when LOG_PATH is
// set, a plain-text copy to that file. All timestamps are UTC.
func newLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	var stderr io.Writer = os.Stderr
	if cfg.IsLocal() {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if cfg.LogPath == "" {
		return zerolog.New(stderr).With().Timestamp().Logger(), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open %s: %w", cfg.LogPath, err)
	}

	file := zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}
	logger := zerolog.New(zerolog.MultiLevelWriter(stderr, file)).With().Timestamp().Logger()

	return logger, func() { _ = f.Close() }, nil
}

func runMode(ctx context.Context, application *app.App, mode string) error {
	switch mode {
	case "relay":
		return application.RunRelay(ctx)
	case "once":
		return application.RunOnce(ctx)
	case "migrate":
		return application.RunMigrate(ctx)
	default:
		log.Fatalf("Usage: %s --mode=[relay|once|migrate]", os.Args[0])

		return nil
	}
}
