// Command bookbias samples a Binance spot order book once a minute, reduces it
// to book-bias metrics and persists them. It loads configuration, validates
// it, wires dependencies, sets up signal handling, and starts the application
// in the configured mode.
//
// Exit codes: 0 on a clean stop, 1 on a startup or configuration failure and
// 2 when the collector gives up after exhausting its retries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/bookbias/internal/app"
	"github.com/alanyoungcy/bookbias/internal/config"
	"github.com/alanyoungcy/bookbias/internal/domain"
)

const (
	exitOK        = 0
	exitStartup   = 1
	exitExhausted = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	symbol := flag.String("symbol", "", "base asset to sample, e.g. btc (overrides collector.symbol)")
	fixedTime := flag.String("fixed-time", "", "pin the clock to an RFC 3339 time (overrides collector.fixed_time)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitStartup
	}
	if *symbol != "" {
		cfg.Collector.Symbol = *symbol
	}
	if *fixedTime != "" {
		cfg.Collector.FixedTime = *fixedTime
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitStartup
	}

	logger.Info("bookbias starting",
		slog.String("mode", cfg.Mode),
		slog.String("instrument", cfg.Collector.Instrument()),
		slog.Any("config", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(application.Run(ctx))
	switch code {
	case exitOK:
		logger.Info("bookbias stopped")
	case exitExhausted:
		logger.Error("collector gave up", slog.String("instrument", cfg.Collector.Instrument()))
	}
	return code
}

// exitCode maps the application's result to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, domain.ErrRetriesExhausted):
		return exitExhausted
	default:
		slog.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitStartup
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
