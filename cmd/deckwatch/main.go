// Command deckwatch runs the column-monitoring daemon: it keeps an
// authenticated deck session open, captures new posts as they appear, and
// runs the scheduled summary and cleanup jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"deckwatch/internal/app"
	"deckwatch/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "deckwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}

	a, err := app.New(cfg, creds, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("deckwatch starting",
		zap.String("config", *configPath),
		zap.String("data_dir", cfg.DataDir))
	return a.Run(ctx)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
