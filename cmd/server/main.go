package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/app"
	"github.com/iliamunaev/multivendor-checkout/internal/config"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run loads the configuration, connects the backing services and serves
// the API until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logger.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, l)

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Error(ctx, "startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}
