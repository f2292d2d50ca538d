package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/thereayou/signal-relay/cmd/server"
	"github.com/thereayou/signal-relay/internal/config"
	"github.com/thereayou/signal-relay/internal/logging"
	"github.com/thereayou/signal-relay/pkg/auth"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if !config.LoadDotEnv() {
		logger.Debug().Msg(".env not found, using environment variables")
	}
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	root, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up logging")
	}
	logger = root

	if cfg.IssueAdminToken {
		tok, err := auth.NewJWTManager(cfg.AdminJWTSecret, cfg.AdminTokenTTL).Generate("operator")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue admin token")
		}
		fmt.Println(tok)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := server.NewServer(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(2)
	go srv.Run(ctx, wg, errc)
	go srv.RunJanitor(ctx, wg)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
