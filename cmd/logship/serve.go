package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logship/internal/config"
	"logship/internal/logger"
	"logship/internal/server"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept log entries over HTTP (POST /log) and ship them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.MustLoad()
			logger.Init(cfg)
			return serve(cmd.Context(), cfg, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second,
		"time allowed for in-flight requests and entries on SIGTERM")
	return cmd
}

// serve
//
// 종료 순서 (SIGTERM / SIGINT):
//  1. HTTP 서버 종료 (새 요청 차단, 처리 중 요청 대기)
//  2. shipper 종료 (진행 중 엔트리 대기 → stream close)
func serve(parent context.Context, cfg config.Config, shutdownTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}

	h := server.NewHandler(a.provider, a.metrics, cfg.HTTP.MaxBodySize)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		zlog.Error().Err(serveErr).Msg("http server terminated")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Close(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("shipper shutdown")
		serveErr = errors.Join(serveErr, err)
	}
	zlog.Info().Msg("shutdown complete")
	return serveErr
}
