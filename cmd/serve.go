package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/api"
	"github.com/JakeFAU/pt-crawler/internal/scheduler"
)

const shutdownGrace = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and runs scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(a.Dispatcher(), logger)
			if err := sched.Register(a.Config().Tasks); err != nil {
				return fmt.Errorf("register schedules: %w", err)
			}
			sched.Start()

			server := api.NewServer(a.Dispatcher(), a.Runs(), a.Config(), logger, a.ReadyChecks()...)
			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config().Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-serveErr:
				if err != nil {
					logger.Error("http server failed", zap.Error(err))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
			defer cancel()
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduler stop", zap.Error(err))
			}
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown", zap.Error(err))
			}
			if err := a.Dispatcher().Shutdown(shutdownCtx); err != nil {
				logger.Warn("dispatcher shutdown", zap.Error(err))
			}
			return nil
		},
	}
}
