package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetroute/internal/api"
	"fleetroute/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "api",
	Short:        "Serve the fleetroute HTTP API",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Log.ConfigureLogger(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	s, err := api.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logrus.WithError(err).Warn("closing server")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	runWebhookWorker(ctx, g, s)
	runHTTPServer(ctx, g, cfg, s)
	return g.Wait()
}

func runWebhookWorker(ctx context.Context, g *errgroup.Group, s *api.Server) {
	worker := s.NewWebhookWorker()
	g.Go(func() error {
		worker.Run(ctx)
		logrus.Info("webhook worker stopped")
		return nil
	})
}

func runHTTPServer(ctx context.Context, g *errgroup.Group, cfg config.Config, s *api.Server) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	g.Go(func() error {
		logrus.WithField("addr", srv.Addr).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("graceful shutdown http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (env vars override it)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
