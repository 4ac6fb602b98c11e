package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedwatch/config"
	"feedwatch/internal/delivery"
	"feedwatch/internal/fetch"
	"feedwatch/internal/handler"
	"feedwatch/internal/service"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the feed engine and the control API",
		Description: `Loads the registry from storage, schedules every active
		subscription and serves the control API.

		New items are posted to the configured webhook, or logged when no
		webhook is set. On SIGINT/SIGTERM running checks get shutdown_grace
		to finish before the registry is saved one last time.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on, overrides the config file",
				EnvVars: []string{"PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if port := ctx.String("port"); port != "" {
				cfg.Server.Port = port
			}
			return serve(ctx.Context, cfg)
		},
	}
}

func newDeliverer(cfg *config.Config) service.Deliverer {
	if cfg.Delivery.WebhookURL == "" {
		log.Warn("No webhook configured, new items will only be logged")
		return delivery.NewLogDeliverer()
	}
	return delivery.NewWebhook(cfg.Delivery.WebhookURL, cfg.Delivery.Timeout, cfg.Delivery.MaxRetries, cfg.Delivery.MaxElapsed)
}

func newEngine(cfg *config.Config, st service.SnapshotStore) *service.Engine {
	registry := service.NewRegistry(st, cfg.Engine.MaxFeedsPerDestination, cfg.Engine.DefaultInterval)
	fetcher := fetch.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Fetch.MaxBodyBytes)
	dispatcher := service.NewDispatcher(newDeliverer(cfg), cfg.Engine.DeliveryPace)
	poller := service.NewPoller(registry, fetcher, service.NewParser(), dispatcher, cfg.Engine.MaxItemsPerCheck)

	return service.NewEngine(registry, poller, service.EngineOptions{
		DefaultInterval: cfg.Engine.DefaultInterval,
		MinInterval:     cfg.Engine.MinInterval,
		MaxInterval:     cfg.Engine.MaxInterval,
		ShutdownGrace:   cfg.Engine.ShutdownGrace,
	})
}

func serve(parent context.Context, cfg *config.Config) error {
	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := newEngine(cfg, st)
	if err := engine.Start(parent); err != nil {
		return err
	}

	// 初始化Gin
	gin.SetMode(cfg.Server.Mode)
	r := gin.Default()
	handler.NewHandler(engine).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.GetServerAddress(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("Gracefully shutting down...")
	case err = <-errCh:
		log.WithError(err).Error("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown")
	}

	if stopErr := engine.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
