package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/where-is-my-bus/internal/config"
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/handlers"
	"github.com/ukydev/where-is-my-bus/internal/ingest"
	"github.com/ukydev/where-is-my-bus/internal/middleware"
	"github.com/ukydev/where-is-my-bus/internal/nearest"
)

func newServer(cfg *config.Config, store db.VehicleStore) (*http.Server, error) {
	engine := nearest.NewEngine(store, cfg.Nearest.DefaultLimit, cfg.Nearest.MaxLimit)
	h := handlers.NewBusHandler(store, engine, cfg.MaxBodyBytes)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
			return nil, err
		}
	}

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(h, cfg.CORSOrigin, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// run serves until ctx is cancelled, then shuts down within the configured
// timeout.
func run(ctx context.Context, cfg *config.Config) error {
	store := db.NewMemoryStore()

	if cfg.MQTT.Broker != "" {
		sub := ingest.NewSubscriber(cfg.MQTT, store)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
		log.WithFields(log.Fields{"broker": cfg.MQTT.Broker, "topic": cfg.MQTT.Topic}).Info("MQTT ingest enabled")
	}

	if cfg.GTFSRT.URL != "" {
		poller := ingest.NewPoller(cfg.GTFSRT, store)
		go poller.Run(ctx)
		log.WithFields(log.Fields{"url": cfg.GTFSRT.URL, "interval": cfg.GTFSRT.Interval}).Info("GTFS-RT ingest enabled")
	}

	srv, err := newServer(cfg, store)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Backend running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := config.SetupLogging(cfg); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
