// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/panenka/internal/auth"
	"github.com/jason-s-yu/panenka/internal/buzzer"
	"github.com/jason-s-yu/panenka/internal/config"
	"github.com/jason-s-yu/panenka/internal/handlers"
	"github.com/jason-s-yu/panenka/internal/metrics"
	"github.com/jason-s-yu/panenka/internal/store"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		logger.Fatalf("open lobby store: %v", err)
	}
	defer repo.Close()
	logger.WithField("backend", cfg.Store.Backend).Info("lobby store ready")

	signer, err := newSigner(cfg)
	if err != nil {
		logger.Fatalf("host token keys: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine, err := buzzer.NewEngine(buzzer.Config{
		Repo:            repo,
		Signer:          signer,
		Clock:           clockwork.NewRealClock(),
		Logger:          logger,
		Metrics:         m,
		LockOnFirstBuzz: cfg.LockOnFirstBuzz,
		PlayerTTL:       cfg.PlayerTTL,
		HostTTL:         cfg.HostTTL,
		TouchInterval:   cfg.TouchInterval,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	if cfg.SweepInterval > 0 {
		go buzzer.NewSweeper(engine, cfg.SweepInterval).Run(ctx)
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Logger:         logger,
			Engine:         engine,
			Metrics:        m,
			Gatherer:       prometheus.DefaultGatherer,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// newSigner loads persistent keys when configured. Generated keys are only allowed
// with the memory store, whose lobbies die with the process anyway.
func newSigner(cfg *config.Config) (*auth.Signer, error) {
	if cfg.AuthPrivateKeyPath != "" {
		return auth.NewSignerFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath)
	}
	return auth.NewSigner()
}
