package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schedulr/project/internal/app/eventstore"
	"github.com/schedulr/project/internal/app/guestcredit"
	"github.com/schedulr/project/internal/app/scheduleapi"
	appLog "github.com/schedulr/project/internal/log"
	platformauth "github.com/schedulr/project/internal/platform/auth"
	"github.com/schedulr/project/internal/platform/config"
	"github.com/schedulr/project/internal/platform/dbpool"
	"github.com/schedulr/project/internal/platform/metrics"
	"github.com/schedulr/project/internal/platform/natsutil"
)

func main() {
	configPath := flag.String("config", os.Getenv("SCHEDULR_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLog.Fatal("load config", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(runCtx, cfg.Database)
	if err != nil {
		appLog.Fatal("open postgres pool", err)
	}
	defer pool.Close()

	events := eventstore.NewRepository(pool)
	credits := guestcredit.NewStore(pool, cfg.Guest.StartingCredits)
	if err := dbpool.WaitReady(runCtx, pool, 30*time.Second, events, credits); err != nil {
		appLog.Fatal("postgres not ready", err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		appLog.Fatal("connect jetstream", err)
	}
	defer client.Close()

	m := metrics.New()
	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	service := scheduleapi.NewService(publisher.Publish, events, cfg.Resolver())
	service.Credits = credits

	handler := scheduleapi.NewHandler(service, platformauth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.API.AllowedOrigin)
	handler.Waiter = events
	handler.Metrics = m

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, client); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	appLog.Info("schedule-api listening", "addr", cfg.API.Listen)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		appLog.Fatal("http server failed", err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", err)
	}
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, client *natsutil.Client) error {
	if err := client.Ready(); err != nil {
		return err
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
