package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/schedulr/project/internal/app/calsync"
	"github.com/schedulr/project/internal/app/eventstore"
	appLog "github.com/schedulr/project/internal/log"
	"github.com/schedulr/project/internal/platform/config"
	"github.com/schedulr/project/internal/platform/dbpool"
	"github.com/schedulr/project/internal/platform/metrics"
)

const syncTimeout = 5 * time.Minute

func main() {
	configPath := flag.String("config", os.Getenv("SCHEDULR_CONFIG"), "path to the YAML config file")
	once := flag.Bool("once", false, "sync every feed once and exit")
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

	repository := eventstore.NewRepository(pool)
	if err := dbpool.WaitReady(runCtx, pool, 30*time.Second, repository); err != nil {
		appLog.Fatal("postgres not ready", err)
	}

	m := metrics.New()
	service := calsync.NewService(calsync.NewFetcher(cfg.Sync.CacheDir), repository, cfg.Sync)
	service.OnSync = m.RecordSync

	runSync := func() {
		ctx, cancel := context.WithTimeout(runCtx, syncTimeout)
		defer cancel()
		started := time.Now()
		if err := service.SyncAll(ctx, cfg.Sync.Feeds); err != nil {
			appLog.Error("calendar sync finished with errors", err, "feeds", len(cfg.Sync.Feeds))
			return
		}
		appLog.Info("calendar sync finished", "feeds", len(cfg.Sync.Feeds), "took", time.Since(started).Round(time.Millisecond))
	}

	runSync()
	if *once {
		return
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.Sync.Cron, runSync); err != nil {
		appLog.Fatal("invalid sync schedule", err, "cron", cfg.Sync.Cron)
	}
	scheduler.Start()
	appLog.Info("calendar-sync scheduled", "cron", cfg.Sync.Cron, "feeds", len(cfg.Sync.Feeds))

	if err := m.Serve(runCtx, cfg.MetricsListen, func() error { return pool.Ping(runCtx) }); err != nil {
		appLog.Error("metrics server failed", err)
	}
	<-scheduler.Stop().Done()
}
