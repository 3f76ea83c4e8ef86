package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/schedulr/project/internal/app/eventsink"
	"github.com/schedulr/project/internal/app/eventstore"
	appLog "github.com/schedulr/project/internal/log"
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

	repository := eventstore.NewRepository(pool)
	if err := dbpool.WaitReady(runCtx, pool, 30*time.Second, repository); err != nil {
		appLog.Fatal("postgres not ready", err)
	}
	service := eventsink.NewService(repository)

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		appLog.Fatal("connect jetstream", err)
	}
	defer client.Close()

	m := metrics.New()
	sub, err := client.JS.QueueSubscribe(natsutil.EventSubjects, "event-sink", func(msg *nats.Msg) {
		var eventSeq uint64
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			eventSeq = meta.Sequence.Stream
		}

		applyCtx, cancel := context.WithTimeout(runCtx, 3*time.Second)
		defer cancel()
		eventType, err := service.Handle(applyCtx, msg.Data, eventSeq)
		if err != nil {
			switch {
			case errors.Is(err, eventsink.ErrInvalidEventPayload),
				errors.Is(err, eventstore.ErrUnsupportedEventType):
				appLog.Warn("discarding event", "subject", msg.Subject, "err", err)
				m.RecordEventApplied(eventType, "discarded")
				_ = msg.Term()
			case errors.Is(err, eventstore.ErrSlotTaken):
				// Another command claimed the slot after the API checked it.
				appLog.Warn("event lost slot race", "subject", msg.Subject, "seq", eventSeq)
				m.RecordEventApplied(eventType, "slot_taken")
				_ = msg.Term()
			default:
				appLog.Error("event persistence failed", err, "subject", msg.Subject, "seq", eventSeq)
				m.RecordEventApplied(eventType, "retry")
				_ = msg.Nak()
			}
			return
		}

		m.RecordEventApplied(eventType, "applied")
		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		appLog.Fatal("subscribe to events", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	appLog.Info("event-sink listening", "subject", sub.Subject)

	if err := m.Serve(runCtx, cfg.MetricsListen, client.Ready); err != nil {
		appLog.Fatal("metrics server failed", err)
	}
}
