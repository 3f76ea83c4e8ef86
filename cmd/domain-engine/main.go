package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/schedulr/project/internal/app/domainengine"
	appLog "github.com/schedulr/project/internal/log"
	"github.com/schedulr/project/internal/platform/config"
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

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		appLog.Fatal("connect jetstream", err)
	}
	defer client.Close()

	m := metrics.New()
	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	service := domainengine.NewService(publisher.Publish)

	sub, err := client.JS.QueueSubscribe(natsutil.CommandSubjects, "domain-engine", func(msg *nats.Msg) {
		eventType, err := service.Handle(msg.Subject, msg.Data)
		if err != nil {
			if errors.Is(err, domainengine.ErrInvalidCommandPayload) {
				appLog.Warn("discarding invalid command payload", "subject", msg.Subject, "err", err)
				_ = msg.Term()
				return
			}
			if errors.Is(err, domainengine.ErrUnsupportedCommandAction) {
				appLog.Warn("discarding unsupported command action", "subject", msg.Subject, "err", err)
				_ = msg.Term()
				return
			}
			appLog.Error("command processing failed", err, "subject", msg.Subject)
			_ = msg.Nak()
			return
		}
		m.RecordEventProduced(eventType)
		_ = msg.Ack()
	}, nats.ManualAck())
	if err != nil {
		appLog.Fatal("subscribe to commands", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	appLog.Info("domain-engine listening", "subject", sub.Subject)

	if err := m.Serve(runCtx, cfg.MetricsListen, client.Ready); err != nil {
		appLog.Fatal("metrics server failed", err)
	}
}
