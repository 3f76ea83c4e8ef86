package natsutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	CommandsStream = "SCHEDULE_COMMANDS"
	EventsStream   = "SCHEDULE_EVENTS"

	CommandSubjects = "schedule.command.>"
	EventSubjects   = "schedule.event.>"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func ConnectJetStream(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("schedulr"))
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

func ConnectJetStreamWithRetry(url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

// EnsureStreams creates the command and event streams when they are missing.
func EnsureStreams(js nats.JetStreamContext) error {
	for _, sc := range []nats.StreamConfig{
		{Name: CommandsStream, Subjects: []string{CommandSubjects}},
		{Name: EventsStream, Subjects: []string{EventSubjects}},
	} {
		if _, err := js.StreamInfo(sc.Name); err == nil {
			continue
		} else if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		sc.Retention = nats.LimitsPolicy
		sc.Storage = nats.FileStorage
		sc.Replicas = 1
		if _, err := js.AddStream(&sc); err != nil {
			return fmt.Errorf("add stream %s: %w", sc.Name, err)
		}
	}
	return nil
}

// Ready reports whether the connection can serve traffic.
func (c *Client) Ready() error {
	if c == nil || c.Conn == nil {
		return errors.New("nats connection is nil")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", status.String())
	}
	return nil
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.Publish(subject, payload)
	return err
}
