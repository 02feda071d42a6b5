// Package bus provides the event fan-out between the capture/recording core
// and its external collaborators (GUI, alerting), backed by embedded NATS.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus runs an embedded NATS server and a local connection to it.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.Mutex
	subs   []*nats.Subscription
}

// Config configures the bus.
type Config struct {
	// Host for the embedded NATS server (default 127.0.0.1).
	Host string
	// Port for the embedded NATS server. -1 selects a random free port,
	// which tests rely on.
	Port int
}

// New starts an embedded NATS server and connects to it.
func New(cfg Config) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	logger := slog.Default().With("component", "bus")
	logger.Info("Event bus started", "url", ns.ClientURL())

	return &Bus{
		server: ns,
		conn:   nc,
		logger: logger,
	}, nil
}

// ClientURL returns the NATS client URL for external subscribers.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Conn returns the NATS connection for direct use.
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// Publish marshals data as JSON and publishes it to a subject.
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject (NATS wildcards allowed).
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()
	return sub, nil
}

// Flush waits for published messages to be processed by the server.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Stop drains the connection and shuts down the embedded server.
func (b *Bus) Stop() {
	b.subsMu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.subsMu.Unlock()

	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}
