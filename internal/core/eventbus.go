package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/manivault/mvcore/internal/events"
)

// SubjectPrefix is prepended to event topics on the bus
const SubjectPrefix = "mv."

// EventBus runs an embedded NATS server that mirrors core events for
// observers outside the process
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	ports  *PortManager
	port   int
	logger *slog.Logger

	subs   []*nats.Subscription
	subsMu sync.Mutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 4222)
	Port int
	// StoreDir for JetStream persistence (optional)
	StoreDir string
	// EnableJetStream enables JetStream for persistent messaging
	EnableJetStream bool
	// Ports allocates the server port; nil creates a private manager
	Ports *PortManager
}

// Envelope is the message published for every mirrored event
type Envelope struct {
	Topic string          `json:"topic"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

// Subject returns the bus subject of an event topic
func Subject(topic string) string {
	return SubjectPrefix + topic
}

// NewEventBus starts an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}
	pm := cfg.Ports
	if pm == nil {
		pm = NewPortManager(cfg.Host)
	}

	port, err := pm.ReserveOrFind(cfg.Port, "nats")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate NATS port: %w", err)
	}
	if port != cfg.Port {
		logger.Info("NATS port conflict detected, using alternative", "preferred", cfg.Port, "actual", port)
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	}
	if cfg.EnableJetStream {
		opts.JetStream = true
		opts.StoreDir = cfg.StoreDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		pm.Release(port)
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		pm.Release(port)
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", port)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("manivault-core"))
	if err != nil {
		ns.Shutdown()
		pm.Release(port)
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		ports:  pm,
		port:   port,
		logger: logger.With("component", "eventbus"),
	}
	eb.logger.Info("Event bus started", "url", ns.ClientURL(), "jetstream", cfg.EnableJetStream)
	return eb, nil
}

// Conn returns the NATS connection for direct use
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Mirror publishes every event dispatched on d until the returned function
// is called
func (eb *EventBus) Mirror(d *events.Dispatcher) func() {
	return d.Subscribe(func(e events.Event) {
		if err := eb.PublishEvent(e); err != nil {
			eb.logger.Warn("Failed to mirror event", "topic", e.Topic(), "error", err)
		}
	})
}

// PublishEvent publishes e wrapped in an Envelope on its subject
func (eb *EventBus) PublishEvent(e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return eb.Publish(Subject(e.Topic()), Envelope{Topic: e.Topic(), Time: time.Now(), Data: payload})
}

// Publish publishes data as JSON on subject
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject. Wildcards follow NATS rules, so
// "mv.data.>" receives every data event.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	eb.subsMu.Lock()
	eb.subs = append(eb.subs, sub)
	eb.subsMu.Unlock()
	return sub, nil
}

// SubscribeEvents delivers decoded envelopes for topics starting with
// prefix ("" for all)
func (eb *EventBus) SubscribeEvents(prefix string, handler func(Envelope)) (*nats.Subscription, error) {
	subject := SubjectPrefix + ">"
	if prefix != "" {
		subject = Subject(strings.TrimSuffix(prefix, ".")) + ".>"
	}
	return eb.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			eb.logger.Error("Failed to unmarshal event", "subject", msg.Subject, "error", err)
			return
		}
		handler(env)
	})
}

// Stop drains the connection and shuts the server down
func (eb *EventBus) Stop() {
	eb.subsMu.Lock()
	for _, sub := range eb.subs {
		_ = sub.Unsubscribe()
	}
	eb.subs = nil
	eb.subsMu.Unlock()

	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.ports.Release(eb.port)

	eb.logger.Info("Event bus stopped")
}

// HealthCheck verifies the connection to the embedded server
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := eb.conn.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("NATS flush failed: %w", err)
	}
	return nil
}
