package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"autopay-backend/internal/config"
	"autopay-backend/internal/metrics"

	"github.com/nats-io/nats.go"
)

// NATSClient publishes payment lifecycle events
type NATSClient struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	streamName    string
	subjectPrefix string
}

// NewNATSClient connects to NATS and, when enabled, ensures the JetStream stream exists
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects != 0 {
		maxReconnects = cfg.MaxReconnects
	}
	log.Printf("🔌 Connecting to NATS %s (timeout %v)", cfg.URL, connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("autopay-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ [NATS] Disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ [NATS] Reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	client := &NATSClient{
		conn:          conn,
		streamName:    cfg.Stream,
		subjectPrefix: cfg.SubjectPrefix,
	}
	if client.subjectPrefix == "" {
		client.subjectPrefix = "autopay"
	}

	if cfg.EnableJetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js
		if err := client.ensureStream(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	log.Printf("✅ NATS publisher ready (jetstream=%v, prefix=%s)", client.js != nil, client.subjectPrefix)
	return client, nil
}

// ensureStream creates the payment event stream when it does not exist
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		log.Printf("Stream %s already exists", c.streamName)
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{c.subjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.streamName, err)
	}
	log.Printf("✅ Stream %s created", c.streamName)
	return nil
}

// Subject builds "<prefix>.<parts...>"
func (c *NATSClient) Subject(parts ...string) string {
	subject := c.subjectPrefix
	for _, p := range parts {
		subject += "." + p
	}
	return subject
}

// Publish marshals payload and publishes it, through JetStream when enabled
func (c *NATSClient) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if c.js != nil {
		if _, err := c.js.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
		metrics.NATSConnectionStatus.Set(0)
	}
}

// IsConnected reports the connection state
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
