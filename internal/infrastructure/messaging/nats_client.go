package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mempool-risk-engine/internal/infrastructure/config"
	"mempool-risk-engine/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when publishing before Connect or after Close
var ErrNotConnected = errors.New("nats not connected")

// NATSClient owns the engine's single NATS connection
type NATSClient struct {
	conn   *nats.Conn
	config *config.NATSConfig
	logger *logger.Logger
}

// NewNATSClient creates a client; Connect must be called before use
func NewNATSClient(cfg *config.NATSConfig, log *logger.Logger) *NATSClient {
	return &NATSClient{
		config: cfg,
		logger: log.WithComponent("nats-client"),
	}
}

// Connect dials the NATS server. It is a no-op when NATS is disabled.
func (n *NATSClient) Connect(ctx context.Context) error {
	if !n.config.Enabled {
		n.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	n.logger.Info("Connecting to NATS server", zap.String("url", n.config.URL))

	opts := []nats.Option{
		nats.Name("mempool-risk-engine"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectDelay),
		nats.MaxReconnects(n.config.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		n.logger.Error("Failed to connect to NATS", zap.Error(err))
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn

	n.logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return nil
}

// Enabled reports whether NATS is configured on
func (n *NATSClient) Enabled() bool {
	return n.config.Enabled
}

// Subject prefixes name with the configured subject prefix
func (n *NATSClient) Subject(name string) string {
	prefix := strings.TrimSuffix(n.config.SubjectPrefix, ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// PublishJSON marshals v and publishes it on subject
func (n *NATSClient) PublishJSON(subject string, v interface{}) error {
	if n.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// QueueSubscribe joins the configured consumer group on subject
func (n *NATSClient) QueueSubscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if n.conn == nil {
		return nil, ErrNotConnected
	}
	sub, err := n.conn.QueueSubscribe(subject, n.config.ConsumerGroup, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if n.config.MaxPendingMessages > 0 {
		// Bytes limit left at the library default
		if err := sub.SetPendingLimits(n.config.MaxPendingMessages, nats.DefaultSubPendingBytesLimit); err != nil {
			n.logger.Warn("Failed to set pending limits", zap.String("subject", subject), zap.Error(err))
		}
	}
	return sub, nil
}

// IsConnected checks if connected to NATS
func (n *NATSClient) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

// Close drains and closes the connection
func (n *NATSClient) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	if err != nil {
		n.conn.Close()
	}
	n.conn = nil
	n.logger.Info("Disconnected from NATS")
	return err
}
