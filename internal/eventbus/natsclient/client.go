// Package nats is a thin wrapper over a NATS connection, giving the
// gateway's event bus reconnect handling and a JSON publish helper without
// spreading raw nats.go calls through internal/eventbus.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Client wraps a NATS connection with the publish surface gatewayd actually
// uses. The gateway only ever fans events out (scheduler ticks, gardener
// archival, proactive nudges); nothing in this module consumes a NATS
// subscription, so no subscribe/request surface is exposed here.
type Client struct {
	conn *nc.Conn
}

// NewClient creates a new NATS client with reconnect handling. clientID
// identifies this process on the bus (e.g. "gatewayd", "gatewayd-test").
func NewClient(url string, clientID string) (*Client, error) {
	opts := []nc.Option{
		nc.Name(clientID),
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Str("client_id", clientID).Msg("nats disconnected")
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Info().Str("client_id", clientID).Str("url", conn.ConnectedUrl()).Msg("nats reconnected")
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			log.Info().Str("client_id", clientID).Msg("nats connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Publish publishes data to a subject
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishJSON publishes a JSON-encoded message to a subject
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Publish(subject, data)
}
