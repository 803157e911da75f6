package eventbus

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	natsclient "github.com/memoryd/gateway/internal/eventbus/natsclient"
)

// NATSPublisher publishes domain events over a NATS connection. In the
// single-process deployment this module targets, the connection points at
// an embedded server started by StartEmbeddedServer rather than a standalone
// NATS cluster.
type NATSPublisher struct {
	client *natsclient.Client
}

// NewNATSPublisher connects clientID to url and wraps it as a Publisher.
func NewNATSPublisher(url, clientID string) (*NATSPublisher, error) {
	client, err := natsclient.NewClient(url, clientID)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{client: client}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	return p.client.PublishJSON(subject, payload)
}

func (p *NATSPublisher) Close() error {
	p.client.Close()
	return nil
}

// StartEmbeddedServer boots an in-process NATS server for the single-binary
// deployment this gateway targets, returning its client URL.
func StartEmbeddedServer(host string, port int) (*natsserver.Server, string, error) {
	opts := &natsserver.Options{
		Host: host,
		Port: port,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, "", fmt.Errorf("start embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, "", fmt.Errorf("embedded nats server did not become ready in time")
	}
	return srv, srv.ClientURL(), nil
}
