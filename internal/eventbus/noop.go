package eventbus

import "context"

// NoopPublisher discards every event; used in tests and any deployment that
// doesn't want the embedded NATS server running.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, subject string, payload any) error { return nil }
func (NoopPublisher) Close() error                                                   { return nil }
