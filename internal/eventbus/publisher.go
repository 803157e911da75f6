// Package eventbus publishes domain events (memory consolidation, fired
// scheduled items, detected gaps, quiet-hours deferrals, engagement) onto an
// internal bus so other in-process components (and, via NATS, out-of-process
// observers) can react without this module's core packages depending on
// each other directly.
package eventbus

import "context"

// Subjects used by the gateway's domain events.
const (
	SubjectMemoryConsolidated       = "memory.consolidated"
	SubjectScheduledItemFired       = "scheduled_item.fired"
	SubjectGapDetected              = "gap.detected"
	SubjectQuietHoursDeferred       = "scheduler.quiet_hours_deferred"
	SubjectEngagementDetected       = "engagement.detected"
)

// Publisher publishes a JSON-serializable payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}
