// Package scheduler runs the unified durable work queue: reminders and
// agent-originated nudges, with quiet-hours deferral in user-local time,
// dependency waits, at-most-once claim semantics, recurrence, engagement
// feedback, and the morning digest.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/eventbus"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	defaultTickInterval     = 30 * time.Second
	defaultMaxItemAge       = 24 * time.Hour
	consolidateEveryNTicks  = 20
	dependencyWaitRetry     = 1 * time.Hour
)

// TimezoneResolver resolves a user's IANA timezone name, used for
// per-item quiet-hours and recurrence calculation.
type TimezoneResolver func(userID string) (string, error)

// ChannelSender delivers a rendered message to a user through whichever
// outer channel owns their user_id prefix (telegram:, api:, ...).
type ChannelSender interface {
	Send(ctx context.Context, userID, renderedMessage string) error
}

// Scheduler runs the claim/quiet-hours/dependency/deliver/recur tick loop.
type Scheduler struct {
	db          *storage.DB
	resolveTZ   TimezoneResolver
	sender      ChannelSender
	bus         eventbus.Publisher

	interval    time.Duration
	maxItemAge  time.Duration

	mu          sync.Mutex
	ticking     bool
	pending     bool
	tickCount   int
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New builds a Scheduler with the default interval/maxItemAge
// (defaultTickInterval, defaultMaxItemAge); neither can be overridden.
func New(db *storage.DB, resolveTZ TimezoneResolver, sender ChannelSender, bus eventbus.Publisher) *Scheduler {
	return &Scheduler{
		db:         db,
		resolveTZ:  resolveTZ,
		sender:     sender,
		bus:        bus,
		interval:   defaultTickInterval,
		maxItemAge: defaultMaxItemAge,
		stopCh:     make(chan struct{}),
	}
}

// Start runs consolidateDuplicateScheduledItems once for crash recovery,
// then launches the tick loop.
func (s *Scheduler) Start() error {
	if _, err := s.db.ConsolidateDuplicateScheduledItems(); err != nil {
		log.Error().Err(err).Msg("startup consolidation failed")
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the tick loop, waiting for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.arrive()
		}
	}
}

// arrive implements the non-reentrant overlap guard: a second arrival while
// a tick is in flight just sets the pending flag, and runTick reruns itself
// once more after completing if that flag got set meanwhile, rather than
// stacking goroutines.
func (s *Scheduler) arrive() {
	s.mu.Lock()
	if s.ticking {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.ticking = true
	s.mu.Unlock()

	go s.runTickAndReschedule()
}

func (s *Scheduler) runTickAndReschedule() {
	for {
		s.runTick(context.Background())

		s.mu.Lock()
		if !s.pending {
			s.ticking = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	now := time.Now()

	if n, err := s.db.ExpireOldScheduledItems(s.maxItemAge); err != nil {
		log.Error().Err(err).Msg("expire old scheduled items failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("expired stale scheduled items")
	}

	s.tickCount++
	if s.tickCount%consolidateEveryNTicks == 0 {
		if n, err := s.db.ConsolidateDuplicateScheduledItems(); err != nil {
			log.Error().Err(err).Msg("periodic consolidation failed")
		} else if n > 0 {
			log.Info().Int("count", n).Msg("consolidated duplicate scheduled items")
		}
	}

	claimed, err := s.db.ClaimDueScheduledItems(now)
	if err != nil {
		log.Error().Err(err).Msg("claim due scheduled items failed")
		return
	}
	if len(claimed) == 0 {
		return
	}

	sortByTriggerAtThenKind(claimed)

	for _, item := range claimed {
		s.processClaimedItem(ctx, item)
	}
}

// sortByTriggerAtThenKind preserves trigger_at ascending order within the
// tick while processing nudges ahead of tasks, per the ordering guarantee
// in the concurrency model.
func sortByTriggerAtThenKind(items []*storage.ScheduledItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && lessItem(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func lessItem(a, b *storage.ScheduledItem) bool {
	if a.Kind != b.Kind {
		return a.Kind == storage.KindNudge
	}
	return a.TriggerAt.Before(b.TriggerAt)
}

// EnqueueNudge inserts an agent-sourced nudge item, the only path by which
// the proactive evaluator (or any other internal producer) is allowed to
// add rows to the durable work queue — never direct table access.
func (s *Scheduler) EnqueueNudge(userID, itemType, message string, triggerAt time.Time, context map[string]any) (*storage.ScheduledItem, error) {
	item := &storage.ScheduledItem{
		UserID:    userID,
		Source:    storage.SourceAgent,
		Kind:      storage.KindNudge,
		Type:      itemType,
		Message:   message,
		Context:   context,
		TriggerAt: triggerAt,
		Status:    storage.StatusPending,
	}
	if err := s.db.CreateScheduledItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Scheduler) processClaimedItem(ctx context.Context, item *storage.ScheduledItem) {
	if item.Source == storage.SourceAgent {
		if deferred, err := s.deferIfQuietHours(item); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("quiet hours check failed")
		} else if deferred {
			return
		}
	}

	ready, err := s.checkDependencies(item)
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("dependency check failed")
		return
	}
	if !ready {
		return
	}

	if s.sender != nil {
		message := formatItem(item)
		if err := s.sender.Send(ctx, item.UserID, message); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("delivery failed")
			// User-sourced reminders get retried at the next tick until
			// they expire. Agent-sourced nudges are silently dropped: the
			// system leans toward under-nudging on failure, and the item
			// is swept away later by expireOldScheduledItems.
			if item.Source == storage.SourceUser {
				if resetErr := s.db.ResetScheduledItemToPending(item.ID, item.TriggerAt, item.BoardStatus); resetErr != nil {
					log.Error().Err(resetErr).Str("item_id", item.ID).Msg("reset after failed delivery failed")
				}
			}
			return
		}
	}

	if err := s.db.MarkScheduledItemFired(item.ID); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("mark fired failed")
		return
	}
	if s.bus != nil {
		s.bus.Publish(ctx, eventbus.SubjectScheduledItemFired, item)
	}

	if item.Recurring != nil {
		s.scheduleNextOccurrence(item)
	}
}
