package scheduler

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/storage"
)

// scheduleNextOccurrence computes the next trigger_at for a recurring item
// in the user's local calendar and inserts it as a fresh pending item,
// skipping the insert if a similar pending item already exists (so a
// crash-recovery replay of the same fire can't double-schedule).
func (s *Scheduler) scheduleNextOccurrence(item *storage.ScheduledItem) {
	loc := time.UTC
	if s.resolveTZ != nil {
		if l, err := s.userLocation(item.UserID); err == nil {
			loc = l
		}
	}

	next := nextOccurrence(item.Recurring, time.Now().In(loc), loc)
	if next.IsZero() {
		return
	}

	dup, err := s.db.HasSimilarPendingScheduledItem(item.UserID, item.Message)
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("duplicate check for recurrence failed")
		return
	}
	if dup {
		return
	}

	fresh := &storage.ScheduledItem{
		UserID:         item.UserID,
		SessionID:      item.SessionID,
		Source:         item.Source,
		Kind:           item.Kind,
		Type:           item.Type,
		Message:        item.Message,
		Context:        item.Context,
		TriggerAt:      next,
		Recurring:      item.Recurring,
		SourceMemoryID: item.SourceMemoryID,
		Priority:       item.Priority,
		Labels:         item.Labels,
		GoalID:         item.GoalID,
	}
	if err := s.db.CreateScheduledItem(fresh); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("create recurrence instance failed")
	}
}

// nextOccurrence advances day-by-day in the user's local calendar from
// `from` until it finds a day matching the recurrence's cadence, then
// returns that local wall-clock time converted to UTC via the zone's
// offset on that future day (not today's offset, so DST transitions land
// correctly).
func nextOccurrence(r *storage.Recurrence, from time.Time, loc *time.Location) time.Time {
	if r == nil {
		return time.Time{}
	}

	candidate := time.Date(from.Year(), from.Month(), from.Day(), r.Hour, r.Minute, 0, 0, loc)
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	for i := 0; i < 14; i++ {
		if matchesCadence(r, candidate.Weekday()) {
			return candidate.UTC()
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func matchesCadence(r *storage.Recurrence, day time.Weekday) bool {
	switch r.Type {
	case storage.RecurDaily:
		return true
	case storage.RecurWeekdays:
		return day != time.Saturday && day != time.Sunday
	case storage.RecurWeekends:
		return day == time.Saturday || day == time.Sunday
	case storage.RecurWeekly:
		return r.DayOfWeek != nil && int(day) == *r.DayOfWeek
	default:
		return false
	}
}
