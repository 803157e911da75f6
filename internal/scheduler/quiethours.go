package scheduler

import (
	"context"
	"time"

	"github.com/memoryd/gateway/internal/eventbus"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	quietHoursStart = 22 // 22:00 local
	quietHoursEnd   = 8  // 08:00 local
)

// deferIfQuietHours checks whether now, converted to the item's owner's
// local timezone, falls inside quiet hours, and if so resets the item to
// pending at the next quiet-hours-end in that same timezone. Each item's
// timezone is resolved independently — a batch of claimed items must never
// reuse the first item's location for the rest.
func (s *Scheduler) deferIfQuietHours(item *storage.ScheduledItem) (bool, error) {
	if s.resolveTZ == nil {
		return false, nil
	}
	loc, err := s.userLocation(item.UserID)
	if err != nil {
		return false, err
	}

	local := time.Now().In(loc)
	hour := local.Hour()
	if !inQuietHours(hour) {
		return false, nil
	}

	next := nextQuietHoursEnd(local, loc)
	if err := s.db.ResetScheduledItemToPending(item.ID, next, storage.BoardScheduled); err != nil {
		return false, err
	}
	if s.bus != nil {
		s.bus.Publish(context.Background(), eventbus.SubjectQuietHoursDeferred, item)
	}
	return true, nil
}

func inQuietHours(hour int) bool {
	return hour >= quietHoursStart || hour < quietHoursEnd
}

// nextQuietHoursEnd returns the next quietHoursEnd:00 in loc strictly after
// local, advancing a day if local is already past that time today.
func nextQuietHoursEnd(local time.Time, loc *time.Location) time.Time {
	end := time.Date(local.Year(), local.Month(), local.Day(), quietHoursEnd, 0, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func (s *Scheduler) userLocation(userID string) (*time.Location, error) {
	name, err := s.resolveTZ(userID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, nil
	}
	return loc, nil
}
