package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/eventbus"
)

const engagementWindow = 12 * time.Hour

// CheckEngagement marks every agent-originated item that fired in the
// engagement window as acted, on the theory that any message the user
// sends at all is evidence the nudge landed. Called on every inbound user
// message, not just ones that reference the nudge directly.
func (s *Scheduler) CheckEngagement(userID string) error {
	items, err := s.db.RecentlyFiredAgentItems(userID, engagementWindow)
	if err != nil {
		return fmt.Errorf("fetch recently fired agent items: %w", err)
	}
	for _, item := range items {
		if err := s.db.MarkScheduledItemActed(item.ID); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("mark acted failed")
			continue
		}
		if s.bus != nil {
			s.bus.Publish(context.Background(), eventbus.SubjectEngagementDetected, item)
		}
	}
	return nil
}
