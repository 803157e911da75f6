package scheduler

import (
	"time"

	"github.com/memoryd/gateway/internal/storage"
)

// checkDependencies reports whether every item.DependsOn id is done or
// archived. If any dependency isn't, the item is reset to pending with
// board_status=waiting and pushed out by dependencyWaitRetry, rather than
// busy-polling every tick.
func (s *Scheduler) checkDependencies(item *storage.ScheduledItem) (bool, error) {
	if len(item.DependsOn) == 0 {
		return true, nil
	}

	for _, depID := range item.DependsOn {
		dep, err := s.db.GetScheduledItem(depID)
		if err != nil {
			// a missing dependency can't ever resolve; treat as satisfied
			// rather than waiting forever.
			continue
		}
		if dep.BoardStatus != storage.BoardDone && dep.BoardStatus != storage.BoardArchived {
			retryAt := time.Now().Add(dependencyWaitRetry)
			if err := s.db.ResetScheduledItemToPending(item.ID, retryAt, storage.BoardWaiting); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}
