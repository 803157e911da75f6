package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/memoryd/gateway/internal/storage"
)

// SendMorningDigest collects every unnotified result for a user, renders a
// single sanitized-and-truncated summary message, delivers it, and marks
// each result notified. Intended to be cron-triggered once per user's
// local morning rather than run from the tick loop.
func (s *Scheduler) SendMorningDigest(ctx context.Context, userID string) error {
	results, err := s.db.UnnotifiedResults(userID)
	if err != nil {
		return fmt.Errorf("fetch unnotified results: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	message := buildDigestMessage(results)
	if s.sender != nil {
		if err := s.sender.Send(ctx, userID, message); err != nil {
			return fmt.Errorf("deliver digest: %w", err)
		}
	}

	for _, item := range results {
		if err := s.db.MarkResultNotified(item.ID); err != nil {
			return fmt.Errorf("mark result notified %s: %w", item.ID, err)
		}
	}
	return nil
}

func buildDigestMessage(items []*storage.ScheduledItem) string {
	var b strings.Builder
	b.WriteString("While you were away:\n")
	for _, item := range items {
		line := item.Message
		if item.Result != nil {
			line = item.Result.Response
		}
		b.WriteString("- ")
		b.WriteString(sanitizeForDelivery(line))
		b.WriteString("\n")
	}
	return b.String()
}
