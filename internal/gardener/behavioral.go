package gardener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/storage"
)

// summarizeOldSessions finds sessions with no summary whose last message
// predates the threshold and produces one. Summarization failures are
// logged per session rather than aborting the whole batch.
func (g *Gardener) summarizeOldSessions(ctx context.Context) error {
	cutoff := time.Now().Add(-1 * time.Hour)
	sessions, err := g.db.UnsummarizedSessionsOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("find unsummarized sessions: %w", err)
	}
	for _, s := range sessions {
		if g.summarizer == nil {
			continue
		}
		if _, err := g.summarizer.Summarize(ctx, s.ID); err != nil {
			log.Warn().Err(err).Str("session", s.ID).Msg("session summarization failed")
			continue
		}
	}
	return nil
}

const techTermSampleSize = 30

var techTerms = []string{"api", "database", "server", "deploy", "bug", "test", "function", "code", "commit", "build"}

// runBehavioralInference incrementally merges each active user's new
// latest-version memories (those beyond lastAnalyzedCount) into their
// running behavioral-pattern aggregates, rather than recomputing the whole
// history every deep tick. It reads memories; session messages are not
// analyzed.
func (g *Gardener) runBehavioralInference(ctx context.Context) error {
	userIDs, err := g.db.AllBehavioralPatternUserIDs()
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}

	for _, userID := range userIDs {
		if err := g.inferOneUser(userID); err != nil {
			continue
		}
	}
	return nil
}

func (g *Gardener) inferOneUser(userID string) error {
	pattern, err := g.db.GetBehavioralPattern(userID)
	if err != nil {
		return fmt.Errorf("get behavioral pattern for %s: %w", userID, err)
	}

	memories, err := g.db.GetMemoriesByUser(userID, storage.MemoryFilter{LatestOnly: true})
	if err != nil {
		return fmt.Errorf("get memories for %s: %w", userID, err)
	}
	if len(memories) <= pattern.LastAnalyzedCount {
		return nil
	}

	// memories is newest first, so the unanalyzed ones are at the front.
	newMemories := memories[:len(memories)-pattern.LastAnalyzedCount]
	hourCounts := make(map[int]int)
	techTermCount := 0

	for _, m := range newMemories {
		hourCounts[m.CreatedAt.Hour()]++
		content := strings.ToLower(m.Content)
		for _, term := range techTerms {
			if strings.Contains(content, term) {
				techTermCount++
				break
			}
		}
	}

	activeHours := mergeActiveHours(pattern.ActiveHours, hourCounts)
	total := len(memories)
	techRatio := float64(techTermCount) / float64(len(newMemories))
	pattern.TopicSwitch = blendRunningAverage(pattern.TopicSwitch, techRatio, pattern.LastAnalyzedCount, len(newMemories))
	pattern.ActiveHours = activeHours
	pattern.LastAnalyzedCount = total

	return g.db.PutBehavioralPattern(pattern)
}

func mergeActiveHours(existing []int, counts map[int]int) []int {
	seen := make(map[int]bool, len(existing))
	for _, h := range existing {
		seen[h] = true
	}
	for h, c := range counts {
		if c > 0 {
			seen[h] = true
		}
	}
	out := make([]int, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}

// blendRunningAverage folds a new batch's average into a running aggregate
// weighted by sample count, so one deep tick's batch doesn't overwrite
// months of prior signal.
func blendRunningAverage(existingAvg, newAvg float64, existingCount, newCount int) float64 {
	if existingCount == 0 {
		return newAvg
	}
	total := existingCount + newCount
	return (existingAvg*float64(existingCount) + newAvg*float64(newCount)) / float64(total)
}
