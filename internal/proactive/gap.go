// Package proactive implements the gap scanner and LLM triage that decide
// when the gateway should nudge a user without being asked — stale goals,
// behavioral anomalies, and threads the user never came back to.
package proactive

import (
	"fmt"
	"strings"
	"time"

	"github.com/memoryd/gateway/internal/storage"
)

// GapType classifies the kind of signal a heuristic detected.
type GapType string

const (
	GapStaleGoal         GapType = "stale_goal"
	GapBehavioralAnomaly GapType = "behavioral_anomaly"
	GapUnresolvedThread  GapType = "unresolved_thread"
)

// Severity is how urgently a gap should be surfaced.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// GapSignal is a pure heuristic's output, before LLM triage decides
// whether it's worth nudging about.
type GapSignal struct {
	Type        GapType
	Severity    Severity
	Description string
	Context     map[string]any
	SourceID    string
}

const (
	staleGoalThreshold    = 7 * 24 * time.Hour
	unresolvedThreadSince = 3 * 24 * time.Hour
	anomalyMinSamples     = 20
)

// scanStaleGoals flags active goal-carrying scheduled items whose
// created_at predates staleGoalThreshold without reaching a terminal
// board_status.
func scanStaleGoals(items []*storage.ScheduledItem, now time.Time) []GapSignal {
	var out []GapSignal
	for _, item := range items {
		age := now.Sub(item.CreatedAt)
		if age < staleGoalThreshold {
			continue
		}
		severity := SeverityMedium
		if age > 2*staleGoalThreshold {
			severity = SeverityHigh
		}
		out = append(out, GapSignal{
			Type:        GapStaleGoal,
			Severity:    severity,
			Description: fmt.Sprintf("goal %q has had no progress for %.0f days", item.Message, age.Hours()/24),
			Context:     map[string]any{"goalId": item.GoalID},
			SourceID:    item.ID,
		})
	}
	return out
}

// scanUnresolvedThreads flags each topic of the freshest session summary
// that does not appear in the summary just before it, treating that as a
// dropped thread. Older summaries are not compared with each other.
func scanUnresolvedThreads(summaries []*storage.SessionSummary) []GapSignal {
	if len(summaries) < 2 {
		return nil
	}

	var out []GapSignal

	// Each of the freshest summary's topics that does not recur in the
	// summary immediately before it represents a thread the user dropped.
	freshest := summaries[0]
	priorTopics := map[string]bool{}
	if len(summaries) > 1 {
		for _, t := range summaries[1].Topics {
			priorTopics[strings.ToLower(strings.TrimSpace(t))] = true
		}
	}
	for _, topic := range freshest.Topics {
		key := strings.ToLower(strings.TrimSpace(topic))
		if key == "" || priorTopics[key] {
			continue
		}
		out = append(out, GapSignal{
			Type:        GapUnresolvedThread,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("the conversation about %q was never followed up on", topic),
			Context:     map[string]any{"topic": topic, "sessionId": freshest.SessionID},
			SourceID:    freshest.SessionID,
		})
	}
	return out
}

// scanBehavioralAnomaly compares a user's currently active hour against
// their learned active-hours set, flagging unusually off-pattern activity
// only once enough history exists to trust the baseline.
func scanBehavioralAnomaly(pattern *storage.BehavioralPattern, now time.Time) []GapSignal {
	if pattern == nil || pattern.LastAnalyzedCount < anomalyMinSamples || len(pattern.ActiveHours) == 0 {
		return nil
	}
	hour := now.Hour()
	for _, h := range pattern.ActiveHours {
		if h == hour {
			return nil
		}
	}
	return []GapSignal{{
		Type:        GapBehavioralAnomaly,
		Severity:    SeverityLow,
		Description: fmt.Sprintf("activity at hour %d is outside the usual pattern", hour),
		Context:     map[string]any{"hour": hour},
		SourceID:    pattern.UserID,
	}}
}
