package proactive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/eventbus"
	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/storage"
)

// Enqueuer is the scheduler's public nudge-insertion surface; the
// evaluator is never allowed to touch scheduled_items directly.
type Enqueuer interface {
	EnqueueNudge(userID, itemType, message string, triggerAt time.Time, context map[string]any) (*storage.ScheduledItem, error)
}

// Evaluator runs the gap-scanner heuristics for one user and triages the
// results through a single LLM call before enqueuing nudges.
type Evaluator struct {
	db        *storage.DB
	llm       llm.Provider
	scheduler Enqueuer
	bus       eventbus.Publisher
}

func New(db *storage.DB, provider llm.Provider, scheduler Enqueuer, bus eventbus.Publisher) *Evaluator {
	return &Evaluator{db: db, llm: provider, scheduler: scheduler, bus: bus}
}

type triageItem struct {
	Index   int    `json:"index"`
	Action  string `json:"action"`
	Message string `json:"message"`
	Urgency string `json:"urgency"`
}

type triageResponse struct {
	Items []triageItem `json:"items"`
}

// Evaluate scans one user's goals/sessions/behavioral pattern for gaps,
// triages them in one LLM call, and enqueues the ones the LLM decided
// merit a nudge.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) (int, error) {
	signals, err := e.collectSignals(userID)
	if err != nil {
		return 0, fmt.Errorf("collect gap signals: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}

	if e.bus != nil {
		for _, s := range signals {
			e.bus.Publish(ctx, eventbus.SubjectGapDetected, s)
		}
	}

	if e.llm == nil {
		return 0, nil
	}

	decisions, err := e.triage(ctx, signals)
	if err != nil {
		return 0, fmt.Errorf("triage gap signals: %w", err)
	}

	enqueued := 0
	for _, d := range decisions {
		if d.Action != "nudge" {
			continue
		}
		if d.Index < 0 || d.Index >= len(signals) {
			continue
		}
		signal := signals[d.Index]
		itemContext := map[string]any{}
		for k, v := range signal.Context {
			itemContext[k] = v
		}
		itemContext["source"] = "proactive_evaluator"
		itemContext["gapType"] = string(signal.Type)
		itemContext["urgency"] = d.Urgency

		if _, err := e.scheduler.EnqueueNudge(userID, "gap_nudge", d.Message, time.Now(), itemContext); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("enqueue nudge failed")
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

func (e *Evaluator) collectSignals(userID string) ([]GapSignal, error) {
	var signals []GapSignal
	now := time.Now()

	goalItems, err := e.db.ActiveGoalItems(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch active goal items: %w", err)
	}
	signals = append(signals, scanStaleGoals(goalItems, now)...)

	summaries, err := e.db.RecentSessionSummaries(userID, now.Add(-unresolvedThreadSince))
	if err != nil {
		return nil, fmt.Errorf("fetch recent session summaries: %w", err)
	}
	signals = append(signals, scanUnresolvedThreads(summaries)...)

	pattern, err := e.db.GetBehavioralPattern(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch behavioral pattern: %w", err)
	}
	signals = append(signals, scanBehavioralAnomaly(pattern, now)...)

	return signals, nil
}

func (e *Evaluator) triage(ctx context.Context, signals []GapSignal) ([]triageItem, error) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: triageSystemPrompt}}},
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: buildTriagePrompt(signals)}}},
		},
		MaxTokens:      800,
		ResponseFormat: "json",
	}
	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("triage completion: %w", err)
	}

	var parsed triageResponse
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, fmt.Errorf("parse triage response: %w", err)
	}
	return parsed.Items, nil
}

const triageSystemPrompt = `You review candidate reasons to proactively message a user. For each
numbered signal, decide whether it merits a brief, warm nudge now or
should be left alone. Respond as JSON: {"items": [{"index": int,
"action": "nudge"|"skip", "message": string, "urgency": "low"|"medium"|"high"}]}.
Lean toward skipping when in doubt — under-nudging is the safer failure.`

func buildTriagePrompt(signals []GapSignal) string {
	prompt := "Signals:\n"
	for i, s := range signals {
		prompt += fmt.Sprintf("%d. [%s/%s] %s\n", i, s.Type, s.Severity, s.Description)
	}
	return prompt
}
