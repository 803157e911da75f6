package proactive

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestScanStaleGoalsFlagsOldActiveItem(t *testing.T) {
	old := &storage.ScheduledItem{ID: "g1", GoalID: "goal1", Message: "finish the report", CreatedAt: time.Now().Add(-10 * 24 * time.Hour)}
	fresh := &storage.ScheduledItem{ID: "g2", GoalID: "goal2", Message: "new goal", CreatedAt: time.Now()}

	signals := scanStaleGoals([]*storage.ScheduledItem{old, fresh}, time.Now())
	require.Len(t, signals, 1)
	require.Equal(t, GapStaleGoal, signals[0].Type)
	require.Equal(t, "g1", signals[0].SourceID)
}

func TestScanUnresolvedThreadsFlagsDroppedTopic(t *testing.T) {
	summaries := []*storage.SessionSummary{
		{SessionID: "s2", Topics: []string{"database migration"}, CreatedAt: time.Now()},
		{SessionID: "s1", Topics: []string{"onboarding"}, CreatedAt: time.Now().Add(-time.Hour)},
	}
	signals := scanUnresolvedThreads(summaries)
	require.Len(t, signals, 1)
	require.Equal(t, GapUnresolvedThread, signals[0].Type)
}

func TestScanUnresolvedThreadsSkipsRecurringTopic(t *testing.T) {
	summaries := []*storage.SessionSummary{
		{SessionID: "s2", Topics: []string{"onboarding"}, CreatedAt: time.Now()},
		{SessionID: "s1", Topics: []string{"onboarding"}, CreatedAt: time.Now().Add(-time.Hour)},
	}
	signals := scanUnresolvedThreads(summaries)
	require.Empty(t, signals)
}

func TestScanBehavioralAnomalyRequiresMinSamples(t *testing.T) {
	pattern := &storage.BehavioralPattern{UserID: "u1", ActiveHours: []int{9, 10, 11}, LastAnalyzedCount: 5}
	signals := scanBehavioralAnomaly(pattern, time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	require.Empty(t, signals, "too few samples to trust the baseline")
}

func TestScanBehavioralAnomalyFlagsOffHourActivity(t *testing.T) {
	pattern := &storage.BehavioralPattern{UserID: "u1", ActiveHours: []int{9, 10, 11}, LastAnalyzedCount: 50}
	signals := scanBehavioralAnomaly(pattern, time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC))
	require.Len(t, signals, 1)
}

type scriptedLLM struct {
	response string
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: []llm.ContentBlock{{Type: llm.BlockText, Text: s.response}}}, nil
}
func (s *scriptedLLM) IsAvailable() bool { return true }
func (s *scriptedLLM) Name() string      { return "scripted" }

type recordingScheduler struct {
	calls []map[string]any
}

func (r *recordingScheduler) EnqueueNudge(userID, itemType, message string, triggerAt time.Time, context map[string]any) (*storage.ScheduledItem, error) {
	r.calls = append(r.calls, context)
	return &storage.ScheduledItem{ID: "new-item", UserID: userID, Message: message}, nil
}

func TestEvaluateEnqueuesNudgeWithContextMetadata(t *testing.T) {
	db := setupTestDB(t)
	goal := &storage.ScheduledItem{UserID: "u1", GoalID: "g1", Kind: storage.KindTask, Source: storage.SourceUser, Message: "write chapter 3", TriggerAt: time.Now()}
	require.NoError(t, db.CreateScheduledItem(goal))
	old := time.Now().Add(-10 * 24 * time.Hour)
	_, err := db.Conn().Exec(`UPDATE scheduled_items SET created_at=? WHERE id=?`, old.UnixMilli(), goal.ID)
	require.NoError(t, err)

	resp, _ := json.Marshal(triageResponse{Items: []triageItem{{Index: 0, Action: "nudge", Message: "how's chapter 3 going?", Urgency: "medium"}}})
	sched := &recordingScheduler{}
	ev := New(db, &scriptedLLM{response: string(resp)}, sched, nil)

	n, err := ev.Evaluate(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sched.calls, 1)
	require.Equal(t, "proactive_evaluator", sched.calls[0]["source"])
	require.Equal(t, string(GapStaleGoal), sched.calls[0]["gapType"])
}

func TestEvaluateSkipsWhenNoSignals(t *testing.T) {
	db := setupTestDB(t)
	sched := &recordingScheduler{}
	ev := New(db, &scriptedLLM{}, sched, nil)

	n, err := ev.Evaluate(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, sched.calls)
}
