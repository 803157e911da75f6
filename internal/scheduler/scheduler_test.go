package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memoryd/gateway/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, userID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, message)
	return nil
}

func fixedTZ(tz string) TimezoneResolver {
	return func(userID string) (string, error) { return tz, nil }
}

func TestRunTickDeliversDueItemAndMarksFired(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordingSender{}
	s := New(db, fixedTZ(""), sender, nil)

	item := &storage.ScheduledItem{
		UserID:    "u1",
		Source:    storage.SourceUser,
		Kind:      storage.KindNudge,
		Message:   "drink water",
		TriggerAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.CreateScheduledItem(item))

	s.runTick(context.Background())

	got, err := db.GetScheduledItem(item.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFired, got.Status)
	require.Equal(t, storage.BoardDone, got.BoardStatus)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "drink water", sender.sent[0])
}

func TestCheckDependenciesWaitsOnIncompleteDependency(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, fixedTZ(""), nil, nil)

	dep := &storage.ScheduledItem{UserID: "u1", Source: storage.SourceUser, Kind: storage.KindTask, Message: "dep", TriggerAt: time.Now()}
	require.NoError(t, db.CreateScheduledItem(dep))

	item := &storage.ScheduledItem{
		UserID: "u1", Source: storage.SourceAgent, Kind: storage.KindTask, Message: "waits",
		TriggerAt: time.Now(), DependsOn: []string{dep.ID},
	}
	require.NoError(t, db.CreateScheduledItem(item))

	ready, err := s.checkDependencies(item)
	require.NoError(t, err)
	require.False(t, ready)

	got, err := db.GetScheduledItem(item.ID)
	require.NoError(t, err)
	require.Equal(t, storage.BoardWaiting, got.BoardStatus)
}

func TestCheckDependenciesReadyWhenDependencyDone(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, fixedTZ(""), nil, nil)

	dep := &storage.ScheduledItem{UserID: "u1", Source: storage.SourceUser, Kind: storage.KindTask, Message: "dep", TriggerAt: time.Now()}
	require.NoError(t, db.CreateScheduledItem(dep))
	require.NoError(t, db.UpdateScheduledItemBoard(dep.ID, storage.BoardDone, nil))

	item := &storage.ScheduledItem{
		UserID: "u1", Source: storage.SourceAgent, Kind: storage.KindTask, Message: "ready",
		TriggerAt: time.Now(), DependsOn: []string{dep.ID},
	}
	require.NoError(t, db.CreateScheduledItem(item))

	ready, err := s.checkDependencies(item)
	require.NoError(t, err)
	require.True(t, ready)
}

func TestDeferIfQuietHoursResetsToLocalMorning(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, fixedTZ("UTC"), nil, nil)

	item := &storage.ScheduledItem{UserID: "u1", Source: storage.SourceAgent, Kind: storage.KindNudge, Message: "m", TriggerAt: time.Now()}
	require.NoError(t, db.CreateScheduledItem(item))

	hour := time.Now().UTC().Hour()
	deferred, err := s.deferIfQuietHours(item)
	require.NoError(t, err)
	require.Equal(t, inQuietHours(hour), deferred)
	if deferred {
		got, err := db.GetScheduledItem(item.ID)
		require.NoError(t, err)
		require.Equal(t, quietHoursEnd, got.TriggerAt.UTC().Hour())
	}
}

func TestNextOccurrenceDailyAdvancesOneDay(t *testing.T) {
	loc := time.UTC
	from := time.Date(2026, 7, 30, 9, 0, 0, 0, loc)
	r := &storage.Recurrence{Type: storage.RecurDaily, Hour: 8, Minute: 0}

	next := nextOccurrence(r, from, loc)
	require.Equal(t, 31, next.Day())
	require.Equal(t, 8, next.Hour())
}

func TestNextOccurrenceWeekdaysSkipsWeekend(t *testing.T) {
	loc := time.UTC
	// 2026-07-31 is a Friday.
	from := time.Date(2026, 7, 31, 9, 0, 0, 0, loc)
	r := &storage.Recurrence{Type: storage.RecurWeekdays, Hour: 8, Minute: 0}

	next := nextOccurrence(r, from, loc)
	require.Equal(t, time.Monday, next.Weekday())
}

func TestFormatItemUsesInnerThoughtVoiceForUnresolvedThread(t *testing.T) {
	item := &storage.ScheduledItem{
		Message: "you never finished that thought about the migration",
		Context: map[string]any{"source": "proactive_evaluator", "gapType": "unresolved_thread"},
	}
	got := formatItem(item)
	require.Contains(t, got, "thinking back")
}

func TestFormatItemPrefersResultOverContextClassification(t *testing.T) {
	item := &storage.ScheduledItem{
		Message: "original nudge",
		Context: map[string]any{"source": "proactive_evaluator", "gapType": "unresolved_thread"},
		Result:  &storage.ScheduledItemResult{Response: "the task finished successfully"},
	}
	got := formatItem(item)
	require.Equal(t, "the task finished successfully", got)
}

func TestSanitizeForDeliveryStripsMarkupAndTruncates(t *testing.T) {
	raw := "<tool_call>ignored</tool_call>Error: boom\nall good now " + stringsRepeat("x", 300)
	got := sanitizeForDelivery(raw)
	require.LessOrEqual(t, len(got), digestMessageMaxChars+3)
	require.NotContains(t, got, "tool_call")
	require.NotContains(t, got, "Error:")
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestCheckEngagementMarksRecentlyFiredActed(t *testing.T) {
	db := setupTestDB(t)
	s := New(db, fixedTZ(""), nil, nil)

	item := &storage.ScheduledItem{UserID: "u1", Source: storage.SourceAgent, Kind: storage.KindNudge, Message: "m", TriggerAt: time.Now().Add(-time.Minute)}
	require.NoError(t, db.CreateScheduledItem(item))
	claimed, err := db.ClaimDueScheduledItems(time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, db.MarkScheduledItemFired(item.ID))

	require.NoError(t, s.CheckEngagement("u1"))

	got, err := db.GetScheduledItem(item.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusActed, got.Status)
}

func TestSendMorningDigestDeliversAndMarksNotified(t *testing.T) {
	db := setupTestDB(t)
	sender := &recordingSender{}
	s := New(db, fixedTZ(""), sender, nil)

	item := &storage.ScheduledItem{
		UserID: "u1", Source: storage.SourceAgent, Kind: storage.KindTask, Message: "m", TriggerAt: time.Now(),
		Result: &storage.ScheduledItemResult{Response: "done thing"},
	}
	require.NoError(t, db.CreateScheduledItem(item))

	require.NoError(t, s.SendMorningDigest(context.Background(), "u1"))
	require.Len(t, sender.sent, 1)
	require.Contains(t, sender.sent[0], "done thing")

	again, err := db.UnnotifiedResults("u1")
	require.NoError(t, err)
	require.Empty(t, again)
}
