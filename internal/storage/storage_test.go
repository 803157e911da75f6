package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddAndGetMemory(t *testing.T) {
	db := setupTestDB(t)

	m := &Memory{
		UserID:     "u1",
		Content:    "Works at Microsoft",
		Category:   CategoryFact,
		Importance: 5,
		Confidence: 0.8,
	}
	require.NoError(t, db.AddMemory(m))
	require.NotEmpty(t, m.ID)

	got, err := db.GetMemory(m.ID)
	require.NoError(t, err)
	require.Equal(t, "Works at Microsoft", got.Content)
	require.True(t, got.IsLatest)
	require.Equal(t, 1, got.TimesConfirmed)
	require.Equal(t, 1.0, got.Prominence)
}

func TestReinforceMemoryMonotonicity(t *testing.T) {
	db := setupTestDB(t)

	m := &Memory{UserID: "u1", Content: "Works at Microsoft", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	require.NoError(t, db.AddMemory(m))

	got, err := db.ReinforceMemory(m.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.TimesConfirmed)
	require.InDelta(t, 0.85, got.Confidence, 0.0001)
	require.Equal(t, 1.0, got.Prominence)
}

func TestAddContradictionIsBidirectional(t *testing.T) {
	db := setupTestDB(t)

	a := &Memory{UserID: "u1", Content: "Lives in Dublin", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	b := &Memory{UserID: "u1", Content: "Lives in Cork", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	require.NoError(t, db.AddMemory(a))
	require.NoError(t, db.AddMemory(b))

	require.NoError(t, db.AddContradiction(a.ID, b.ID))

	gotA, err := db.GetMemory(a.ID)
	require.NoError(t, err)
	gotB, err := db.GetMemory(b.ID)
	require.NoError(t, err)

	require.Contains(t, gotA.ContradictionIDs, b.ID)
	require.Contains(t, gotB.ContradictionIDs, a.ID)
}

func TestAddRelationIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	a := &Memory{UserID: "u1", Content: "A", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	b := &Memory{UserID: "u1", Content: "B", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	require.NoError(t, db.AddMemory(a))
	require.NoError(t, db.AddMemory(b))

	rel1, err := db.AddRelation(a.ID, b.ID, RelationUpdates, 0.9)
	require.NoError(t, err)
	rel2, err := db.AddRelation(a.ID, b.ID, RelationUpdates, 0.9)
	require.NoError(t, err)
	require.Equal(t, rel1.ID, rel2.ID)

	rels, err := db.AllRelations()
	require.NoError(t, err)
	require.Len(t, rels, 1)
}

func TestAddRelationRejectsSelfLoop(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.AddRelation("x", "x", RelationUpdates, 0.9)
	require.Error(t, err)
}

func TestClaimDueScheduledItemsAtomicity(t *testing.T) {
	db := setupTestDB(t)

	item := &ScheduledItem{
		UserID:    "u1",
		Source:    SourceUser,
		Kind:      KindNudge,
		Message:   "reminder",
		TriggerAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.CreateScheduledItem(item))

	claimed, err := db.ClaimDueScheduledItems(time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, StatusProcessing, claimed[0].Status)

	again, err := db.ClaimDueScheduledItems(time.Now())
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestConsolidateDuplicateScheduledItemsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		item := &ScheduledItem{
			UserID:    "u1",
			Source:    SourceUser,
			Kind:      KindNudge,
			Message:   "Take your pills",
			TriggerAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.CreateScheduledItem(item))
	}

	removed, err := db.ConsolidateDuplicateScheduledItems()
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removedAgain, err := db.ConsolidateDuplicateScheduledItems()
	require.NoError(t, err)
	require.Equal(t, 0, removedAgain)
}

func TestPruneOrphanedRelations(t *testing.T) {
	db := setupTestDB(t)

	a := &Memory{UserID: "u1", Content: "A", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	b := &Memory{UserID: "u1", Content: "B", Category: CategoryFact, Importance: 5, Confidence: 0.8}
	require.NoError(t, db.AddMemory(a))
	require.NoError(t, db.AddMemory(b))
	_, err := db.AddRelation(a.ID, b.ID, RelationExtends, 0.6)
	require.NoError(t, err)

	_, err = db.conn.Exec(`DELETE FROM memories WHERE id=?`, b.ID)
	require.NoError(t, err)

	n, err := db.PruneOrphanedRelations()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
