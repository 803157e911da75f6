package gardener

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryd/gateway/internal/memorystore"
	"github.com/memoryd/gateway/internal/relgraph"
	"github.com/memoryd/gateway/internal/storage"
)

func setupTestGardener(t *testing.T) (*Gardener, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := memorystore.New(db, nil, nil, nil)
	graph := relgraph.New(db, nil, nil)
	g := New(db, store, graph, nil, nil, nil, nil)
	return g, db
}

func TestArchiveLowUtilityMemoriesSkipsYoungRows(t *testing.T) {
	g, db := setupTestGardener(t)

	m := &storage.Memory{UserID: "u1", Content: "recent", Category: storage.CategoryFact, Confidence: 0.8}
	require.NoError(t, db.AddMemory(m))
	low := 0.01
	require.NoError(t, db.UpdateMemory(m.ID, storage.MemoryPatch{Prominence: &low, SkipUpdatedAt: true}))

	n, err := g.archiveLowUtilityMemories()
	require.NoError(t, err)
	require.Equal(t, 0, n, "a memory younger than minAgeDays must not be archived even at low utility")
}

func TestFindFusionClustersGroupsByRelation(t *testing.T) {
	g, db := setupTestGardener(t)

	a := &storage.Memory{UserID: "u1", Content: "A", Category: storage.CategoryFact, Confidence: 0.8}
	b := &storage.Memory{UserID: "u1", Content: "B", Category: storage.CategoryFact, Confidence: 0.8}
	require.NoError(t, db.AddMemory(a))
	require.NoError(t, db.AddMemory(b))
	mid := 0.3
	require.NoError(t, db.UpdateMemory(a.ID, storage.MemoryPatch{Prominence: &mid, SkipUpdatedAt: true}))
	require.NoError(t, db.UpdateMemory(b.ID, storage.MemoryPatch{Prominence: &mid, SkipUpdatedAt: true}))
	_, err := db.AddRelation(a.ID, b.ID, storage.RelationExtends, 0.6)
	require.NoError(t, err)

	candidates, err := g.fusionCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	clusters := g.findFusionClusters(candidates)
	require.Len(t, clusters, 1)
	require.Len(t, clusters[0], 2)
}

func TestDreamIsolatesNREMFromREMFailure(t *testing.T) {
	g, _ := setupTestGardener(t)
	result := g.dream(context.Background())
	require.NotNil(t, result.NREM, "NREM's own pass succeeds even with no candidates")
	require.Equal(t, 0, result.NREM.DerivedCreated)
	require.Nil(t, result.REM, "REM with no provider configured must fail and be swallowed, not panic")
}
