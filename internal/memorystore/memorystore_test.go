package memorystore

import (
	"context"
	"path/filepath"
	"testing"

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

type fixedEmbedder struct{ vec []float32 }

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return f.vec, nil }
func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f fixedEmbedder) Dimensions() int   { return len(f.vec) }
func (f fixedEmbedder) Name() string      { return "fixed" }
func (f fixedEmbedder) IsAvailable() bool { return true }

func TestAddRedirectsNearDuplicateToReinforce(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, fixedEmbedder{vec: []float32{1, 0, 0}}, nil, nil)

	first, err := store.Add(context.Background(), AddInput{UserID: "u1", Content: "Works at Acme", Category: storage.CategoryFact})
	require.NoError(t, err)

	second, err := store.Add(context.Background(), AddInput{UserID: "u1", Content: "Works at Acme Corp", Category: storage.CategoryFact})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.TimesConfirmed)
}

func TestProcessFullDecayDoesNotTouchUpdatedAt(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, nil, nil, nil)

	m := &storage.Memory{UserID: "u1", Content: "Likes coffee", Category: storage.CategoryPreference, Confidence: 0.8}
	require.NoError(t, db.AddMemory(m))
	before, err := db.GetMemory(m.ID)
	require.NoError(t, err)

	n, err := store.ProcessFullDecay()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	after, err := db.GetMemory(m.ID)
	require.NoError(t, err)
	require.True(t, after.Prominence <= before.Prominence)
	require.Equal(t, before.UpdatedAt.Unix(), after.UpdatedAt.Unix())
}

func TestSearchReturnsEmptyWhenNoMemories(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)

	results, err := store.Search(context.Background(), SearchInput{UserID: "u1", Query: "anything"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchBumpsAccessCount(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)

	m, err := store.Add(context.Background(), AddInput{UserID: "u1", Content: "The weather today is sunny", Category: storage.CategoryEvent})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), SearchInput{UserID: "u1", Query: "weather sunny", Limit: 5})
	require.NoError(t, err)

	got, err := db.GetMemory(m.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.AccessCount)
}

type fakeReranker struct{ order []int }

func (f fakeReranker) Rerank(ctx context.Context, query string, candidates []string) ([]RerankScore, error) {
	out := make([]RerankScore, len(f.order))
	for rank, idx := range f.order {
		out[rank] = RerankScore{Index: idx, Score: float64(len(f.order) - rank)}
	}
	return out, nil
}

func TestSearchAppliesRerankOrder(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, fixedEmbedder{vec: []float32{1, 0}}, nil, nil)

	a, err := store.Add(context.Background(), AddInput{UserID: "u1", Content: "alpha memory about cats", Category: storage.CategoryFact})
	require.NoError(t, err)
	b, err := store.Add(context.Background(), AddInput{UserID: "u1", Content: "beta memory about dogs", Category: storage.CategoryFact})
	require.NoError(t, err)

	results, err := store.Search(context.Background(), SearchInput{UserID: "u1", Query: "cats dogs", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var idxOfB, idxOfA int
	for i, r := range results {
		if r.Memory.ID == b.ID {
			idxOfB = i
		}
		if r.Memory.ID == a.ID {
			idxOfA = i
		}
	}

	store.reranker = fakeReranker{order: []int{idxOfB, idxOfA}}
	reranked, err := store.Search(context.Background(), SearchInput{UserID: "u1", Query: "cats dogs", Limit: 5})
	require.NoError(t, err)
	require.Equal(t, b.ID, reranked[0].Memory.ID)
}

func TestGetStatsSplitsActiveAndDormant(t *testing.T) {
	db := setupTestDB(t)
	store := New(db, nil, nil, nil)

	m := &storage.Memory{UserID: "u1", Content: "X", Category: storage.CategoryFact, Confidence: 0.8}
	require.NoError(t, db.AddMemory(m))
	low := 0.05
	require.NoError(t, db.UpdateMemory(m.ID, storage.MemoryPatch{Prominence: &low, SkipUpdatedAt: true}))

	stats, err := store.GetStats("u1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalCount)
	require.Equal(t, 1, stats.DormantCount)
	require.Equal(t, 0, stats.ActiveCount)
}
