package relgraph

import (
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

func TestGetLatestVersionFollowsUpdatesChain(t *testing.T) {
	db := setupTestDB(t)
	g := New(db, nil, nil)

	v1 := &storage.Memory{UserID: "u1", Content: "Lives in Dublin", Category: storage.CategoryFact, Confidence: 0.8}
	v2 := &storage.Memory{UserID: "u1", Content: "Lives in Cork", Category: storage.CategoryFact, Confidence: 0.8}
	v3 := &storage.Memory{UserID: "u1", Content: "Lives in Galway", Category: storage.CategoryFact, Confidence: 0.8}
	require.NoError(t, db.AddMemory(v1))
	require.NoError(t, db.AddMemory(v2))
	require.NoError(t, db.AddMemory(v3))

	_, err := g.AddRelation(v2.ID, v1.ID, storage.RelationUpdates, 0.9)
	require.NoError(t, err)
	_, err = g.AddRelation(v3.ID, v2.ID, storage.RelationUpdates, 0.9)
	require.NoError(t, err)

	latest, err := g.GetLatestVersion(v1.ID)
	require.NoError(t, err)
	require.Equal(t, v3.ID, latest)
}

func TestIsClassifierFailureSentinel(t *testing.T) {
	sentinel := []ClassifiedRelation{
		{Class: ClassNew, Confidence: 0.5, Reason: "classification failed"},
		{Class: ClassNew, Confidence: 0.5, Reason: "failed to parse"},
	}
	require.True(t, isClassifierFailureSentinel(sentinel))

	notSentinel := []ClassifiedRelation{
		{Class: ClassUpdates, Confidence: 0.9, Reason: "location changed"},
	}
	require.False(t, isClassifierFailureSentinel(notSentinel))
}

func TestRegexClassifyDetectsUpdateOnValueMismatch(t *testing.T) {
	old := storage.Memory{ID: "old", Content: "He lives in Dublin"}
	result := regexClassify("He lives in Cork now", old, 0.8)
	require.Equal(t, ClassUpdates, result.Class)
}

func TestRegexClassifyDetectsExtendOnSupersetLonger(t *testing.T) {
	old := storage.Memory{ID: "old", Content: "Works at Acme"}
	result := regexClassify("Works at Acme as a senior staff engineer leading the platform team", old, 0.6)
	require.Equal(t, ClassExtends, result.Class)
}

func TestSpreadActivationDecaysWithDistance(t *testing.T) {
	rels := map[string][]*storage.MemoryRelation{
		"a": {{SourceID: "a", TargetID: "b", RelationType: storage.RelationUpdates, Confidence: 0.9}},
		"b": {
			{SourceID: "a", TargetID: "b", RelationType: storage.RelationUpdates, Confidence: 0.9},
			{SourceID: "b", TargetID: "c", RelationType: storage.RelationUpdates, Confidence: 0.9},
		},
		"c": {{SourceID: "b", TargetID: "c", RelationType: storage.RelationUpdates, Confidence: 0.9}},
	}
	fetch := func(id string) ([]*storage.MemoryRelation, error) { return rels[id], nil }

	scores, err := SpreadActivation("a", fetch, DefaultActivationConfig)
	require.NoError(t, err)
	require.Contains(t, scores, "b")
	require.Contains(t, scores, "c")
	require.Greater(t, scores["b"], scores["c"])
}

func TestSpreadActivationDeterministicWithZeroSigma(t *testing.T) {
	rels := map[string][]*storage.MemoryRelation{
		"a": {{SourceID: "a", TargetID: "b", RelationType: storage.RelationExtends, Confidence: 0.8}},
		"b": {{SourceID: "a", TargetID: "b", RelationType: storage.RelationExtends, Confidence: 0.8}},
	}
	fetch := func(id string) ([]*storage.MemoryRelation, error) { return rels[id], nil }

	s1, err := SpreadActivation("a", fetch, DefaultActivationConfig)
	require.NoError(t, err)
	s2, err := SpreadActivation("a", fetch, DefaultActivationConfig)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestAddRelationIdempotentThroughGraph(t *testing.T) {
	db := setupTestDB(t)
	g := New(db, nil, nil)

	a := &storage.Memory{UserID: "u1", Content: "A", Category: storage.CategoryFact, Confidence: 0.8}
	b := &storage.Memory{UserID: "u1", Content: "B", Category: storage.CategoryFact, Confidence: 0.8}
	require.NoError(t, db.AddMemory(a))
	require.NoError(t, db.AddMemory(b))

	r1, err := g.AddRelation(a.ID, b.ID, storage.RelationExtends, 0.6)
	require.NoError(t, err)
	r2, err := g.AddRelation(a.ID, b.ID, storage.RelationExtends, 0.6)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)
}
