// Package memorystore implements the memory substrate: add/reinforce with
// duplicate detection, decay, and hybrid keyword+semantic search with
// optional LLM reranking.
package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/storage"
)

const duplicateSimilarityThreshold = 0.95

// RelationDetector is the subset of the relation graph's behavior the store
// needs when adding a memory; kept as an interface so tests can substitute a
// no-op detector without wiring a full graph.
type RelationDetector interface {
	DetectAndLink(ctx context.Context, m *storage.Memory) error
}

// Store is the memory substrate: add/search/reinforce/decay over C1,
// backed by an embedding provider and an optional relation detector.
type Store struct {
	db        *storage.DB
	embedder  embedding.Provider
	relations RelationDetector
	reranker  Reranker

	weights SearchWeights
	decay   DecayConfig
}

// SearchWeights are the hybrid-search scoring coefficients.
type SearchWeights struct {
	Keyword  float64
	Semantic float64
	Prominence float64
}

// DefaultSearchWeights is mostly semantic, with a meaningful keyword
// contribution and prominence left as a tiebreaker.
var DefaultSearchWeights = SearchWeights{Keyword: 0.3, Semantic: 0.7, Prominence: 0.0}

// DecayConfig holds the per-category decay rate lambda used by
// ProcessDecay/ProcessFullDecay.
type DecayConfig struct {
	Lambda map[storage.MemoryCategory]float64
}

// DefaultDecayConfig decays preferences and facts slowly, events faster
// (they're time-bound by nature), and insights/relationships in between.
var DefaultDecayConfig = DecayConfig{
	Lambda: map[storage.MemoryCategory]float64{
		storage.CategoryPreference:  0.01,
		storage.CategoryFact:        0.015,
		storage.CategoryEvent:       0.05,
		storage.CategoryRelationship: 0.02,
		storage.CategoryInsight:     0.03,
	},
}

const defaultLambda = 0.02

func (c DecayConfig) lambdaFor(cat storage.MemoryCategory) float64 {
	if l, ok := c.Lambda[cat]; ok {
		return l
	}
	return defaultLambda
}

// New builds a Store. relations may be nil, in which case AddInput's
// DetectRelations is always treated as false.
func New(db *storage.DB, embedder embedding.Provider, relations RelationDetector, reranker Reranker) *Store {
	return &Store{
		db:        db,
		embedder:  embedder,
		relations: relations,
		reranker:  reranker,
		weights:   DefaultSearchWeights,
		decay:     DefaultDecayConfig,
	}
}

// AddInput is the argument to Add.
type AddInput struct {
	UserID          string
	Content         string
	Category        storage.MemoryCategory
	Importance      int
	Confidence      float64
	Source          string
	LearnedFrom     string
	Embedding       []float32 // precomputed; skips the embed call if set
	Metadata        map[string]any
	DetectRelations *bool // nil means "default: true iff a detector is configured"
}

// Add inserts a memory, computing its embedding if not supplied, and
// redirects to Reinforce when an existing latest memory of the same
// category is a near-duplicate (cosine similarity >= 0.95).
func (s *Store) Add(ctx context.Context, in AddInput) (*storage.Memory, error) {
	vec := in.Embedding
	if len(vec) == 0 && s.embedder != nil {
		var err error
		vec, err = s.embedder.Embed(ctx, in.Content)
		if err != nil {
			log.Warn().Err(err).Msg("embed on add failed, storing without embedding")
		}
	}

	if dup, err := s.findDuplicate(in.UserID, in.Category, vec); err != nil {
		return nil, err
	} else if dup != nil {
		return s.db.ReinforceMemory(dup.ID)
	}

	confidence := in.Confidence
	if confidence == 0 {
		confidence = 0.7
	}

	m := &storage.Memory{
		UserID:      in.UserID,
		Content:     in.Content,
		Category:    in.Category,
		MemoryType:  storage.MemoryTypeRegular,
		Importance:  in.Importance,
		Confidence:  confidence,
		Source:      in.Source,
		LearnedFrom: in.LearnedFrom,
		Embedding:   vec,
		Metadata:    in.Metadata,
	}
	if err := s.db.AddMemory(m); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	if err := bumpBM25Stats(s.db, in.Content); err != nil {
		log.Warn().Err(err).Msg("failed to update BM25 document-frequency stats")
	}

	wantsRelations := s.relations != nil
	if in.DetectRelations != nil {
		wantsRelations = wantsRelations && *in.DetectRelations
	}
	if wantsRelations {
		if err := s.relations.DetectAndLink(ctx, m); err != nil {
			log.Warn().Err(err).Str("memory_id", m.ID).Msg("relation detection failed")
		}
	}

	return m, nil
}

func (s *Store) findDuplicate(userID string, category storage.MemoryCategory, vec []float32) (*storage.Memory, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	candidates, err := s.db.GetMemoriesByUser(userID, storage.MemoryFilter{
		Category:   category,
		LatestOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch duplicate candidates: %w", err)
	}
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		if embedding.CosineSimilarity(vec, c.Embedding) >= duplicateSimilarityThreshold {
			return c, nil
		}
	}
	return nil, nil
}

// Reinforce delegates to the storage layer's reinforcement semantics.
func (s *Store) Reinforce(id string) (*storage.Memory, error) {
	return s.db.ReinforceMemory(id)
}

// DB exposes the underlying storage handle for callers (contradiction
// bookkeeping, session CRUD) that need storage operations this package
// doesn't wrap itself.
func (s *Store) DB() *storage.DB {
	return s.db
}

// Stats summarizes the memory substrate for operational dashboards.
type Stats struct {
	ActiveCount   int
	DormantCount  int
	TotalCount    int
	SessionSummaryCount int
}

const dormantProminenceThreshold = 0.2

// GetStats returns counts of active/dormant/total memories.
func (s *Store) GetStats(userID string) (*Stats, error) {
	all, err := s.db.GetMemoriesByUser(userID, storage.MemoryFilter{LatestOnly: true})
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	stats := &Stats{TotalCount: len(all)}
	for _, m := range all {
		if m.Prominence < dormantProminenceThreshold {
			stats.DormantCount++
		} else {
			stats.ActiveCount++
		}
	}
	return stats, nil
}

// ProcessDecay is the light-tick incremental decay pass: it only touches
// memories that have gone stale recently, keeping each tick cheap.
func (s *Store) ProcessDecay(staleSince time.Duration, limit int) (int, error) {
	stale, err := s.db.StaleSinceAccessed(time.Now().Add(-staleSince), limit)
	if err != nil {
		return 0, fmt.Errorf("fetch stale memories: %w", err)
	}
	return s.applyDecay(stale)
}

// ProcessFullDecay is the deep-tick full scan: every is_latest memory gets
// its current prominence multiplied by the decay factor for the days since
// it was last accessed (or created).
func (s *Store) ProcessFullDecay() (int, error) {
	all, err := s.db.AllLatestMemories()
	if err != nil {
		return 0, fmt.Errorf("fetch all latest memories: %w", err)
	}
	return s.applyDecay(all)
}

func (s *Store) applyDecay(memories []*storage.Memory) (int, error) {
	now := time.Now()
	n := 0
	for _, m := range memories {
		anchor := m.CreatedAt
		if m.LastAccessed != nil {
			anchor = *m.LastAccessed
		}
		deltaDays := now.Sub(anchor).Hours() / 24
		if deltaDays < 0 {
			deltaDays = 0
		}
		lambda := s.decay.lambdaFor(m.Category)
		newProminence := m.Prominence * decayFactor(lambda, deltaDays)

		patch := storage.MemoryPatch{
			Prominence:    &newProminence,
			SkipUpdatedAt: true,
		}
		if err := s.db.UpdateMemory(m.ID, patch); err != nil {
			return n, fmt.Errorf("decay memory %s: %w", m.ID, err)
		}
		n++
	}
	return n, nil
}
