package memorystore

import (
	"context"
	"fmt"
	"sort"

	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/storage"
)

// defaultCandidateK is the top-K assembled per ranking signal before union.
const defaultCandidateK = 50

// SearchInput is the argument to Search.
type SearchInput struct {
	UserID         string
	Query          string
	QueryEmbedding []float32 // precomputed; skips the embed call if set
	Limit          int
	Filter         storage.MemoryFilter
}

// SearchResult pairs a memory with the hybrid score that ranked it.
type SearchResult struct {
	Memory *storage.Memory
	Score  float64
}

// Search runs hybrid BM25 + semantic + prominence ranking, optionally
// reordered by an LLM reranker, and bumps access counts on everything
// returned.
func (s *Store) Search(ctx context.Context, in SearchInput) ([]SearchResult, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	filter := in.Filter
	filter.LatestOnly = true
	pool, err := s.db.GetMemoriesByUser(in.UserID, filter)
	if err != nil {
		return nil, fmt.Errorf("search candidate pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, nil
	}

	queryVec := in.QueryEmbedding
	if len(queryVec) == 0 && s.embedder != nil && in.Query != "" {
		queryVec, err = s.embedder.Embed(ctx, in.Query)
		if err != nil {
			queryVec = nil
		}
	}

	queryTerms := uniqueTerms(bm25Tokenize(in.Query))
	docCount, totalLength, err := s.db.CorpusStats()
	if err != nil {
		return nil, fmt.Errorf("read corpus stats: %w", err)
	}

	type candidate struct {
		memory   *storage.Memory
		bm25     float64
		semantic float64
	}
	scored := make([]candidate, 0, len(pool))
	for _, m := range pool {
		bm25 := 0.0
		if len(queryTerms) > 0 {
			bm25 = bm25Score(queryTerms, bm25Tokenize(m.Content), docCount, totalLength, func(term string) int {
				n, _ := s.db.TermDocumentFrequency(term)
				return n
			})
		}
		semantic := 0.0
		if len(queryVec) > 0 && len(m.Embedding) > 0 {
			semantic = embedding.CosineSimilarity(queryVec, m.Embedding)
		}
		scored = append(scored, candidate{memory: m, bm25: bm25, semantic: semantic})
	}

	bm25Top := topNByKey(scored, defaultCandidateK, func(c candidate) float64 { return c.bm25 })
	semanticTop := topNByKey(scored, defaultCandidateK, func(c candidate) float64 { return c.semantic })

	union := make(map[string]bool)
	results := make([]SearchResult, 0, len(bm25Top)+len(semanticTop))
	for _, group := range [][]candidate{bm25Top, semanticTop} {
		for _, c := range group {
			if union[c.memory.ID] {
				continue
			}
			union[c.memory.ID] = true
			score := s.weights.Keyword*c.bm25 + s.weights.Semantic*c.semantic + s.weights.Prominence*c.memory.Prominence
			results = append(results, SearchResult{Memory: c.memory, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if s.reranker != nil && in.Query != "" && len(results) > 1 {
		results = s.rerank(ctx, in.Query, results)
	}

	if len(results) > limit {
		results = results[:limit]
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	if err := s.db.IncrementAccessCount(ids); err != nil {
		return nil, fmt.Errorf("bump access counts: %w", err)
	}

	return results, nil
}

func (s *Store) rerank(ctx context.Context, query string, results []SearchResult) []SearchResult {
	texts := make([]string, len(results))
	ids := make([]string, len(results))
	byID := make(map[string]SearchResult, len(results))
	for i, r := range results {
		texts[i] = r.Memory.Content
		ids[i] = r.Memory.ID
		byID[r.Memory.ID] = r
	}

	scores, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return results // reranker failure falls back to the hybrid-score order
	}

	reordered := applyRerank(ids, scores)
	out := make([]SearchResult, len(reordered))
	for i, id := range reordered {
		out[i] = byID[id]
	}
	return out
}

func topNByKey[T any](items []T, n int, key func(T) float64) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return key(sorted[i]) > key(sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
