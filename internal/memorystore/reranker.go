package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/memoryd/gateway/internal/llm"
)

// Reranker reorders a candidate set for a query, returning scores indexed
// to the input slice. Candidates carry full memory content; LLMReranker
// truncates each one to maxRerankCandidateChars before its call.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]RerankScore, error)
}

// RerankScore is one candidate's index and relevance score.
type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

type rerankResult struct {
	Results []RerankScore `json:"results"`
}

// LLMReranker calls a configured llm.Provider with the query and candidate
// texts and expects back a JSON list of {index, score}.
type LLMReranker struct {
	provider llm.Provider
}

// NewLLMReranker wraps provider as a Reranker.
func NewLLMReranker(provider llm.Provider) *LLMReranker {
	return &LLMReranker{provider: provider}
}

const maxRerankCandidateChars = 500

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []string) ([]RerankScore, error) {
	truncated := make([]string, len(candidates))
	for i, c := range candidates {
		if len(c) > maxRerankCandidateChars {
			c = c[:maxRerankCandidateChars]
		}
		truncated[i] = c
	}

	prompt := buildRerankPrompt(query, truncated)
	resp, err := r.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: prompt}}},
		},
		MaxTokens:      1024,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("rerank call: %w", err)
	}

	var result rerankResult
	if err := json.Unmarshal([]byte(resp.Text()), &result); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	return result.Results, nil
}

func buildRerankPrompt(query string, candidates []string) string {
	b, _ := json.Marshal(candidates)
	return fmt.Sprintf(
		"Query: %s\nCandidates (JSON array, 0-indexed): %s\n"+
			"Return JSON {\"results\":[{\"index\":int,\"score\":float}]} ranking candidates by relevance to the query, most relevant first.",
		query, string(b))
}

// applyRerank reorders ids according to scores, falling back to the
// original order for any index the reranker didn't return a score for.
func applyRerank(ids []string, scores []RerankScore) []string {
	scoreByIndex := make(map[int]float64, len(scores))
	for _, s := range scores {
		scoreByIndex[s.Index] = s.Score
	}

	type scored struct {
		id    string
		score float64
		rank  int
	}
	items := make([]scored, len(ids))
	for i, id := range ids {
		sc, ok := scoreByIndex[i]
		if !ok {
			sc = -1 // unseen candidates sort after scored ones, preserving relative order
		}
		items[i] = scored{id: id, score: sc, rank: i}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].rank < items[j].rank
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}
