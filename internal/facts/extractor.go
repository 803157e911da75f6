// Package facts turns a user turn into memory writes (fact extraction) and
// turns a finished session into a one-time summary.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/memorystore"
	"github.com/memoryd/gateway/internal/relgraph"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	reinforceThreshold = 0.95
	conflictLowerBound = 0.85
)

// Extractor turns a conversational turn into memory writes, via one LLM
// call for fact identification and then per-fact dedup/conflict routing
// against the existing memory store.
type Extractor struct {
	llmProvider llm.Provider
	store       *memorystore.Store
	graph       *relgraph.Graph
	embedder    embedding.Provider
}

// New builds an Extractor. graph may be nil if contradiction linking isn't
// needed by the caller (tests, mainly); production wiring always supplies
// one.
func New(llmProvider llm.Provider, store *memorystore.Store, graph *relgraph.Graph, embedder embedding.Provider) *Extractor {
	return &Extractor{llmProvider: llmProvider, store: store, graph: graph, embedder: embedder}
}

// ExtractedFact is one fact candidate from the LLM's turn analysis.
type ExtractedFact struct {
	Content    string                 `json:"content"`
	Subject    string                 `json:"subject"`
	Category   string                 `json:"category"`
	Confidence float64                `json:"confidence"`
	Action     string                 `json:"action"`
}

type extractResponse struct {
	Facts             []ExtractedFact `json:"facts"`
	ProactiveTriggers []string        `json:"proactive_triggers"`
}

// Outcome records what happened to one extracted fact after routing.
type Outcome struct {
	Fact        ExtractedFact
	Action      string // "reinforce", "update", "insert"
	MemoryID    string
}

// ProcessTurn runs fact extraction over one user turn and routes every
// resulting fact to reinforce/update/insert against the existing memory
// store for userID.
func (e *Extractor) ProcessTurn(ctx context.Context, userID, turnText string) ([]Outcome, []string, error) {
	resp, err := e.llmProvider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: buildExtractPrompt(turnText)}}},
		},
		MaxTokens:      1024,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fact extraction call: %w", err)
	}

	var parsed extractResponse
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, nil, fmt.Errorf("parse fact extraction response: %w", err)
	}

	outcomes := make([]Outcome, 0, len(parsed.Facts))
	for _, f := range parsed.Facts {
		outcome, err := e.routeFact(ctx, userID, f)
		if err != nil {
			log.Warn().Err(err).Str("fact", f.Content).Msg("failed to route extracted fact")
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, parsed.ProactiveTriggers, nil
}

func buildExtractPrompt(turnText string) string {
	return fmt.Sprintf(
		"Extract durable facts from this message. Return JSON {\"facts\":[{\"content\",\"subject\",\"category\",\"confidence\",\"action\":\"fact\"}],\"proactive_triggers\":[...]}.\nMessage: %s",
		turnText)
}

// routeFact performs the hybrid search with a precomputed embedding (so it
// is never recomputed by search or add) and routes per these similarity
// bands: >=0.95 reinforce, [0.85,0.95) with a conflicting
// normalized value inserts + links UPDATES + bidirectional contradiction,
// otherwise a plain insert with relation detection deferred to the
// classifier's own schedule.
func (e *Extractor) routeFact(ctx context.Context, userID string, f ExtractedFact) (Outcome, error) {
	var vec []float32
	if e.embedder != nil {
		var err error
		vec, err = e.embedder.Embed(ctx, f.Content)
		if err != nil {
			log.Warn().Err(err).Msg("embed fact failed, proceeding without precomputed vector")
		}
	}

	category := storage.MemoryCategory(f.Category)
	if category == "" {
		category = storage.CategoryFact
	}

	results, err := e.store.Search(ctx, memorystore.SearchInput{
		UserID:         userID,
		Query:          f.Content,
		QueryEmbedding: vec,
		Limit:          1,
		Filter:         storage.MemoryFilter{Category: category},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("search for dedup: %w", err)
	}

	if len(results) > 0 {
		top := results[0]
		sim := similarityOf(vec, top.Memory.Embedding)

		if sim >= reinforceThreshold {
			m, err := e.store.Reinforce(top.Memory.ID)
			if err != nil {
				return Outcome{}, fmt.Errorf("reinforce: %w", err)
			}
			return Outcome{Fact: f, Action: "reinforce", MemoryID: m.ID}, nil
		}

		if sim >= conflictLowerBound && conflictsWith(f.Content, top.Memory.Content) {
			noDetect := false
			m, err := e.store.Add(ctx, memorystore.AddInput{
				UserID:          userID,
				Content:         f.Content,
				Category:        category,
				Confidence:      f.Confidence,
				Embedding:       vec,
				DetectRelations: &noDetect,
			})
			if err != nil {
				return Outcome{}, fmt.Errorf("insert conflicting fact: %w", err)
			}
			if e.graph != nil {
				if _, err := e.graph.AddRelation(m.ID, top.Memory.ID, storage.RelationUpdates, sim); err != nil {
					log.Warn().Err(err).Msg("failed to link UPDATES relation for conflicting fact")
				}
				if err := e.store.DB().AddContradiction(m.ID, top.Memory.ID); err != nil {
					log.Warn().Err(err).Msg("failed to record bidirectional contradiction")
				}
			}
			return Outcome{Fact: f, Action: "update", MemoryID: m.ID}, nil
		}
	}

	noDetect := false
	m, err := e.store.Add(ctx, memorystore.AddInput{
		UserID:          userID,
		Content:         f.Content,
		Category:        category,
		Confidence:      f.Confidence,
		Embedding:       vec,
		DetectRelations: &noDetect,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("insert fact: %w", err)
	}
	return Outcome{Fact: f, Action: "insert", MemoryID: m.ID}, nil
}

func similarityOf(a, b []float32) float64 {
	return embedding.CosineSimilarity(a, b)
}

// conflictsWith is a crude textual conflict heuristic: the two contents
// disagree when each carries a value after one of the keyword phrases
// ("lives in", "works at", "office is") and the normalized values differ.
// This mirrors the regex fallback's keyword patterns in internal/relgraph
// rather than duplicating an LLM call here; contents without such a phrase
// never conflict.
func conflictsWith(a, b string) bool {
	pattern := regexp.MustCompile(`(?i)(?:lives in|works at|office is)\s+(.+)`)
	leading := regexp.MustCompile(`(?i)^(the|a|an|at|in|on)\s+`)
	norm := func(s string) string {
		s = strings.TrimRight(strings.TrimSpace(s), ".!,")
		return strings.ToLower(leading.ReplaceAllString(s, ""))
	}
	ma, mb := pattern.FindStringSubmatch(a), pattern.FindStringSubmatch(b)
	if ma == nil || mb == nil {
		return false
	}
	return norm(ma[1]) != norm(mb[1])
}
