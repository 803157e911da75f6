package relgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	extendThreshold = 0.5
	updateThreshold = 0.7
	earlyExitConfidence = 0.85
	maxCandidates  = 30
	maxRelationsPerMemory = 5
)

// Classification is one candidate's outcome from either the LLM classifier
// or the regex fallback.
type Classification string

const (
	ClassUpdates Classification = "UPDATES"
	ClassExtends Classification = "EXTENDS"
	ClassDerives Classification = "DERIVES"
	ClassNew     Classification = "NEW"
)

// ClassifiedRelation is one judged candidate.
type ClassifiedRelation struct {
	TargetID   string
	Class      Classification
	Confidence float64
	Reason     string
}

// Classifier is an LLM-backed batch relation classifier.
type Classifier interface {
	Classify(ctx context.Context, newContent string, candidates []storage.Memory) ([]ClassifiedRelation, error)
}

// LLMClassifier sends all candidates to a language model in one call and
// parses back a list of classifications.
type LLMClassifier struct {
	provider llm.Provider
}

// NewLLMClassifier wraps provider as a Classifier.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

type classifyResponseItem struct {
	Classification string  `json:"classification"`
	TargetID       string  `json:"targetId"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason"`
}

func (c *LLMClassifier) Classify(ctx context.Context, newContent string, candidates []storage.Memory) ([]ClassifiedRelation, error) {
	prompt := buildClassifyPrompt(newContent, candidates)
	resp, err := c.provider.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: prompt}}},
		},
		MaxTokens:      1024,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("classify call: %w", err)
	}

	var items []classifyResponseItem
	if err := json.Unmarshal([]byte(resp.Text()), &items); err != nil {
		return nil, fmt.Errorf("parse classify response: %w", err)
	}

	out := make([]ClassifiedRelation, len(items))
	for i, it := range items {
		out[i] = ClassifiedRelation{
			TargetID:   it.TargetID,
			Class:      Classification(it.Classification),
			Confidence: it.Confidence,
			Reason:     it.Reason,
		}
	}
	return out, nil
}

func buildClassifyPrompt(newContent string, candidates []storage.Memory) string {
	var b strings.Builder
	b.WriteString("New memory: ")
	b.WriteString(newContent)
	b.WriteString("\nCandidates:\n")
	for _, c := range candidates {
		b.WriteString(fmt.Sprintf("- id=%s: %s\n", c.ID, c.Content))
	}
	b.WriteString(`Classify each candidate's relation to the new memory as one of UPDATES, EXTENDS, DERIVES, NEW. ` +
		`Return JSON array of {"classification","targetId","confidence","reason"}.`)
	return b.String()
}

// isClassifierFailureSentinel recognizes the documented failure sentinel:
// every candidate comes back NEW at confidence 0.5 with a reason mentioning
// failure, which some providers emit instead of a hard error when the
// prompt confuses them.
func isClassifierFailureSentinel(results []ClassifiedRelation) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Class != ClassNew || r.Confidence != 0.5 || !strings.Contains(strings.ToLower(r.Reason), "failed") {
			return false
		}
	}
	return true
}

var keywordPatterns = []struct {
	pattern *regexp.Regexp
}{
	{regexp.MustCompile(`(?i)lives in\s+(.+)`)},
	{regexp.MustCompile(`(?i)works at\s+(.+)`)},
	{regexp.MustCompile(`(?i)office is\s+(.+)`)},
}

var prepositionStripper = regexp.MustCompile(`(?i)^(the|a|an|at|in|on)\s+`)

func normalizeKeywordValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!,")
	return strings.ToLower(prepositionStripper.ReplaceAllString(s, ""))
}

func extractKeywordValue(text string) (string, bool) {
	for _, kp := range keywordPatterns {
		if m := kp.pattern.FindStringSubmatch(text); len(m) == 2 {
			return normalizeKeywordValue(m[1]), true
		}
	}
	return "", false
}

func keywordSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = true
	}
	return out
}

// regexClassify classifies one candidate against newContent using the
// keyword-pattern fallback: a mismatch between the values found after a
// keyword phrase in each text (the phrases need not be the same) means the
// fact changed (UPDATES); containing at least half of the candidate's
// keywords with at least 20% longer text means elaboration (EXTENDS).
func regexClassify(newContent string, candidate storage.Memory, similarity float64) ClassifiedRelation {
	if similarity >= updateThreshold {
		newVal, newHas := extractKeywordValue(newContent)
		oldVal, oldHas := extractKeywordValue(candidate.Content)
		if newHas && oldHas && newVal != oldVal {
			return ClassifiedRelation{TargetID: candidate.ID, Class: ClassUpdates, Confidence: similarity, Reason: "keyword value changed"}
		}
	}

	if similarity >= extendThreshold && similarity < updateThreshold {
		newWords := keywordSet(newContent)
		oldWords := keywordSet(candidate.Content)
		overlap := 0
		for w := range oldWords {
			if newWords[w] {
				overlap++
			}
		}
		sharesHalf := len(oldWords) > 0 && float64(overlap)/float64(len(oldWords)) >= 0.5
		isLonger := float64(len(newContent)) >= float64(len(candidate.Content))*1.2
		if sharesHalf && isLonger {
			return ClassifiedRelation{TargetID: candidate.ID, Class: ClassExtends, Confidence: similarity, Reason: "keyword superset, longer"}
		}
	}

	return ClassifiedRelation{TargetID: candidate.ID, Class: ClassNew, Confidence: similarity, Reason: "no keyword match"}
}

// DetectAndLink implements the relation-detection pipeline: fetch
// candidates, embed/score by similarity, classify (LLM or regex), and write
// the resulting edges.
func (g *Graph) DetectAndLink(ctx context.Context, m *storage.Memory) error {
	candidates, err := g.fetchCandidates(m)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	survivors, sims, err := g.filterBySimilarity(ctx, m, candidates)
	if err != nil {
		return err
	}
	if len(survivors) == 0 {
		return nil
	}

	classified := g.classify(ctx, m.Content, survivors, sims)

	sort.SliceStable(classified, func(i, j int) bool { return classified[i].Confidence > classified[j].Confidence })

	applied := 0
	for _, c := range classified {
		if c.Class == ClassNew {
			continue
		}
		if applied >= maxRelationsPerMemory {
			break
		}
		relType := storage.RelationType(c.Class)
		if _, err := g.db.AddRelation(m.ID, c.TargetID, relType, c.Confidence); err != nil {
			log.Warn().Err(err).Str("target", c.TargetID).Msg("failed to persist detected relation")
			continue
		}
		applied++
		if relType == storage.RelationUpdates && c.Confidence >= earlyExitConfidence {
			break
		}
	}
	return nil
}

func (g *Graph) fetchCandidates(m *storage.Memory) ([]storage.Memory, error) {
	rows, err := g.db.GetMemoriesByUser(m.UserID, storage.MemoryFilter{
		Category:   m.Category,
		LatestOnly: true,
		Limit:      maxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch relation candidates: %w", err)
	}
	out := make([]storage.Memory, 0, len(rows))
	for _, r := range rows {
		if r.ID == m.ID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (g *Graph) filterBySimilarity(ctx context.Context, m *storage.Memory, candidates []storage.Memory) ([]storage.Memory, map[string]float64, error) {
	newVec := m.Embedding
	if len(newVec) == 0 && g.embedder != nil {
		var err error
		newVec, err = g.embedder.Embed(ctx, m.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("embed new memory for relation detection: %w", err)
		}
	}

	survivors := make([]storage.Memory, 0, len(candidates))
	sims := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		vec := c.Embedding
		if len(vec) == 0 && g.embedder != nil {
			var err error
			vec, err = g.embedder.Embed(ctx, c.Content)
			if err != nil {
				continue
			}
		}
		sim := cosineSimilarity(newVec, vec)
		if sim >= extendThreshold {
			survivors = append(survivors, c)
			sims[c.ID] = sim
		}
	}
	return survivors, sims, nil
}

func (g *Graph) classify(ctx context.Context, newContent string, candidates []storage.Memory, sims map[string]float64) []ClassifiedRelation {
	if g.classifier != nil {
		results, err := g.classifier.Classify(ctx, newContent, candidates)
		if err == nil && !isClassifierFailureSentinel(results) {
			return results
		}
		if err != nil {
			log.Warn().Err(err).Msg("LLM relation classifier failed, using regex fallback")
		} else {
			log.Warn().Msg("LLM relation classifier returned failure sentinel, using regex fallback")
		}
	}

	out := make([]ClassifiedRelation, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, regexClassify(newContent, c, sims[c.ID]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
