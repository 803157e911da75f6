package memorystore

import (
	"math"
	"regexp"
	"strings"

	"github.com/memoryd/gateway/internal/storage"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopWords is a small, fixed pre-filter list; BM25 quality is dominated by
// term weighting, not an exhaustive stop-word dictionary.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "it": true, "this": true,
	"that": true, "i": true, "you": true, "he": true, "she": true, "they": true,
}

func bm25Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func bumpBM25Stats(db *storage.DB, content string) error {
	terms := uniqueTerms(bm25Tokenize(content))
	return db.BumpTermDocumentFrequency(terms)
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// bm25Score scores one document's term frequencies against a query's
// tokens, given the corpus's document count, average document length, and
// per-term document frequency lookups.
func bm25Score(queryTerms []string, docTokens []string, docCount, totalLength int, df func(term string) int) float64 {
	if docCount == 0 || len(docTokens) == 0 {
		return 0
	}
	avgDocLen := float64(totalLength) / float64(docCount)
	docLen := float64(len(docTokens))

	tf := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		tf[t]++
	}

	var score float64
	for _, qt := range queryTerms {
		f := tf[qt]
		if f == 0 {
			continue
		}
		n := df(qt)
		idf := math.Log(1 + (float64(docCount)-float64(n)+0.5)/(float64(n)+0.5))
		numerator := float64(f) * (bm25K1 + 1)
		denominator := float64(f) + bm25K1*(1-bm25B+bm25B*docLen/avgDocLen)
		score += idf * numerator / denominator
	}
	return score
}

func decayFactor(lambda, deltaDays float64) float64 {
	return math.Exp(-lambda * deltaDays)
}
