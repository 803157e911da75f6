package embedding

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
)

const tfidfDimensions = 512

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// TFIDFProvider is a dependency-free local embedder used as the last-resort
// fallback when no remote embedding server is reachable. It hashes tokens
// and character bigrams into a fixed-width vector rather than learning a
// vocabulary, so it never needs training data and its output width never
// changes.
type TFIDFProvider struct {
	mu sync.Mutex
	df map[string]int
	docs int
}

// NewTFIDFProvider returns a ready-to-use local embedder.
func NewTFIDFProvider() *TFIDFProvider {
	return &TFIDFProvider{df: make(map[string]int)}
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func bigrams(token string) []string {
	if len(token) < 2 {
		return []string{token}
	}
	out := make([]string, 0, len(token)-1)
	for i := 0; i < len(token)-1; i++ {
		out = append(out, token[i:i+2])
	}
	return out
}

// hashFeature maps an arbitrary string feature into [0, tfidfDimensions) with
// the FNV-1a hash, kept inline to avoid pulling in hash/fnv for one line.
func hashFeature(s string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h % tfidfDimensions)
}

func (p *TFIDFProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)

	p.mu.Lock()
	p.docs++
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			p.df[t]++
			seen[t] = true
		}
	}
	docs := p.docs
	df := make(map[string]int, len(tokens))
	for _, t := range tokens {
		df[t] = p.df[t]
	}
	p.mu.Unlock()

	vec := make([]float64, tfidfDimensions)
	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
		for _, bg := range bigrams(t) {
			vec[hashFeature(bg)] += 0.25
		}
	}

	for term, count := range tf {
		idf := math.Log(float64(docs+1)/float64(df[term]+1)) + 1
		weight := float64(count) * idf
		vec[hashFeature(term)] += weight
	}

	out := make([]float32, tfidfDimensions)
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (p *TFIDFProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *TFIDFProvider) Dimensions() int   { return tfidfDimensions }
func (p *TFIDFProvider) Name() string      { return "tfidf-local" }
func (p *TFIDFProvider) IsAvailable() bool { return true }
