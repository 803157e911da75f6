package relgraph

import (
	"math"

	"github.com/memoryd/gateway/internal/storage"
)

// ActivationConfig tunes spreadActivation's propagation. MaxSteps,
// DecayFactor, ResultThreshold, and MaxResults each treat a negative value
// as "unset, use DefaultActivationConfig" so a caller can still express an
// explicit zero (threshold 0 = accept every reachable memory, MaxResults 0
// = unbounded, DecayFactor 0 = no spread beyond the seed).
type ActivationConfig struct {
	MaxSteps        int
	DecayFactor     float64
	NoiseSigma      float64 // 0 disables noise, fully deterministic
	ResultThreshold float64
	MaxResults      int
}

// DefaultActivationConfig is a 3-step decayed spread with no noise.
var DefaultActivationConfig = ActivationConfig{
	MaxSteps:        3,
	DecayFactor:     0.5,
	NoiseSigma:      0,
	ResultThreshold: 0.05,
	MaxResults:      10,
}

// directionalWeight returns the edge weight for traversing relType in the
// given direction (forward = source->target, as stored).
func directionalWeight(relType storage.RelationType, forward bool) float64 {
	switch relType {
	case storage.RelationUpdates:
		return 0.9 // symmetric: forward and reverse both 0.9
	case storage.RelationExtends:
		if forward {
			return 0.7
		}
		return 0.5
	case storage.RelationDerives:
		if forward {
			return 0.4
		}
		return 0.6
	default:
		return 0
	}
}

// edge is one directed, weighted adjacency used by spreadActivation.
type edge struct {
	neighbor string
	weight   float64
}

// RelationFetcher returns every relation touching an id, used to build the
// adjacency spreadActivation propagates over.
type RelationFetcher func(id string) ([]*storage.MemoryRelation, error)

// gaussianSource is a single Box-Muller generator reused across a whole
// spreadActivation call so a caller can reproduce results by seeding it the
// same way in each call (NoiseSigma==0 is the deterministic case actually
// required; a nonzero sigma is only a retrieval-diversity nicety).
type gaussianSource struct {
	seed uint64
}

func (g *gaussianSource) next() float64 {
	g.seed = g.seed*6364136223846793005 + 1442695040888963407
	u1 := float64(g.seed>>11) / (1 << 53)
	g.seed = g.seed*6364136223846793005 + 1442695040888963407
	u2 := float64(g.seed>>11) / (1 << 53)
	if u1 <= 0 {
		u1 = 1e-12
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// SpreadActivation is a pure function: given a seed memory id and a way to
// fetch relations, it returns an activation score per reachable memory via
// double-buffered synchronous propagation. It performs no I/O beyond
// calling getRelations.
func SpreadActivation(seedID string, getRelations RelationFetcher, cfg ActivationConfig) (map[string]float64, error) {
	if cfg.MaxSteps < 0 {
		cfg.MaxSteps = DefaultActivationConfig.MaxSteps
	}
	if cfg.ResultThreshold < 0 {
		cfg.ResultThreshold = DefaultActivationConfig.ResultThreshold
	}
	unboundedResults := cfg.MaxResults == 0
	if cfg.MaxResults < 0 {
		cfg.MaxResults = DefaultActivationConfig.MaxResults
	}
	decayFactor := cfg.DecayFactor
	if decayFactor < 0 {
		decayFactor = DefaultActivationConfig.DecayFactor
	}

	adjacency := make(map[string][]edge)
	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}

	for len(frontier) > 0 {
		next := []string{}
		for _, id := range frontier {
			if _, ok := adjacency[id]; ok {
				continue
			}
			rels, err := getRelations(id)
			if err != nil {
				return nil, err
			}
			edges := make([]edge, 0, len(rels))
			for _, r := range rels {
				var neighbor string
				var forward bool
				if r.SourceID == id {
					neighbor = r.TargetID
					forward = true
				} else {
					neighbor = r.SourceID
					forward = false
				}
				w := directionalWeight(r.RelationType, forward) * r.Confidence
				edges = append(edges, edge{neighbor: neighbor, weight: w})
				if !visited[neighbor] {
					visited[neighbor] = true
					next = append(next, neighbor)
				}
			}
			adjacency[id] = edges
		}
		frontier = next
	}

	current := make(map[string]float64, len(visited))
	for id := range visited {
		current[id] = 0
	}
	current[seedID] = 1.0

	for step := 0; step < cfg.MaxSteps; step++ {
		nextBuf := make(map[string]float64, len(current))
		for id, activation := range current {
			nextBuf[id] += activation * (1 - decayFactor)
		}
		for id, activation := range current {
			edges := adjacency[id]
			if len(edges) == 0 || activation == 0 {
				continue
			}
			share := decayFactor / float64(len(edges)) * activation
			for _, e := range edges {
				nextBuf[e.neighbor] += share * e.weight
			}
		}
		for id, v := range nextBuf {
			if v > 1.0 {
				v = 1.0
			}
			nextBuf[id] = v
		}
		current = nextBuf
	}

	var noise *gaussianSource
	if cfg.NoiseSigma > 0 {
		noise = &gaussianSource{seed: 0x9e3779b97f4a7c15}
	}

	out := make(map[string]float64)
	for id, score := range current {
		if id == seedID {
			continue
		}
		if noise != nil {
			score *= 1 + cfg.NoiseSigma*noise.next()
			if score < 0 {
				score = 0
			}
		}
		if score >= cfg.ResultThreshold {
			out[id] = score
		}
	}

	if !unboundedResults && len(out) > cfg.MaxResults {
		out = truncateTopN(out, cfg.MaxResults)
	}
	return out, nil
}

func truncateTopN(scores map[string]float64, n int) map[string]float64 {
	type kv struct {
		id    string
		score float64
	}
	items := make([]kv, 0, len(scores))
	for id, s := range scores {
		items = append(items, kv{id, s})
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].score > items[j-1].score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	out := make(map[string]float64, n)
	for i := 0; i < n && i < len(items); i++ {
		out[items[i].id] = items[i].score
	}
	return out
}
