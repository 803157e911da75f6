package relgraph

import (
	"fmt"

	"github.com/memoryd/gateway/internal/storage"
)

// RelatedMemory pairs a memory with its final activation-weighted score.
type RelatedMemory struct {
	Memory *storage.Memory
	Score  float64
}

// GetRelatedMemoriesWithActivation runs spreading activation from seedID,
// multiplies each result by the target memory's prominence, and restricts
// to is_latest memories. Any error from the activation pass (a relation
// fetch failing, most likely) falls back to a plain breadth-first
// traversal instead of surfacing the error to the caller.
func (g *Graph) GetRelatedMemoriesWithActivation(seedID string, cfg ActivationConfig) ([]RelatedMemory, error) {
	scores, err := SpreadActivation(seedID, func(id string) ([]*storage.MemoryRelation, error) {
		return g.db.GetRelations(id, "")
	}, cfg)
	if err != nil {
		return g.bfsFallback(seedID, cfg.MaxResults)
	}

	out := make([]RelatedMemory, 0, len(scores))
	for id, score := range scores {
		m, err := g.db.GetMemory(id)
		if err != nil || !m.IsLatest {
			continue
		}
		out = append(out, RelatedMemory{Memory: m, Score: score * m.Prominence})
	}
	sortByScoreDescending(out)
	return out, nil
}

// bfsFallback walks outward from seedID by plain breadth-first traversal,
// ignoring relation weights entirely, used only when activation itself
// errored.
func (g *Graph) bfsFallback(seedID string, limit int) ([]RelatedMemory, error) {
	unbounded := limit == 0
	if limit < 0 {
		limit = DefaultActivationConfig.MaxResults
	}
	visited := map[string]bool{seedID: true}
	queue := []string{seedID}
	var out []RelatedMemory

	for len(queue) > 0 && (unbounded || len(out) < limit) {
		id := queue[0]
		queue = queue[1:]

		rels, err := g.db.GetRelations(id, "")
		if err != nil {
			return nil, fmt.Errorf("bfs fallback: %w", err)
		}
		for _, r := range rels {
			neighbor := r.TargetID
			if neighbor == id {
				neighbor = r.SourceID
			}
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true
			queue = append(queue, neighbor)

			m, err := g.db.GetMemory(neighbor)
			if err != nil || !m.IsLatest {
				continue
			}
			out = append(out, RelatedMemory{Memory: m, Score: m.Prominence})
			if !unbounded && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func sortByScoreDescending(items []RelatedMemory) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
