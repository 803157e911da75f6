// Package relgraph implements the typed relation graph over memories:
// relation detection (LLM-or-regex classification), CRUD/traversal
// wrappers, and the pure spreading-activation retrieval function.
package relgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/memoryd/gateway/internal/storage"
)

// Graph wraps the storage layer's relation primitives with the
// traversal and classification logic the typed relation model needs.
type Graph struct {
	db        *storage.DB
	embedder  Embedder
	classifier Classifier
}

// Embedder is the narrow embedding surface the graph needs: compute a
// vector. Kept separate from embedding.Provider to avoid
// this package depending on the concrete embedding package for anything
// beyond a function signature.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds a Graph. classifier may be nil, in which case relation
// detection always uses the regex fallback.
func New(db *storage.DB, embedder Embedder, classifier Classifier) *Graph {
	return &Graph{db: db, embedder: embedder, classifier: classifier}
}

// AddRelation delegates to storage's idempotent-on-(source,target,type)
// insert.
func (g *Graph) AddRelation(sourceID, targetID string, relType storage.RelationType, confidence float64) (*storage.MemoryRelation, error) {
	return g.db.AddRelation(sourceID, targetID, relType, confidence)
}

// GetUpdated returns the relations from newer memories that update this id
// (incoming UPDATES).
func (g *Graph) GetUpdated(id string) ([]*storage.MemoryRelation, error) {
	return g.db.GetIncoming(id, storage.RelationUpdates)
}

// GetExtended returns memories extending this id (incoming EXTENDS).
func (g *Graph) GetExtended(id string) ([]*storage.MemoryRelation, error) {
	return g.db.GetIncoming(id, storage.RelationExtends)
}

// GetSource returns the memory this id extends or updates (outgoing edges).
func (g *Graph) GetSource(id string) ([]*storage.MemoryRelation, error) {
	return g.db.GetOutgoing(id, "")
}

// GetDerived returns memories derived from this one (incoming DERIVES).
func (g *Graph) GetDerived(id string) ([]*storage.MemoryRelation, error) {
	return g.db.GetIncoming(id, storage.RelationDerives)
}

const maxTraversalDepth = 50

// GetLatestVersion follows incoming UPDATES edges transitively until no
// further update exists, returning the terminal (current) memory id.
func (g *Graph) GetLatestVersion(id string) (string, error) {
	current := id
	visited := map[string]bool{current: true}
	for depth := 0; depth < maxTraversalDepth; depth++ {
		incoming, err := g.db.GetIncoming(current, storage.RelationUpdates)
		if err != nil {
			return "", fmt.Errorf("get incoming updates for %s: %w", current, err)
		}
		if len(incoming) == 0 {
			return current, nil
		}
		next := incoming[0].SourceID
		if visited[next] {
			return current, nil // cycle guard; shouldn't occur but traversal must terminate
		}
		visited[next] = true
		current = next
	}
	return current, nil
}

// GetUpdateHistory returns every ancestor of id reachable via outgoing
// UPDATES edges (id -> older versions), sorted by document date descending.
func (g *Graph) GetUpdateHistory(id string) ([]*storage.Memory, error) {
	var history []*storage.Memory
	visited := map[string]bool{}
	queue := []string{id}

	for len(queue) > 0 && len(visited) < maxTraversalDepth {
		curID := queue[0]
		queue = queue[1:]
		if visited[curID] {
			continue
		}
		visited[curID] = true

		m, err := g.db.GetMemory(curID)
		if err != nil {
			continue
		}
		if curID != id {
			history = append(history, m)
		}

		outgoing, err := g.db.GetOutgoing(curID, storage.RelationUpdates)
		if err != nil {
			return nil, fmt.Errorf("get outgoing updates for %s: %w", curID, err)
		}
		for _, rel := range outgoing {
			queue = append(queue, rel.TargetID)
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].DocumentDate.After(history[j].DocumentDate)
	})
	return history, nil
}
