package gardener

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/embedding"
	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	fusionProminenceFloor = 0.1
	fusionProminenceCeil  = 0.5
	fallbackClusterSimLow  = 0.6
	fallbackClusterSimHigh = 0.7
)

// DreamResult is what one sleep tick produced, published on the event bus.
type DreamResult struct {
	NREM *NREMResult `json:"nrem,omitempty"`
	REM  *REMResult  `json:"rem,omitempty"`
}

// NREMResult summarizes the consolidation pass.
type NREMResult struct {
	ClustersFound int `json:"clustersFound"`
	MemoriesFused int `json:"memoriesFused"`
	DerivedCreated int `json:"derivedCreated"`
}

// REMResult summarizes the speculative-relation pass.
type REMResult struct {
	RelationsProposed int `json:"relationsProposed"`
}

// dream runs NREM then REM, isolating each phase's failure from the other:
// an NREM error still lets REM attempt its pass, and a REM error preserves
// whatever NREM already produced.
func (g *Gardener) dream(ctx context.Context) DreamResult {
	var result DreamResult

	nrem, err := g.runNREM(ctx)
	if err != nil {
		log.Error().Err(err).Msg("NREM consolidation failed")
	} else {
		result.NREM = nrem
	}

	rem, err := g.runREM(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("REM exploration failed (best-effort, swallowed)")
	} else {
		result.REM = rem
	}

	return result
}

func (g *Gardener) runNREM(ctx context.Context) (*NREMResult, error) {
	candidates, err := g.fusionCandidates()
	if err != nil {
		return nil, fmt.Errorf("fetch fusion candidates: %w", err)
	}

	clusters := g.findFusionClusters(candidates)
	result := &NREMResult{ClustersFound: len(clusters)}

	for _, cluster := range clusters {
		if len(cluster) < g.config.MinClusterSize {
			continue
		}
		if err := g.fuseCluster(ctx, cluster); err != nil {
			log.Warn().Err(err).Int("cluster_size", len(cluster)).Msg("cluster fusion failed, skipping")
			continue
		}
		result.MemoriesFused += len(cluster)
		result.DerivedCreated++
	}
	return result, nil
}

func (g *Gardener) fusionCandidates() ([]*storage.Memory, error) {
	all, err := g.db.AllLatestMemories()
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Memory, 0, len(all))
	for _, m := range all {
		if m.MemoryType == storage.MemoryTypeStaticProfile || m.MemoryType == storage.MemoryTypeDerived {
			continue
		}
		if m.Prominence >= fusionProminenceFloor && m.Prominence < fusionProminenceCeil {
			out = append(out, m)
		}
	}
	return out, nil
}

// findFusionClusters groups dormant memories into connected components via
// their relation edges (same category only), falling back to greedy
// embedding-similarity clustering for memories with no connecting edges.
func (g *Gardener) findFusionClusters(candidates []*storage.Memory) [][]*storage.Memory {
	byID := make(map[string]*storage.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}

	visited := make(map[string]bool)
	var clusters [][]*storage.Memory

	for _, m := range candidates {
		if visited[m.ID] {
			continue
		}
		component := g.bfsComponent(m, byID, visited)
		if len(component) >= g.config.MinClusterSize {
			clusters = append(clusters, component)
		}
	}

	unclustered := make([]*storage.Memory, 0)
	for _, m := range candidates {
		if !visited[m.ID] {
			unclustered = append(unclustered, m)
		}
	}
	clusters = append(clusters, greedyEmbeddingClusters(unclustered, g.config.MinClusterSize)...)

	return clusters
}

func (g *Gardener) bfsComponent(start *storage.Memory, byID map[string]*storage.Memory, visited map[string]bool) []*storage.Memory {
	queue := []*storage.Memory{start}
	visited[start.ID] = true
	var component []*storage.Memory

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		component = append(component, m)

		rels, err := g.db.GetRelations(m.ID, "")
		if err != nil {
			continue
		}
		for _, r := range rels {
			neighborID := r.TargetID
			if neighborID == m.ID {
				neighborID = r.SourceID
			}
			neighbor, ok := byID[neighborID]
			if !ok || visited[neighborID] {
				continue
			}
			if neighbor.Category != start.Category {
				continue
			}
			visited[neighborID] = true
			queue = append(queue, neighbor)
		}
	}
	return component
}

// greedyEmbeddingClusters groups memories with no relation edges by cosine
// similarity alone: each unclaimed memory starts a new cluster and absorbs
// every remaining memory above the fallback similarity threshold.
func greedyEmbeddingClusters(memories []*storage.Memory, minClusterSize int) [][]*storage.Memory {
	claimed := make(map[string]bool)
	var clusters [][]*storage.Memory

	for i, m := range memories {
		if claimed[m.ID] || len(m.Embedding) == 0 {
			continue
		}
		cluster := []*storage.Memory{m}
		claimed[m.ID] = true
		for j := i + 1; j < len(memories); j++ {
			other := memories[j]
			if claimed[other.ID] || other.Category != m.Category || len(other.Embedding) == 0 {
				continue
			}
			sim := embedding.CosineSimilarity(m.Embedding, other.Embedding)
			if sim >= fallbackClusterSimLow {
				cluster = append(cluster, other)
				claimed[other.ID] = true
			}
		}
		if len(cluster) >= minClusterSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

type fuseResponse struct {
	Summary    string                  `json:"summary"`
	Importance int                     `json:"importance"`
	Category   storage.MemoryCategory  `json:"category"`
}

// fuseCluster asks the NREM LLM to summarize a cluster, discards the result
// if the summary isn't actually shorter than the combined sources, and on
// success inserts a derived memory with DERIVES edges to every source while
// marking the sources superseded.
func (g *Gardener) fuseCluster(ctx context.Context, cluster []*storage.Memory) error {
	if g.nremProvider == nil {
		return fmt.Errorf("no NREM provider configured")
	}

	combinedLen := 0
	prompt := "Summarize these related memories into one consolidated fact. Return JSON {\"summary\",\"importance\",\"category\"}.\n"
	for _, m := range cluster {
		combinedLen += len(m.Content)
		prompt += "- " + m.Content + "\n"
	}

	resp, err := g.nremProvider.Complete(ctx, llm.Request{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: prompt}}}},
		MaxTokens:      512,
		ResponseFormat: "json",
	})
	if err != nil {
		return fmt.Errorf("fuse cluster call: %w", err)
	}

	var parsed fuseResponse
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return fmt.Errorf("parse fuse response: %w", err)
	}
	if len(parsed.Summary) >= combinedLen {
		return fmt.Errorf("fused summary (%d chars) not shorter than combined sources (%d chars), discarding", len(parsed.Summary), combinedLen)
	}

	derived := &storage.Memory{
		UserID:     cluster[0].UserID,
		Content:    parsed.Summary,
		Category:   parsed.Category,
		MemoryType: storage.MemoryTypeDerived,
		Importance: parsed.Importance,
		Confidence: 0.8,
	}
	if err := g.db.AddMemory(derived); err != nil {
		return fmt.Errorf("insert derived memory: %w", err)
	}

	for _, source := range cluster {
		if _, err := g.graph.AddRelation(derived.ID, source.ID, storage.RelationDerives, 0.8); err != nil {
			log.Warn().Err(err).Msg("failed to link DERIVES edge during fusion")
		}
		isLatest := false
		memType := storage.MemoryTypeSuperseded
		if err := g.db.UpdateMemory(source.ID, storage.MemoryPatch{
			IsLatest:      &isLatest,
			MemoryType:    &memType,
			SkipUpdatedAt: true,
		}); err != nil {
			log.Warn().Err(err).Str("memory_id", source.ID).Msg("failed to supersede fused source memory")
		}
	}

	return nil
}

type remProposal struct {
	SourceID   string  `json:"sourceId"`
	TargetID   string  `json:"targetId"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// runREM is a best-effort speculative pass: any failure (LLM unavailable,
// parse error) is swallowed by the caller (dream), not here, so this simply
// returns the error for dream to log and ignore.
func (g *Gardener) runREM(ctx context.Context) (*REMResult, error) {
	if g.remProvider == nil {
		return nil, fmt.Errorf("no REM provider configured")
	}

	pairs, err := g.weakCrossDomainPairs()
	if err != nil {
		return nil, fmt.Errorf("find weak cross-domain pairs: %w", err)
	}
	if len(pairs) == 0 {
		return &REMResult{}, nil
	}

	prompt := "Given these memory pairs that may share a subtle, non-obvious connection, propose relations. " +
		"Return JSON array of {\"sourceId\",\"targetId\",\"relation\",\"confidence\"}.\n"
	for _, p := range pairs {
		prompt += fmt.Sprintf("- %s: %q <-> %s: %q\n", p[0].ID, p[0].Content, p[1].ID, p[1].Content)
	}

	resp, err := g.remProvider.Complete(ctx, llm.Request{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: llm.BlockText, Text: prompt}}}},
		MaxTokens:      512,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("REM call: %w", err)
	}

	var proposals []remProposal
	if err := json.Unmarshal([]byte(resp.Text()), &proposals); err != nil {
		return nil, fmt.Errorf("parse REM proposals: %w", err)
	}

	n := 0
	for _, p := range proposals {
		if _, err := g.graph.AddRelation(p.SourceID, p.TargetID, storage.RelationType(p.Relation), p.Confidence); err == nil {
			n++
		}
	}
	return &REMResult{RelationsProposed: n}, nil
}

const remPairSampleSize = 10

// weakCrossDomainPairs samples latest memories from different categories
// with low-but-nonzero embedding similarity as REM's speculative candidates.
func (g *Gardener) weakCrossDomainPairs() ([][2]*storage.Memory, error) {
	all, err := g.db.AllLatestMemories()
	if err != nil {
		return nil, err
	}

	var pairs [][2]*storage.Memory
	for i := 0; i < len(all) && len(pairs) < remPairSampleSize; i++ {
		for j := i + 1; j < len(all) && len(pairs) < remPairSampleSize; j++ {
			a, b := all[i], all[j]
			if a.Category == b.Category || len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			sim := embedding.CosineSimilarity(a.Embedding, b.Embedding)
			if sim > 0.3 && sim < 0.6 {
				pairs = append(pairs, [2]*storage.Memory{a, b})
			}
		}
	}
	return pairs, nil
}
