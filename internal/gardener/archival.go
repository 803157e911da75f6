package gardener

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/memoryd/gateway/internal/storage"
)

const (
	archivalUtilityThreshold = 0.1
	archivalMinAgeDays       = 14
	archivalMaxPerRun        = 50
)

// archiveLowUtilityMemories computes utility = prominence * ln(1 +
// access_count) for every eligible is_latest memory at least minAgeDays
// old, and supersedes the lowest-scoring rows under the threshold, capped
// at maxPerRun per tick.
func (g *Gardener) archiveLowUtilityMemories() (int, error) {
	all, err := g.db.AllLatestMemories()
	if err != nil {
		return 0, fmt.Errorf("fetch latest memories: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -g.config.ArchivalMinAgeDays)

	type scored struct {
		memory  *storage.Memory
		utility float64
	}
	var eligible []scored
	for _, m := range all {
		if m.MemoryType == storage.MemoryTypeStaticProfile {
			continue
		}
		if m.CreatedAt.After(cutoff) {
			continue
		}
		utility := m.Prominence * math.Log(1+float64(m.AccessCount))
		if utility < g.config.ArchivalThreshold {
			eligible = append(eligible, scored{memory: m, utility: utility})
		}
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].utility < eligible[j].utility })
	if len(eligible) > g.config.ArchivalMaxPerRun {
		eligible = eligible[:g.config.ArchivalMaxPerRun]
	}

	n := 0
	for _, e := range eligible {
		isLatest := false
		memType := storage.MemoryTypeSuperseded
		if err := g.db.UpdateMemory(e.memory.ID, storage.MemoryPatch{
			IsLatest:      &isLatest,
			MemoryType:    &memType,
			SkipUpdatedAt: true,
		}); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
