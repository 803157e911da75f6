// Package gardener is the tiered background maintenance loop: light ticks
// decay memories cheaply, deep ticks run the expensive full passes, and a
// cron-scheduled sleep tick runs dream-style consolidation.
package gardener

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/memoryd/gateway/internal/eventbus"
	"github.com/memoryd/gateway/internal/llm"
	"github.com/memoryd/gateway/internal/memorystore"
	"github.com/memoryd/gateway/internal/relgraph"
	"github.com/memoryd/gateway/internal/storage"
)

const (
	lightTickInterval  = 60 * time.Second
	deepTickEveryNLight = 72
	defaultSleepCron    = "0 3 * * *" // nightly at 03:00
)

// SessionSummarizer is the subset of internal/facts.Summarizer the deep
// tick needs, kept as an interface so this package doesn't import facts
// directly.
type SessionSummarizer interface {
	Summarize(ctx context.Context, sessionID string) (bool, error)
}

// Gardener runs the light/deep/sleep tick tiers on one process-lifetime
// goroutine plus a cron scheduler for the sleep tick.
type Gardener struct {
	db         *storage.DB
	store      *memorystore.Store
	graph      *relgraph.Graph
	bus        eventbus.Publisher
	summarizer SessionSummarizer

	nremProvider llm.Provider
	remProvider  llm.Provider
	config       Config

	lightCount int
	stopCh     chan struct{}
	wg         sync.WaitGroup
	cronSched  *cron.Cron
}

// New builds a Gardener. nremProvider/remProvider may be the same llm.Provider
// or distinct ones (e.g. a cheaper model for REM's best-effort exploration).
// summarizer may be nil, in which case the deep tick's session-summarization
// step is skipped.
func New(db *storage.DB, store *memorystore.Store, graph *relgraph.Graph, bus eventbus.Publisher, summarizer SessionSummarizer, nremProvider, remProvider llm.Provider) *Gardener {
	return &Gardener{
		db:           db,
		store:        store,
		graph:        graph,
		bus:          bus,
		summarizer:   summarizer,
		nremProvider: nremProvider,
		remProvider:  remProvider,
		config:       DefaultConfig(),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the light/deep tick goroutine and the sleep-tick cron
// scheduler. Stop must be called to release both.
func (g *Gardener) Start(sleepCronExpr string) error {
	if sleepCronExpr == "" {
		sleepCronExpr = defaultSleepCron
	}

	g.cronSched = cron.New()
	if _, err := g.cronSched.AddFunc(sleepCronExpr, func() {
		g.runSleepTick(context.Background())
	}); err != nil {
		return err
	}
	g.cronSched.Start()

	g.wg.Add(1)
	go g.tickLoop()
	return nil
}

// Stop halts both the tick goroutine and the cron scheduler, waiting for
// any in-flight tick to finish.
func (g *Gardener) Stop() {
	close(g.stopCh)
	if g.cronSched != nil {
		ctx := g.cronSched.Stop()
		<-ctx.Done()
	}
	g.wg.Wait()
}

func (g *Gardener) tickLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(lightTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.runLightTick(context.Background())
			g.lightCount++
			if g.lightCount%deepTickEveryNLight == 0 {
				g.runDeepTick(context.Background())
			}
		}
	}
}

func (g *Gardener) runLightTick(ctx context.Context) {
	n, err := g.store.ProcessDecay(24*time.Hour, 500)
	if err != nil {
		log.Error().Err(err).Msg("light tick decay failed")
		return
	}
	if n > 0 {
		log.Debug().Int("count", n).Msg("light tick decayed stale memories")
	}
}

func (g *Gardener) runDeepTick(ctx context.Context) {
	log.Info().Msg("deep tick starting")

	if n, err := g.store.ProcessFullDecay(); err != nil {
		log.Error().Err(err).Msg("deep tick full decay failed")
	} else {
		log.Info().Int("count", n).Msg("deep tick full decay complete")
	}

	if err := g.summarizeOldSessions(ctx); err != nil {
		log.Error().Err(err).Msg("deep tick session summarization failed")
	}

	if n, err := g.db.PruneOrphanedRelations(); err != nil {
		log.Error().Err(err).Msg("deep tick orphan pruning failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("deep tick pruned orphaned relations")
	}

	if err := g.runBehavioralInference(ctx); err != nil {
		log.Error().Err(err).Msg("deep tick behavioral inference failed")
	}

	if n, err := g.archiveLowUtilityMemories(); err != nil {
		log.Error().Err(err).Msg("deep tick archival failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("deep tick archived low-utility memories")
	}

	if n, err := g.db.HardDeleteDecayedArchived(); err != nil {
		log.Error().Err(err).Msg("deep tick hard delete failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("deep tick hard-deleted decayed archived memories")
	}
}

func (g *Gardener) runSleepTick(ctx context.Context) {
	log.Info().Msg("sleep tick starting")
	result := g.dream(ctx)
	if g.bus != nil {
		g.bus.Publish(ctx, eventbus.SubjectMemoryConsolidated, result)
	}
}
