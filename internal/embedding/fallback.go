package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	failureThreshold = 3
	cooldownWindow   = 5 * time.Minute
)

// FallbackProvider wraps a primary provider and degrades to a local one
// after repeated failures, retrying the primary only after a cooldown. This
// keeps a flaky or unreachable embedding server from serializing every
// caller behind timeouts on every single call.
type FallbackProvider struct {
	primary  Provider
	fallback Provider

	mu            sync.Mutex
	consecutiveFailures int
	degradedUntil time.Time
	warned        bool
}

// NewFallbackProvider wraps primary with fallback as the degraded path.
func NewFallbackProvider(primary, fallback Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback}
}

func (f *FallbackProvider) usePrimary() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consecutiveFailures < failureThreshold {
		return true
	}
	if time.Now().After(f.degradedUntil) {
		return true
	}
	return false
}

func (f *FallbackProvider) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveFailures = 0
	f.warned = false
}

func (f *FallbackProvider) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveFailures++
	if f.consecutiveFailures >= failureThreshold {
		if time.Now().After(f.degradedUntil) {
			f.warned = false
		}
		f.degradedUntil = time.Now().Add(cooldownWindow)
		if !f.warned {
			log.Warn().Str("provider", f.primary.Name()).Int("failures", f.consecutiveFailures).
				Msg("embedding provider degraded, falling back to local embedder")
			f.warned = true
		}
	}
}

func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.usePrimary() {
		vec, err := f.primary.Embed(ctx, text)
		if err == nil {
			f.recordSuccess()
			return vec, nil
		}
		f.recordFailure()
	}
	return f.fallback.Embed(ctx, text)
}

func (f *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.usePrimary() {
		vecs, err := f.primary.EmbedBatch(ctx, texts)
		if err == nil {
			f.recordSuccess()
			return vecs, nil
		}
		f.recordFailure()
	}
	return f.fallback.EmbedBatch(ctx, texts)
}

// Dimensions reports the active embedder's dimensionality: the primary's
// while it's serving calls, the fallback's once degraded. Callers that
// persist a vector's width (search, storage) must see the width the next
// Embed call will actually produce.
func (f *FallbackProvider) Dimensions() int {
	if f.usePrimary() {
		return f.primary.Dimensions()
	}
	return f.fallback.Dimensions()
}
func (f *FallbackProvider) Name() string    { return "fallback:" + f.primary.Name() }
func (f *FallbackProvider) IsAvailable() bool {
	return f.primary.IsAvailable() || f.fallback.IsAvailable()
}
