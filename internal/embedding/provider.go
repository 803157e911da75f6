// Package embedding turns text into vectors, with caching and a
// degrade-to-local fallback layered on top of whatever remote provider is
// configured.
package embedding

import "context"

// Provider turns text into vectors. EmbedBatch exists as its own method
// (rather than a loop over Embed) so an HTTP-backed implementation can
// dispatch requests concurrently instead of serially.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
	IsAvailable() bool
}
