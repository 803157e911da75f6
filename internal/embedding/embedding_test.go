package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 0.0001)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 0.0001)
}

type countingProvider struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := c.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingProvider) Dimensions() int   { return len(c.vec) }
func (c *countingProvider) Name() string      { return "counting" }
func (c *countingProvider) IsAvailable() bool { return c.err == nil }

func TestCachedProviderHitsCacheOnRepeat(t *testing.T) {
	inner := &countingProvider{vec: []float32{0.1, 0.2}}
	cached := NewCachedProvider(inner)

	_, err := cached.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "hello")
	require.NoError(t, err)

	require.Equal(t, 1, inner.calls)
}

func TestFallbackProviderDegradesAfterFailures(t *testing.T) {
	primary := &countingProvider{err: errors.New("unreachable")}
	fallback := &countingProvider{vec: []float32{1, 1}}
	fb := NewFallbackProvider(primary, fallback)

	for i := 0; i < failureThreshold; i++ {
		_, err := fb.Embed(context.Background(), "x")
		require.NoError(t, err)
	}
	require.Equal(t, failureThreshold, primary.calls)

	_, err := fb.Embed(context.Background(), "y")
	require.NoError(t, err)
	require.Equal(t, failureThreshold, primary.calls, "primary should not be called again during cooldown")
}

func TestTFIDFProviderDeterministicWidth(t *testing.T) {
	p := NewTFIDFProvider()
	vec, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Len(t, vec, tfidfDimensions)
}

func TestTFIDFProviderSimilarTextsAreCloser(t *testing.T) {
	p := NewTFIDFProvider()
	a, _ := p.Embed(context.Background(), "works at microsoft as an engineer")
	b, _ := p.Embed(context.Background(), "employed at microsoft in engineering")
	c, _ := p.Embed(context.Background(), "loves hiking in the mountains every weekend")

	simAB := CosineSimilarity(a, b)
	simAC := CosineSimilarity(a, c)
	require.Greater(t, simAB, simAC)
}
