package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

const (
	defaultCacheEntries   = 4096
	defaultCacheByteBudget = 64 << 20 // 64 MiB of float32 payloads
)

// CachedProvider wraps a Provider with a bounded LRU keyed on a hash of the
// input text, bounded by both entry count and total byte size so a handful
// of very long documents can't starve the cache of headroom.
type CachedProvider struct {
	inner       Provider
	mu          sync.Mutex
	ll          *list.List
	items       map[string]*list.Element
	maxEntries  int
	maxBytes    int
	usedBytes   int
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCachedProvider wraps inner with default capacity limits.
func NewCachedProvider(inner Provider) *CachedProvider {
	return &CachedProvider{
		inner:      inner,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: defaultCacheEntries,
		maxBytes:   defaultCacheByteBudget,
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		vec := el.Value.(*cacheEntry).value
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.put(key, vec)
	return vec, nil
}

func (c *CachedProvider) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).value = vec
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, value: vec})
	c.items[key] = el
	c.usedBytes += len(vec) * 4

	for (c.ll.Len() > c.maxEntries || c.usedBytes > c.maxBytes) && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry)
		c.ll.Remove(back)
		delete(c.items, entry.key)
		c.usedBytes -= len(entry.value) * 4
	}
}

// EmbedBatch embeds each text through the cache individually; a shared
// cache across a batch means repeated phrases within one call (common in
// fact extraction, where a sentence may repeat across chunks) only cost
// one upstream call.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *CachedProvider) Dimensions() int   { return c.inner.Dimensions() }
func (c *CachedProvider) Name() string      { return "cached:" + c.inner.Name() }
func (c *CachedProvider) IsAvailable() bool { return c.inner.IsAvailable() }
