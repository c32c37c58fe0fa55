package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/port"
)

// QueryCache is a bounded LRU of grounded results with a per-entry TTL.
// Keys are the query with surrounding whitespace trimmed, the same form the
// orchestrator embeds and scores, so queries differing in case or inner
// spacing are cached separately.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	query   string
	results []domain.GroundedChunk
	expires time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(query string) string {
	return strings.TrimSpace(query)
}

func (c *QueryCache) Get(query string) ([]domain.GroundedChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(query)]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().After(entry.expires) {
		c.remove(el)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return entry.results, true
}

func (c *QueryCache) Put(query string, results []domain.GroundedChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(query)
	expires := c.now().Add(c.ttl)

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.results = results
		entry.expires = expires
		c.lru.MoveToFront(el)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.remove(c.lru.Back())
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{query: key, results: results, expires: expires})
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *QueryCache) remove(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).query)
}

// CachedRetriever serves repeated queries from a QueryCache.
// Empty results are never cached, so a transient store outage is not pinned.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
}

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
	}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, query string) ([]domain.GroundedChunk, error) {
	if results, hit := r.cache.Get(query); hit {
		return results, nil
	}

	results, err := r.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		r.cache.Put(query, results)
	}
	return results, nil
}
