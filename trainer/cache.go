package trainer

import (
	"container/list"
	"sync"

	"github.com/rustyeddy/pricer/policy"
)

const DefaultCacheSize = 64

type cacheKey struct {
	productID int64
	alg       policy.Algorithm
}

type cacheEntry struct {
	key   cacheKey
	model *Model
}

// modelCache is a bounded LRU of loaded models.
type modelCache struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[cacheKey]*list.Element
}

func newModelCache(size int) *modelCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &modelCache{size: size, ll: list.New(), items: make(map[cacheKey]*list.Element)}
}

func (c *modelCache) get(k cacheKey) (*Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).model, true
}

func (c *modelCache) put(k cacheKey, m *Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheEntry).model = m
		c.ll.MoveToFront(el)
		return
	}
	c.items[k] = c.ll.PushFront(&cacheEntry{key: k, model: m})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *modelCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
