package mesh

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/jobrunner/climap/internal/domain"
)

// DefaultCacheSize is the number of meshes kept when no size is configured.
const DefaultCacheSize = 16

// CacheObserver receives cache hit and miss notifications.
type CacheObserver interface {
	IncMeshCache(hit bool)
}

type cacheKey struct {
	grid domain.GridKey
	opts Options
}

// Cache is a bounded LRU of built meshes keyed by grid revision and options.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	keys     map[cacheKey]struct{}
	observer CacheObserver
}

// NewCache creates a mesh cache holding at most size meshes.
func NewCache(size int, observer CacheObserver) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{
		lru:      lru.New(size),
		keys:     make(map[cacheKey]struct{}),
		observer: observer,
	}
	c.lru.OnEvicted = func(k lru.Key, _ interface{}) {
		delete(c.keys, k.(cacheKey))
	}
	return c
}

// Mesh returns the cached mesh for grid and opts, building it on a miss.
// The build runs outside the lock so concurrent misses may build twice.
func (c *Cache) Mesh(grid *domain.RasterGrid, opts Options) *domain.RasterMesh {
	if grid == nil {
		return Build(nil, opts)
	}
	key := cacheKey{grid: grid.Key(), opts: opts}

	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	c.observe(ok)
	if ok {
		return v.(*domain.RasterMesh)
	}

	m := Build(grid, opts)

	c.mu.Lock()
	c.lru.Add(key, m)
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	return m
}

// Invalidate drops every cached mesh of a grid, for all revisions.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.keys {
		if k.grid.ID == id {
			c.lru.Remove(k)
		}
	}
}

// Len returns the number of cached meshes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) observe(hit bool) {
	if c.observer != nil {
		c.observer.IncMeshCache(hit)
	}
}
