package regions

import (
	"sort"
	"sync"

	"voxelweather.ai/internal/sim/weather"
)

// Factory builds the simulation for a region seen for the first time.
type Factory func(key weather.RegionKey) *weather.Region

// Cache holds exactly one simulation per region key. The map is guarded so
// blend queries may read from another goroutine; the regions themselves are
// only mutated from the owning tick loop.
type Cache struct {
	mu      sync.RWMutex
	factory Factory
	regions map[weather.RegionKey]*weather.Region
}

func NewCache(factory Factory) *Cache {
	return &Cache{
		factory: factory,
		regions: map[weather.RegionKey]*weather.Region{},
	}
}

// GetOrCreate returns the existing region or constructs, stores and returns
// a new one. created reports which.
func (c *Cache) GetOrCreate(key weather.RegionKey) (r *weather.Region, created bool) {
	c.mu.RLock()
	r = c.regions[key]
	c.mu.RUnlock()
	if r != nil {
		return r, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r = c.regions[key]; r != nil {
		return r, false
	}
	r = c.factory(key)
	c.regions[key] = r
	return r, true
}

func (c *Cache) Get(key weather.RegionKey) (*weather.Region, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.regions[key]
	return r, ok
}

func (c *Cache) Evict(key weather.RegionKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.regions[key]; !ok {
		return false
	}
	delete(c.regions, key)
	return true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.regions)
}

// Keys returns all cached keys ordered by X then Z.
func (c *Cache) Keys() []weather.RegionKey {
	c.mu.RLock()
	keys := make([]weather.RegionKey, 0, len(c.regions))
	for k := range c.regions {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	SortKeys(keys)
	return keys
}

// Range calls fn for each region in key order. fn may evict.
func (c *Cache) Range(fn func(r *weather.Region) bool) {
	for _, k := range c.Keys() {
		r, ok := c.Get(k)
		if !ok {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

func SortKeys(keys []weather.RegionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})
}
