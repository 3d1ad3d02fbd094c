package regions

import (
	"sync"
	"testing"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/weather"
)

func newTestCache(t *testing.T, calls *int) *Cache {
	t.Helper()
	reg, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	var mu sync.Mutex
	return NewCache(func(key weather.RegionKey) *weather.Region {
		mu.Lock()
		*calls++
		mu.Unlock()
		return weather.New(weather.Config{Registry: reg, Seed: 42}, key)
	})
}

func TestGetOrCreate_SingleEntryPerKey(t *testing.T) {
	calls := 0
	c := newTestCache(t, &calls)

	k := weather.RegionKey{X: 3, Z: 7}
	a, created := c.GetOrCreate(k)
	if !created || a == nil {
		t.Fatalf("expected creation")
	}
	b, created := c.GetOrCreate(k)
	if created || a != b {
		t.Fatalf("expected the same instance on second call")
	}
	if calls != 1 || c.Len() != 1 {
		t.Fatalf("factory calls=%d len=%d", calls, c.Len())
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	calls := 0
	c := newTestCache(t, &calls)
	k := weather.RegionKey{X: -1, Z: 2}

	var wg sync.WaitGroup
	got := make([]*weather.Region, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = c.GetOrCreate(k)
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatalf("divergent simulations for one key")
		}
	}
	if calls != 1 {
		t.Fatalf("factory calls: got %d want 1", calls)
	}
}

func TestGet_EvictAndKeys(t *testing.T) {
	calls := 0
	c := newTestCache(t, &calls)
	if _, ok := c.Get(weather.RegionKey{}); ok {
		t.Fatalf("Get must not create")
	}
	for _, k := range []weather.RegionKey{{X: 2, Z: 0}, {X: -1, Z: 5}, {X: -1, Z: -3}, {X: 0, Z: 0}} {
		c.GetOrCreate(k)
	}
	keys := c.Keys()
	want := []weather.RegionKey{{X: -1, Z: -3}, {X: -1, Z: 5}, {X: 0, Z: 0}, {X: 2, Z: 0}}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d]: got %v want %v", i, keys[i], want[i])
		}
	}
	if !c.Evict(weather.RegionKey{X: -1, Z: 5}) {
		t.Fatalf("evict existing")
	}
	if c.Evict(weather.RegionKey{X: -1, Z: 5}) {
		t.Fatalf("double evict")
	}
	n := 0
	c.Range(func(r *weather.Region) bool {
		n++
		return true
	})
	if n != 3 {
		t.Fatalf("range visited %d", n)
	}
}
