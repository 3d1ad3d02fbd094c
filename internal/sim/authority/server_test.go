package authority

import (
	"testing"

	"voxelweather.ai/internal/persistence/indexdb"
	"voxelweather.ai/internal/persistence/snapshot"
	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/weather"
)

const (
	regionSize = 512
	tickSec    = 0.025
)

type fakeHost struct{ loaded map[weather.RegionKey]bool }

func newHost(keys ...weather.RegionKey) *fakeHost {
	h := &fakeHost{loaded: map[weather.RegionKey]bool{}}
	for _, k := range keys {
		h.loaded[k] = true
	}
	return h
}

func (h *fakeHost) LoadedRegions() []weather.RegionKey {
	var out []weather.RegionKey
	for k, ok := range h.loaded {
		if ok {
			out = append(out, k)
		}
	}
	return out
}

func (h *fakeHost) IsLoaded(k weather.RegionKey) bool { return h.loaded[k] }

type fakeTracker struct{ obs []ObserverPos }

func (f *fakeTracker) Observers() []ObserverPos { return f.obs }

type fakeChannel struct {
	fail bool
	msgs map[string][]protocol.WeatherMsg
}

func (c *fakeChannel) Send(id string, m protocol.WeatherMsg) bool {
	if c.fail {
		return false
	}
	if c.msgs == nil {
		c.msgs = map[string][]protocol.WeatherMsg{}
	}
	c.msgs[id] = append(c.msgs[id], m)
	return true
}

type panicSink struct{ bad weather.RegionKey }

func (p panicSink) BeginUse(ev weather.Event) {
	if ev.Region == p.bad {
		panic("sink exploded")
	}
}

func testRegistry(t *testing.T, lifetime, transition float64) *catalogs.Registry {
	t.Helper()
	r, err := catalogs.New(
		[]catalogs.WeatherPatternDef{
			{Code: "CLEAR", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: lifetime}, TransitionSeconds: transition},
			{Code: "RAIN", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: lifetime}, TransitionSeconds: transition, Precipitation: catalogs.Range{Avg: 1}},
		},
		[]catalogs.WindPatternDef{
			{Code: "CALM", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: 600}, TransitionSeconds: 1},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

type harness struct {
	srv   *Server
	host  *fakeHost
	obs   *fakeTracker
	ch    *fakeChannel
	store *indexdb.MemStore
}

func newHarness(t *testing.T, reg *catalogs.Registry, host *fakeHost, obs ...ObserverPos) *harness {
	t.Helper()
	h := &harness{
		host:  host,
		obs:   &fakeTracker{obs: obs},
		ch:    &fakeChannel{},
		store: indexdb.NewMemStore(),
	}
	h.srv = NewServer(Config{
		Registry:      reg,
		RegionSize:    regionSize,
		ObserverRange: 1,
		Host:          h.host,
		Observers:     h.obs,
		Channel:       h.ch,
		Store:         h.store,
	})
	h.srv.Initialize(1337)
	return h
}

func TestBroadcast_ChebyshevRange(t *testing.T) {
	h := newHarness(t, testRegistry(t, 600, 5), newHost(weather.RegionKey{}),
		ObserverPos{ID: "near", X: 600, Z: 600},     // region (1,1)
		ObserverPos{ID: "west", X: -10, Z: 10},      // region (-1,0)
		ObserverPos{ID: "far", X: 1100, Z: 0},       // region (2,0)
		ObserverPos{ID: "farther", X: -2000, Z: 50}, // region (-4,0)
	)
	h.srv.OnAuthoritativeTick(tickSec)

	if len(h.ch.msgs["near"]) != 1 || len(h.ch.msgs["west"]) != 1 {
		t.Fatalf("in-range observers: %v", h.ch.msgs)
	}
	if len(h.ch.msgs["far"]) != 0 || len(h.ch.msgs["farther"]) != 0 {
		t.Fatalf("out-of-range observers received messages: %v", h.ch.msgs)
	}
	m := h.ch.msgs["near"][0]
	if m.Type != protocol.TypeWeather || m.RegionX != 0 || m.RegionZ != 0 || m.UpdateInstant {
		t.Fatalf("message: %+v", m)
	}
}

func TestBroadcast_PersistsWithoutObservers(t *testing.T) {
	keys := []weather.RegionKey{{X: 0, Z: 0}, {X: 5, Z: -5}}
	h := newHarness(t, testRegistry(t, 600, 5), newHost(keys...))
	h.srv.OnAuthoritativeTick(tickSec)

	for _, k := range keys {
		b, ok, err := h.store.Get(k, BlobName)
		if err != nil || !ok {
			t.Fatalf("no blob for %v: %v", k, err)
		}
		snap, err := snapshot.DecodeRegion(b)
		if err != nil {
			t.Fatalf("decode %v: %v", k, err)
		}
		if snap.Key() != k {
			t.Fatalf("blob key: got %v want %v", snap.Key(), k)
		}
	}
	if st := h.srv.Stats(); st.Persisted != 2 || st.Sent != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestBroadcast_OnlyResendsOnChange(t *testing.T) {
	h := newHarness(t, testRegistry(t, 1, 2), newHost(weather.RegionKey{}), ObserverPos{ID: "a", X: 10, Z: 10})
	for i := 0; i < 20; i++ {
		h.srv.OnAuthoritativeTick(tickSec)
	}
	if n := len(h.ch.msgs["a"]); n != 1 {
		t.Fatalf("steady region: got %d messages want 1", n)
	}

	// Lifetime is 1s: a transition starts within the next 40 ticks.
	for i := 0; i < 40; i++ {
		h.srv.OnAuthoritativeTick(tickSec)
	}
	msgs := h.ch.msgs["a"]
	if len(msgs) != 2 {
		t.Fatalf("after transition start: got %d messages want 2", len(msgs))
	}
	if !msgs[1].Transitioning || msgs[1].NewPattern.State.Epoch != 1 || msgs[1].Weight != 0 {
		t.Fatalf("transition message: %+v", msgs[1])
	}
}

func TestBroadcast_ResendsAfterDrop(t *testing.T) {
	h := newHarness(t, testRegistry(t, 600, 5), newHost(weather.RegionKey{}), ObserverPos{ID: "a"})
	h.ch.fail = true
	h.srv.OnAuthoritativeTick(tickSec)
	if st := h.srv.Stats(); st.SendDrops != 1 {
		t.Fatalf("drops: %+v", st)
	}
	h.ch.fail = false
	h.srv.OnAuthoritativeTick(tickSec)
	if len(h.ch.msgs["a"]) != 1 {
		t.Fatalf("dropped message not retried: %v", h.ch.msgs)
	}
}

func TestOnWorldSave_EvictsUnloaded(t *testing.T) {
	a, b := weather.RegionKey{X: 0, Z: 0}, weather.RegionKey{X: 1, Z: 0}
	h := newHarness(t, testRegistry(t, 600, 5), newHost(a, b))
	h.srv.OnAuthoritativeTick(tickSec)
	if h.srv.Cache().Len() != 2 {
		t.Fatalf("cache len: %d", h.srv.Cache().Len())
	}

	h.host.loaded[b] = false
	h.srv.OnWorldSave()

	if _, ok := h.srv.Cache().Get(b); ok {
		t.Fatalf("unloaded region still cached")
	}
	if _, ok := h.srv.Cache().Get(a); !ok {
		t.Fatalf("loaded region evicted")
	}
	if _, ok, _ := h.store.Get(b, BlobName); !ok {
		t.Fatalf("evicted region lost its blob")
	}
}

func TestTick_PanicIsolated(t *testing.T) {
	bad, good := weather.RegionKey{X: 0, Z: 0}, weather.RegionKey{X: 3, Z: 3}
	reg := testRegistry(t, 0.05, 0)
	h := &harness{host: newHost(bad, good), obs: &fakeTracker{}, ch: &fakeChannel{}, store: indexdb.NewMemStore()}
	h.srv = NewServer(Config{
		Registry:   reg,
		RegionSize: regionSize,
		Host:       h.host,
		Observers:  h.obs,
		Channel:    h.ch,
		Store:      h.store,
		Sink:       panicSink{bad: bad},
	})
	h.srv.Initialize(7)

	for i := 0; i < 20; i++ {
		h.srv.OnAuthoritativeTick(tickSec)
	}
	if st := h.srv.Stats(); st.TickFailures == 0 {
		t.Fatalf("expected recovered failures: %+v", st)
	}
	r, ok := h.srv.Cache().Get(good)
	if !ok || r.New.Epoch == 0 {
		t.Fatalf("healthy region did not advance: %+v", r)
	}
	if _, ok, _ := h.store.Get(good, BlobName); !ok {
		t.Fatalf("healthy region not persisted")
	}
}

type panicChannel struct {
	fakeChannel
	bad weather.RegionKey
}

func (c *panicChannel) Send(id string, m protocol.WeatherMsg) bool {
	if m.RegionX == c.bad.X && m.RegionZ == c.bad.Z {
		panic("send exploded")
	}
	return c.fakeChannel.Send(id, m)
}

func TestTick_BroadcastPanicIsolated(t *testing.T) {
	bad, good := weather.RegionKey{X: 0, Z: 0}, weather.RegionKey{X: 1, Z: 0}
	ch := &panicChannel{bad: bad}
	store := indexdb.NewMemStore()
	srv := NewServer(Config{
		Registry:      testRegistry(t, 600, 5),
		RegionSize:    regionSize,
		ObserverRange: 1,
		Host:          newHost(bad, good),
		Observers:     &fakeTracker{obs: []ObserverPos{{ID: "o1", X: 10, Z: 10}}},
		Channel:       ch,
		Store:         store,
	})
	srv.Initialize(1337)

	srv.OnAuthoritativeTick(tickSec)

	if st := srv.Stats(); st.TickFailures != 1 {
		t.Fatalf("tick failures: got %d want 1", st.TickFailures)
	}
	msgs := ch.msgs["o1"]
	if len(msgs) != 1 || msgs[0].RegionX != good.X {
		t.Fatalf("got %+v want one message for %v", msgs, good)
	}
	if _, ok, _ := store.Get(good, BlobName); !ok {
		t.Fatalf("healthy region not persisted")
	}
}

func TestRestore_FromBlob(t *testing.T) {
	reg := testRegistry(t, 1, 5)
	key := weather.RegionKey{X: 2, Z: -3}
	h := newHarness(t, reg, newHost(key))
	for i := 0; i < 60; i++ {
		h.srv.OnAuthoritativeTick(tickSec)
	}
	orig, _ := h.srv.Cache().Get(key)
	if !orig.Transitioning {
		t.Fatalf("expected a running transition")
	}

	next := NewServer(Config{Registry: reg, RegionSize: regionSize, Host: newHost(), Store: h.store})
	next.Initialize(1337)
	got, created := next.Cache().GetOrCreate(key)
	if !created {
		t.Fatalf("expected construction")
	}
	if got.State != orig.State {
		t.Fatalf("restored state differs:\n got %+v\nwant %+v", got.State, orig.State)
	}
	if st := next.Stats(); st.Restored != 1 || st.Fresh != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestRestore_CorruptBlobFallsBackToFresh(t *testing.T) {
	reg := testRegistry(t, 600, 5)
	key := weather.RegionKey{X: 3, Z: 7}
	store := indexdb.NewMemStore()
	_ = store.Put(key, BlobName, []byte("garbage"))

	srv := NewServer(Config{Registry: reg, RegionSize: regionSize, Host: newHost(), Store: store})
	srv.Initialize(99)
	got, _ := srv.Cache().GetOrCreate(key)

	want := weather.New(weather.Config{Registry: reg, Seed: 99}, key)
	if got.State != want.State {
		t.Fatalf("fallback state differs:\n got %+v\nwant %+v", got.State, want.State)
	}
	if st := srv.Stats(); st.Fresh != 1 || st.Restored != 0 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestResync_SendsInstantNeighbourhood(t *testing.T) {
	var keys []weather.RegionKey
	for x := int32(-1); x <= 1; x++ {
		for z := int32(-1); z <= 1; z++ {
			keys = append(keys, weather.RegionKey{X: x, Z: z})
		}
	}
	h := newHarness(t, testRegistry(t, 600, 5), newHost(keys...), ObserverPos{ID: "late", X: 100, Z: 100})

	h.srv.Resync("late", 100, 100)
	msgs := h.ch.msgs["late"]
	if len(msgs) != 9 {
		t.Fatalf("resync: got %d messages want 9", len(msgs))
	}
	for _, m := range msgs {
		if !m.UpdateInstant {
			t.Fatalf("resync message not instant: %+v", m)
		}
	}

	// Nothing changed since the resync, so the tick sends nothing new.
	h.srv.OnAuthoritativeTick(tickSec)
	if len(h.ch.msgs["late"]) != 9 {
		t.Fatalf("tick resent unchanged regions: %d", len(h.ch.msgs["late"]))
	}
}

func TestShutdown_PersistsAndStops(t *testing.T) {
	key := weather.RegionKey{X: 1, Z: 1}
	h := newHarness(t, testRegistry(t, 600, 5), newHost(key))
	h.srv.OnAuthoritativeTick(tickSec)
	before := h.srv.Stats().Persisted
	h.srv.Shutdown()
	if h.srv.Stats().Persisted != before+1 {
		t.Fatalf("shutdown did not persist")
	}
	// Calls after shutdown are no-ops.
	h.srv.OnAuthoritativeTick(tickSec)
	h.srv.OnWorldSave()
	if h.srv.Cache() != nil {
		t.Fatalf("cache still present after shutdown")
	}
}
