package authority

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"voxelweather.ai/internal/persistence/indexdb"
	"voxelweather.ai/internal/persistence/snapshot"
	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/regions"
	"voxelweather.ai/internal/sim/weather"
)

// BlobName is the store entry holding a region's weather state.
const BlobName = "weather"

type ObserverPos struct {
	ID      string
	X, Y, Z float64
}

// RegionHost reports which regions the world currently has loaded.
type RegionHost interface {
	LoadedRegions() []weather.RegionKey
	IsLoaded(key weather.RegionKey) bool
}

type ObserverTracker interface {
	Observers() []ObserverPos
}

// Channel delivers a message to one observer. It reports false when the
// message was dropped.
type Channel interface {
	Send(observerID string, msg protocol.WeatherMsg) bool
}

type Config struct {
	Registry      *catalogs.Registry
	RegionSize    int
	ObserverRange int

	Host      RegionHost
	Observers ObserverTracker
	Channel   Channel
	Store     indexdb.Store
	Sink      weather.EventSink
	Logger    *log.Logger
}

// signature identifies what an observer already knows about a region. Clocks
// are left out: observers advance them locally.
type signature struct {
	old, new, wind    int32
	oldE, newE, windE uint32
	transitioning     bool
}

func signatureOf(r *weather.Region) signature {
	return signature{
		old: r.Old.Index, oldE: r.Old.Epoch,
		new: r.New.Index, newE: r.New.Epoch,
		wind: r.Wind.Index, windE: r.Wind.Epoch,
		transitioning: r.Transitioning,
	}
}

type Stats struct {
	Ticks         uint64 `json:"ticks"`
	Regions       int    `json:"regions"`
	Sent          uint64 `json:"sent"`
	SendDrops     uint64 `json:"send_drops"`
	Persisted     uint64 `json:"persisted"`
	PersistErrors uint64 `json:"persist_errors"`
	Restored      uint64 `json:"restored"`
	Fresh         uint64 `json:"fresh"`
	TickFailures  uint64 `json:"tick_failures"`
}

// Server is the authoritative side of weather sync. All methods except
// Stats must be called from the owning tick goroutine.
type Server struct {
	cfg   Config
	log   *log.Logger
	seed  int64
	cache *regions.Cache

	sent map[string]map[weather.RegionKey]signature

	ticks         atomic.Uint64
	regions       atomic.Int64
	sentTotal     atomic.Uint64
	sendDrops     atomic.Uint64
	persisted     atomic.Uint64
	persistErrors atomic.Uint64
	restored      atomic.Uint64
	fresh         atomic.Uint64
	tickFailures  atomic.Uint64
}

func NewServer(cfg Config) *Server {
	if cfg.ObserverRange < 0 {
		cfg.ObserverRange = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:  cfg,
		log:  logger,
		sent: map[string]map[weather.RegionKey]signature{},
	}
}

// Initialize starts a session with the given world seed.
func (s *Server) Initialize(seed int64) {
	s.seed = seed
	s.cache = regions.NewCache(s.loadRegion)
	s.sent = map[string]map[weather.RegionKey]signature{}
}

func (s *Server) Cache() *regions.Cache { return s.cache }

func (s *Server) regionConfig() weather.Config {
	return weather.Config{
		Registry: s.cfg.Registry,
		Seed:     s.seed,
		Role:     weather.RoleAuthority,
		Sink:     s.cfg.Sink,
	}
}

// loadRegion restores a region from its stored blob, falling back to a fresh
// selection when there is none or it cannot be used.
func (s *Server) loadRegion(key weather.RegionKey) *weather.Region {
	cfg := s.regionConfig()
	if s.cfg.Store != nil {
		r, err := s.restore(key, cfg)
		switch {
		case err != nil:
			s.log.Printf("region %v: restore failed, using fresh state: %v", key, err)
		case r != nil:
			s.restored.Add(1)
			return r
		}
	}
	s.fresh.Add(1)
	return weather.New(cfg, key)
}

func (s *Server) restore(key weather.RegionKey, cfg weather.Config) (*weather.Region, error) {
	b, ok, err := s.cfg.Store.Get(key, BlobName)
	if err != nil || !ok {
		return nil, err
	}
	snap, err := snapshot.DecodeRegion(b)
	if err != nil {
		return nil, err
	}
	if snap.Key() != key {
		return nil, fmt.Errorf("blob is for region %v", snap.Key())
	}
	return snapshot.RestoreRegion(snap, cfg)
}

// OnAuthoritativeTick advances every loaded region and pushes its state.
func (s *Server) OnAuthoritativeTick(elapsed float64) {
	if s.cache == nil {
		return
	}
	s.ticks.Add(1)
	for _, key := range sortedKeys(s.cfg.Host.LoadedRegions()) {
		if err := s.tickRegion(key, elapsed); err != nil {
			s.tickFailures.Add(1)
			s.log.Printf("region %v: tick failed: %v", key, err)
		}
	}
	s.regions.Store(int64(s.cache.Len()))
}

// tickRegion advances and broadcasts one region. A panic anywhere in that
// update is returned as an error.
func (s *Server) tickRegion(key weather.RegionKey, elapsed float64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	r, _ := s.cache.GetOrCreate(key)
	r.Tick(elapsed)
	s.BroadcastRegionState(key)
	return nil
}

// BroadcastRegionState sends the region to observers within range and
// persists it. The region itself is not modified.
func (s *Server) BroadcastRegionState(key weather.RegionKey) {
	r, ok := s.cache.Get(key)
	if !ok {
		return
	}
	sig := signatureOf(r)
	var msg *protocol.WeatherMsg
	for _, o := range s.observers() {
		known := s.sent[o.ID]
		if s.observerRegion(o).Chebyshev(key) > s.cfg.ObserverRange {
			delete(known, key)
			continue
		}
		if prev, ok := known[key]; ok && prev == sig {
			continue
		}
		if msg == nil {
			m := r.Message(false)
			msg = &m
		}
		s.deliver(o.ID, key, sig, *msg)
	}
	s.persist(r)
}

func (s *Server) deliver(observerID string, key weather.RegionKey, sig signature, msg protocol.WeatherMsg) {
	if s.cfg.Channel == nil {
		return
	}
	if !s.cfg.Channel.Send(observerID, msg) {
		s.sendDrops.Add(1)
		return
	}
	s.sentTotal.Add(1)
	known := s.sent[observerID]
	if known == nil {
		known = map[weather.RegionKey]signature{}
		s.sent[observerID] = known
	}
	known[key] = sig
}

func (s *Server) persist(r *weather.Region) {
	if s.cfg.Store == nil {
		return
	}
	b, err := snapshot.EncodeRegion(r)
	if err == nil {
		err = s.cfg.Store.Put(r.Key, BlobName, b)
	}
	if err != nil {
		s.persistErrors.Add(1)
		s.log.Printf("region %v: persist: %v", r.Key, err)
		return
	}
	s.persisted.Add(1)
}

// OnWorldSave writes regions the host still has loaded and evicts the rest.
func (s *Server) OnWorldSave() {
	if s.cache == nil {
		return
	}
	evicted := 0
	for _, key := range s.cache.Keys() {
		if s.cfg.Host.IsLoaded(key) {
			if r, ok := s.cache.Get(key); ok {
				s.persist(r)
			}
			continue
		}
		s.cache.Evict(key)
		for _, known := range s.sent {
			delete(known, key)
		}
		evicted++
	}
	s.regions.Store(int64(s.cache.Len()))
	if evicted > 0 {
		s.log.Printf("save: evicted %d unloaded regions, %d cached", evicted, s.cache.Len())
	}
}

// Shutdown persists every cached region and ends the session.
func (s *Server) Shutdown() {
	if s.cache == nil {
		return
	}
	for _, key := range s.cache.Keys() {
		if r, ok := s.cache.Get(key); ok {
			s.persist(r)
		}
	}
	s.log.Printf("shutdown: persisted %d regions", s.cache.Len())
	s.cache = nil
	s.sent = map[string]map[weather.RegionKey]signature{}
}

// Resync pushes an instant update for every region within observer range of
// (x, z) so a late joiner snaps to the current state.
func (s *Server) Resync(observerID string, x, z float64) {
	if s.cache == nil {
		return
	}
	center := weather.KeyAt(x, z, s.cfg.RegionSize)
	n := int32(s.cfg.ObserverRange)
	for dx := -n; dx <= n; dx++ {
		for dz := -n; dz <= n; dz++ {
			key := weather.RegionKey{X: center.X + dx, Z: center.Z + dz}
			r, ok := s.cache.Get(key)
			if !ok {
				if !s.cfg.Host.IsLoaded(key) {
					continue
				}
				r, _ = s.cache.GetOrCreate(key)
			}
			s.deliver(observerID, key, signatureOf(r), r.Message(true))
		}
	}
}

// Forget drops what was sent to an observer that left.
func (s *Server) Forget(observerID string) {
	delete(s.sent, observerID)
}

func (s *Server) Stats() Stats {
	return Stats{
		Ticks:         s.ticks.Load(),
		Regions:       int(s.regions.Load()),
		Sent:          s.sentTotal.Load(),
		SendDrops:     s.sendDrops.Load(),
		Persisted:     s.persisted.Load(),
		PersistErrors: s.persistErrors.Load(),
		Restored:      s.restored.Load(),
		Fresh:         s.fresh.Load(),
		TickFailures:  s.tickFailures.Load(),
	}
}

func (s *Server) observers() []ObserverPos {
	if s.cfg.Observers == nil {
		return nil
	}
	return s.cfg.Observers.Observers()
}

func (s *Server) observerRegion(o ObserverPos) weather.RegionKey {
	return weather.KeyAt(o.X, o.Z, s.cfg.RegionSize)
}

func sortedKeys(keys []weather.RegionKey) []weather.RegionKey {
	out := append([]weather.RegionKey(nil), keys...)
	regions.SortKeys(out)
	return out
}
