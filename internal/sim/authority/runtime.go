package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"voxelweather.ai/internal/persistence/indexdb"
	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
)

type JoinRequest struct {
	Name string
	Pos  [3]float64
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type MoveRequest struct {
	ObserverID string
	Pos        [3]float64
}

type saveReq struct {
	done chan struct{}
}

type RuntimeConfig struct {
	Tuning   tuning.Tuning
	Registry *catalogs.Registry
	Store    indexdb.Store
	Sink     weather.EventSink
	Logger   *log.Logger
}

type observerConn struct {
	id   string
	name string
	pos  [3]float64
	out  chan []byte
}

// Runtime is the single-threaded authoritative loop. Observer presence and the
// region cache are only touched from the Run goroutine.
type Runtime struct {
	cfg    RuntimeConfig
	log    *log.Logger
	server *Server
	tracer trace.Tracer

	join  chan JoinRequest
	leave chan string
	move  chan MoveRequest
	save  chan saveReq
	stop  chan struct{}

	observers map[string]*observerConn
	loaded    map[weather.RegionKey]struct{}

	nextObserver atomic.Uint64
	tick         atomic.Uint64
	metrics      atomic.Value
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	rt := &Runtime{
		cfg:       cfg,
		log:       logger,
		tracer:    otel.Tracer("voxelweather.ai/authority"),
		join:      make(chan JoinRequest, 64),
		leave:     make(chan string, 64),
		move:      make(chan MoveRequest, 1024),
		save:      make(chan saveReq, 4),
		stop:      make(chan struct{}),
		observers: map[string]*observerConn{},
		loaded:    map[weather.RegionKey]struct{}{},
	}
	rt.server = NewServer(Config{
		Registry:      cfg.Registry,
		RegionSize:    cfg.Tuning.RegionSize,
		ObserverRange: cfg.Tuning.ObserverRange,
		Host:          rt,
		Observers:     rt,
		Channel:       rt,
		Store:         cfg.Store,
		Sink:          cfg.Sink,
		Logger:        logger,
	})
	rt.server.Initialize(cfg.Tuning.Seed)
	rt.refreshLoaded()
	return rt
}

func (rt *Runtime) Join() chan<- JoinRequest     { return rt.join }
func (rt *Runtime) Leave() chan<- string         { return rt.leave }
func (rt *Runtime) Move() chan<- MoveRequest     { return rt.move }
func (rt *Runtime) Server() *Server              { return rt.server }
func (rt *Runtime) Stop()                        { close(rt.stop) }
func (rt *Runtime) Tuning() tuning.Tuning        { return rt.cfg.Tuning }
func (rt *Runtime) Registry() *catalogs.Registry { return rt.cfg.Registry }

// Save asks the loop to run a world save at the next tick boundary and waits
// for it to finish.
func (rt *Runtime) Save(ctx context.Context) error {
	req := saveReq{done: make(chan struct{})}
	select {
	case rt.save <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rt *Runtime) Run(ctx context.Context) error {
	interval := time.Duration(rt.cfg.Tuning.TickMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer rt.server.Shutdown()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingMoves []MoveRequest
	var pendingSaves []saveReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.stop:
			return nil
		case req := <-rt.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-rt.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-rt.move:
			pendingMoves = append(pendingMoves, req)
		case req := <-rt.save:
			pendingSaves = append(pendingSaves, req)
		case <-ticker.C:
			rt.step(ctx, pendingJoins, pendingLeaves, pendingMoves, pendingSaves)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingMoves = pendingMoves[:0]
			pendingSaves = pendingSaves[:0]
		}
	}
}

func (rt *Runtime) step(ctx context.Context, joins []JoinRequest, leaves []string, moves []MoveRequest, saves []saveReq) {
	start := time.Now()
	tick := rt.tick.Load()
	_, span := rt.tracer.Start(ctx, "authority.step", trace.WithAttributes(
		attribute.Int64("tick", int64(tick)),
		attribute.Int("joins", len(joins)),
		attribute.Int("leaves", len(leaves)),
	))
	defer span.End()

	for _, id := range leaves {
		rt.handleLeave(id)
	}
	var joined []*observerConn
	for _, req := range joins {
		if o := rt.handleJoin(req); o != nil {
			joined = append(joined, o)
		}
	}
	for _, m := range moves {
		if o := rt.observers[m.ObserverID]; o != nil {
			o.pos = m.Pos
		}
	}
	rt.refreshLoaded()

	for _, o := range joined {
		rt.server.Resync(o.id, o.pos[0], o.pos[2])
	}
	rt.server.OnAuthoritativeTick(rt.cfg.Tuning.TickSeconds())

	every := uint64(rt.cfg.Tuning.SaveEveryTicks)
	if len(saves) > 0 || (every > 0 && tick > 0 && tick%every == 0) {
		rt.server.OnWorldSave()
	}
	for _, s := range saves {
		close(s.done)
	}

	rt.tick.Add(1)
	st := rt.server.Stats()
	span.SetAttributes(attribute.Int("regions", st.Regions))
	rt.metrics.Store(Metrics{
		Tick:          tick,
		Observers:     len(rt.observers),
		LoadedRegions: len(rt.loaded),
		CachedRegions: st.Regions,
		QueueDepths: QueueDepths{
			Join:  len(rt.join),
			Leave: len(rt.leave),
			Move:  len(rt.move),
			Save:  len(rt.save),
		},
		StepMS: float64(time.Since(start).Microseconds()) / 1000,
		Server: st,
	})
}

func (rt *Runtime) handleJoin(req JoinRequest) *observerConn {
	n := rt.nextObserver.Add(1)
	name := req.Name
	if name == "" {
		name = "observer"
	}
	o := &observerConn{
		id:   fmt.Sprintf("O%d", n),
		name: name,
		pos:  req.Pos,
		out:  req.Out,
	}
	rt.observers[o.id] = o

	t := rt.cfg.Tuning
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ObserverID:      o.id,
		WorldParams: protocol.WorldParams{
			Seed:          t.Seed,
			RegionSize:    t.RegionSize,
			TickMS:        t.TickMs,
			ObserverRange: t.ObserverRange,
		},
		Catalogs: protocol.CatalogDigests{
			WeatherDigest: rt.cfg.Registry.WeatherDigest,
			WindDigest:    rt.cfg.Registry.WindDigest,
			TuningDigest:  t.Digest(),
		},
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: welcome}
	}
	rt.log.Printf("observer %s (%s) joined at %v", o.id, o.name, weather.KeyAt(o.pos[0], o.pos[2], t.RegionSize))
	return o
}

func (rt *Runtime) handleLeave(id string) {
	if _, ok := rt.observers[id]; !ok {
		return
	}
	delete(rt.observers, id)
	rt.server.Forget(id)
	rt.log.Printf("observer %s left", id)
}

// refreshLoaded recomputes the loaded set: regions near any observer plus a
// fixed area around the origin.
func (rt *Runtime) refreshLoaded() {
	t := rt.cfg.Tuning
	loaded := map[weather.RegionKey]struct{}{}
	addAround := func(c weather.RegionKey, r int32) {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				loaded[weather.RegionKey{X: c.X + dx, Z: c.Z + dz}] = struct{}{}
			}
		}
	}
	addAround(weather.RegionKey{}, int32(t.SpawnRadius))
	for _, o := range rt.observers {
		addAround(weather.KeyAt(o.pos[0], o.pos[2], t.RegionSize), int32(t.LoadRadius))
	}
	rt.loaded = loaded
}

func (rt *Runtime) LoadedRegions() []weather.RegionKey {
	out := make([]weather.RegionKey, 0, len(rt.loaded))
	for k := range rt.loaded {
		out = append(out, k)
	}
	return out
}

func (rt *Runtime) IsLoaded(key weather.RegionKey) bool {
	_, ok := rt.loaded[key]
	return ok
}

func (rt *Runtime) Observers() []ObserverPos {
	out := make([]ObserverPos, 0, len(rt.observers))
	for _, o := range rt.observers {
		out = append(out, ObserverPos{ID: o.id, X: o.pos[0], Y: o.pos[1], Z: o.pos[2]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Send marshals msg onto the observer's outbound queue without blocking.
func (rt *Runtime) Send(observerID string, msg protocol.WeatherMsg) bool {
	o := rt.observers[observerID]
	if o == nil || o.out == nil {
		return false
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return trySend(o.out, b)
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
