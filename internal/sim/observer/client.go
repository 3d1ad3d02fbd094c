package observer

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/blend"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/mathx"
	"voxelweather.ai/internal/sim/regions"
	"voxelweather.ai/internal/sim/weather"
)

// LightSampler reports sunlight at a world position.
type LightSampler interface {
	SunLight(x, y, z float64) float64
}

type LightFunc func(x, y, z float64) float64

func (f LightFunc) SunLight(x, y, z float64) float64 { return f(x, y, z) }

type Config struct {
	Registry     *catalogs.Registry
	Seed         int64
	RegionSize   int
	SeaLevel     float64
	FogFullLight float64
	Sink         weather.EventSink
	Logger       *log.Logger
}

// Frame is what renderers and audio read once per frame.
type Frame struct {
	Outputs       weather.Outputs
	WindSpeed     float64
	Rainfall      float64
	FogMultiplier float64
	// Instant is set on the first frame after an instant update; smoothing
	// state snapped to its targets on that frame.
	Instant bool
}

type Stats struct {
	Applied      uint64
	Rejected     uint64
	TickFailures uint64
	Queued       int
	Regions      int
}

// Client is the observer side of weather sync. Enqueue may be called from any
// goroutine; everything else belongs to the observer's tick goroutine.
type Client struct {
	cfg   Config
	log   *log.Logger
	cache *regions.Cache

	mu    sync.Mutex
	queue []protocol.WeatherMsg

	last map[weather.RegionKey]protocol.WeatherMsg

	instant       bool
	smoothedLight float64
	windSpeed     float64
	primed        bool

	applied      atomic.Uint64
	rejected     atomic.Uint64
	tickFailures atomic.Uint64
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		cfg:  cfg,
		log:  logger,
		last: map[weather.RegionKey]protocol.WeatherMsg{},
	}
	c.cache = regions.NewCache(func(key weather.RegionKey) *weather.Region {
		return weather.New(weather.Config{
			Registry: cfg.Registry,
			Seed:     cfg.Seed,
			Role:     weather.RoleObserver,
			Sink:     cfg.Sink,
		}, key)
	})
	return c
}

func (c *Client) Regions() *regions.Cache { return c.cache }

func (c *Client) Enqueue(msg protocol.WeatherMsg) {
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
}

// OnObserverTick applies every queued message in arrival order, then advances
// all cached regions.
func (c *Client) OnObserverTick(elapsed float64) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, msg := range pending {
		if err := c.safeApply(msg); err != nil {
			c.rejected.Add(1)
			c.log.Printf("region %d/%d: rejected update: %v", msg.RegionX, msg.RegionZ, err)
			continue
		}
		c.applied.Add(1)
	}
	c.cache.Range(func(r *weather.Region) bool {
		if err := tickRegion(r, elapsed); err != nil {
			c.tickFailures.Add(1)
			c.log.Printf("region %v: tick failed: %v", r.Key, err)
		}
		return true
	})
}

func (c *Client) safeApply(msg protocol.WeatherMsg) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.apply(msg)
}

func tickRegion(r *weather.Region, elapsed float64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	r.Tick(elapsed)
	return nil
}

func (c *Client) apply(msg protocol.WeatherMsg) error {
	reg := c.cfg.Registry
	if !reg.ValidWeather(msg.OldPattern.Index) || !reg.ValidWeather(msg.NewPattern.Index) {
		return fmt.Errorf("%w: weather %d -> %d", weather.ErrBadPatternIndex, msg.OldPattern.Index, msg.NewPattern.Index)
	}
	if !reg.ValidWind(msg.WindPattern.Index) {
		return fmt.Errorf("%w: wind %d", weather.ErrBadPatternIndex, msg.WindPattern.Index)
	}

	key := weather.RegionKey{X: msg.RegionX, Z: msg.RegionZ}
	if prev, ok := c.last[key]; ok && prev == msg {
		return nil
	}

	r, created := c.cache.GetOrCreate(key)
	prev := r.State

	s := r.State
	s.Old = weather.PatternFromWire(msg.OldPattern)
	s.New = weather.PatternFromWire(msg.NewPattern)
	s.Weight = float64(msg.Weight)
	s.Transitioning = msg.Transitioning
	s.TransitionDelay = float64(msg.TransitionDelay)

	wind := weather.PatternFromWire(msg.WindPattern)
	windChanged := wind.Index != prev.Wind.Index || wind.Epoch != prev.Wind.Epoch
	if created || msg.UpdateInstant || !windChanged {
		// Same pattern: take the authoritative clock, keep any local ease.
		s.Wind = wind
		if created || msg.UpdateInstant {
			s.OldWind = wind
			s.WindWeight = 1
			s.WindTransitioning = false
			s.WindTransitionDelay = 0
		}
	}

	if msg.Transitioning {
		s.Weight = 0
	}
	if msg.UpdateInstant {
		s.Weight = 1
		s.Transitioning = false
		s.TransitionDelay = 0
		s.Old = s.New
	}
	if err := r.SetState(s); err != nil {
		return err
	}
	if windChanged && !created && !msg.UpdateInstant {
		r.StartWindEase(wind)
	}
	c.last[key] = msg

	switch {
	case msg.UpdateInstant:
		r.AnnounceBeginUse(true)
		c.instant = true
	case (msg.Transitioning || !created) && (prev.New.Index != s.New.Index || prev.New.Epoch != s.New.Epoch):
		// Zero-length transitions arrive already collapsed.
		r.AnnounceBeginUse(false)
	}
	return nil
}

// Frame blends the regions around (x, z) and advances frame smoothing by dt.
func (c *Client) Frame(x, y, z, dt float64, light LightSampler) Frame {
	out := blend.Evaluate(c.cache, c.cfg.RegionSize, x, z)

	l := c.cfg.FogFullLight
	if light != nil {
		l = light.SunLight(x, y, z)
	}

	f := Frame{Outputs: out, Rainfall: out.Rainfall}
	if c.instant || !c.primed {
		f.Instant = c.instant
		c.instant = false
		c.primed = true
		c.smoothedLight = l
		c.windSpeed = out.WindSpeed
	} else if dt > 0 {
		c.smoothedLight += (l - c.smoothedLight) * mathx.Clamp01(dt*4)
		c.windSpeed += (out.WindSpeed - c.windSpeed) * mathx.Clamp(dt, 0, 0.5)
	}
	f.WindSpeed = c.windSpeed

	lightMul := 1.0
	if c.cfg.FogFullLight > 0 {
		lightMul = mathx.Clamp01(c.smoothedLight / c.cfg.FogFullLight)
	}
	heightMul := 1.0
	if c.cfg.SeaLevel > 0 {
		heightMul = mathx.Clamp01(y / c.cfg.SeaLevel)
	}
	f.FogMultiplier = lightMul * heightMul * heightMul
	return f
}

// Prune drops regions farther than radius (region grid) from the observer.
func (c *Client) Prune(x, z float64, radius int) int {
	center := weather.KeyAt(x, z, c.cfg.RegionSize)
	n := 0
	for _, k := range c.cache.Keys() {
		if k.Chebyshev(center) > radius {
			c.cache.Evict(k)
			delete(c.last, k)
			n++
		}
	}
	return n
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	q := len(c.queue)
	c.mu.Unlock()
	return Stats{
		Applied:      c.applied.Load(),
		Rejected:     c.rejected.Load(),
		TickFailures: c.tickFailures.Load(),
		Queued:       q,
		Regions:      c.cache.Len(),
	}
}
