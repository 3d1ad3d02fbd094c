package weather

import (
	"errors"
	"fmt"
	"math"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/mathx"
)

var ErrBadPatternIndex = errors.New("pattern index out of range")

type Role uint8

const (
	// RoleAuthority selects new patterns when lifetimes run out.
	RoleAuthority Role = iota + 1
	// RoleObserver only advances clocks and blends; pattern changes arrive
	// over the wire.
	RoleObserver
)

type RegionKey struct {
	X int32
	Z int32
}

// KeyAt maps a world position to the region containing it.
func KeyAt(x, z float64, regionSize int) RegionKey {
	s := float64(regionSize)
	return RegionKey{X: int32(mathx.FloorToInt(x / s)), Z: int32(mathx.FloorToInt(z / s))}
}

// Chebyshev returns the region-grid distance max(|dx|,|dz|).
func (k RegionKey) Chebyshev(o RegionKey) int {
	dx := mathx.AbsInt(int(k.X) - int(o.X))
	dz := mathx.AbsInt(int(k.Z) - int(o.Z))
	if dx > dz {
		return dx
	}
	return dz
}

func (k RegionKey) String() string { return fmt.Sprintf("%d/%d", k.X, k.Z) }

type PatternState struct {
	Index     int32
	Epoch     uint32  // selection epoch this state was derived from
	Age       float64 // seconds since selection
	Lifetime  float64 // seconds
	Intensity float64 // [0,1)
	Direction float64 // radians, wind only
}

func stateFrom(sel catalogs.Selection, epoch uint32) PatternState {
	return PatternState{
		Index:     sel.Index,
		Epoch:     epoch,
		Lifetime:  sel.Lifetime,
		Intensity: sel.Intensity,
		Direction: sel.Direction,
	}
}

// State holds every mutable field of a region. It is what gets persisted and
// (partially) synchronized.
type State struct {
	Old             PatternState
	New             PatternState
	Weight          float64
	Transitioning   bool
	TransitionDelay float64 // seconds remaining

	Wind                PatternState
	OldWind             PatternState
	WindWeight          float64
	WindTransitioning   bool
	WindTransitionDelay float64
}

type Config struct {
	Registry *catalogs.Registry
	Seed     int64
	Role     Role
	Sink     EventSink
}

// Region is the weather state machine for one region. Not safe for
// concurrent mutation; the owning tick loop is the only writer.
type Region struct {
	Key RegionKey
	State

	reg  *catalogs.Registry
	seed int64
	role Role
	sink EventSink
}

// New creates a steady region whose patterns come from epoch 0 of the
// selection policy.
func New(cfg Config, key RegionKey) *Region {
	r := &Region{
		Key:  key,
		reg:  cfg.Registry,
		seed: cfg.Seed,
		role: cfg.Role,
		sink: cfg.Sink,
	}
	if r.role == 0 {
		r.role = RoleAuthority
	}
	we := stateFrom(r.reg.Select(catalogs.KindWeather, r.seed, int(key.X), int(key.Z), 0), 0)
	wi := stateFrom(r.reg.Select(catalogs.KindWind, r.seed, int(key.X), int(key.Z), 0), 0)
	r.State = State{
		Old:        we,
		New:        we,
		Weight:     1,
		Wind:       wi,
		OldWind:    wi,
		WindWeight: 1,
	}
	return r
}

func (r *Region) Role() Role                   { return r.role }
func (r *Region) Registry() *catalogs.Registry { return r.reg }

// SetState replaces all mutable fields after checking every index against the
// registry. On error the region is left untouched.
func (r *Region) SetState(s State) error {
	if err := r.check(s); err != nil {
		return err
	}
	s.Weight = clampWeight(s.Weight)
	s.WindWeight = clampWeight(s.WindWeight)
	if !(s.TransitionDelay > 0) {
		s.TransitionDelay = 0
	}
	if !(s.WindTransitionDelay > 0) {
		s.WindTransitionDelay = 0
	}
	r.State = s
	return nil
}

func (r *Region) check(s State) error {
	if !r.reg.ValidWeather(s.Old.Index) {
		return fmt.Errorf("%w: old weather %d", ErrBadPatternIndex, s.Old.Index)
	}
	if !r.reg.ValidWeather(s.New.Index) {
		return fmt.Errorf("%w: new weather %d", ErrBadPatternIndex, s.New.Index)
	}
	if !r.reg.ValidWind(s.Wind.Index) {
		return fmt.Errorf("%w: wind %d", ErrBadPatternIndex, s.Wind.Index)
	}
	if !r.reg.ValidWind(s.OldWind.Index) {
		return fmt.Errorf("%w: old wind %d", ErrBadPatternIndex, s.OldWind.Index)
	}
	return nil
}

// Validate reports whether the current state resolves against the registry
// and both weights lie in [0,1].
func (r *Region) Validate() error {
	if err := r.check(r.State); err != nil {
		return err
	}
	if !(r.Weight >= 0 && r.Weight <= 1) || !(r.WindWeight >= 0 && r.WindWeight <= 1) {
		return fmt.Errorf("weight out of range: weather=%v wind=%v", r.Weight, r.WindWeight)
	}
	return nil
}

func clampWeight(w float64) float64 {
	if math.IsNaN(w) {
		return 0
	}
	return mathx.Clamp01(w)
}

// Tick advances the region by elapsed seconds.
func (r *Region) Tick(elapsed float64) {
	if !(elapsed > 0) || math.IsInf(elapsed, 0) {
		return
	}
	r.tickWind(elapsed)
	r.tickWeather(elapsed)
}

func (r *Region) tickWeather(elapsed float64) {
	r.New.Age += elapsed
	if r.Transitioning {
		r.Weight, r.TransitionDelay, r.Transitioning = advance(r.Weight, r.TransitionDelay, elapsed)
		if !r.Transitioning {
			r.Old = r.New
		}
		return
	}
	r.Weight = 1
	if r.role == RoleAuthority && r.New.Age >= r.New.Lifetime {
		r.beginWeatherTransition()
	}
}

func (r *Region) tickWind(elapsed float64) {
	r.Wind.Age += elapsed
	if r.WindTransitioning {
		r.WindWeight, r.WindTransitionDelay, r.WindTransitioning = advance(r.WindWeight, r.WindTransitionDelay, elapsed)
		if !r.WindTransitioning {
			r.OldWind = r.Wind
		}
		return
	}
	r.WindWeight = 1
	if r.role == RoleAuthority && r.Wind.Age >= r.Wind.Lifetime {
		r.beginWindTransition()
	}
}

// advance moves weight toward 1 so that it lands there exactly when the
// remaining delay runs out. Starting from 0 with delay=duration this is a
// linear ramp of elapsed/duration per tick.
func advance(weight, delay, elapsed float64) (float64, float64, bool) {
	const eps = 1e-9
	if delay <= elapsed+eps {
		return 1, 0, false
	}
	weight += (1 - weight) * elapsed / delay
	return clampWeight(weight), delay - elapsed, true
}

func (r *Region) beginWeatherTransition() {
	epoch := r.New.Epoch + 1
	next := stateFrom(r.reg.Select(catalogs.KindWeather, r.seed, int(r.Key.X), int(r.Key.Z), epoch), epoch)
	def, _ := r.reg.WeatherDef(next.Index)

	r.Old = r.New
	r.New = next
	r.Weight = 0
	r.Transitioning = true
	r.TransitionDelay = def.TransitionSeconds
	r.emit(catalogs.KindWeather, next.Index, false)

	if r.TransitionDelay <= 0 {
		r.collapseWeather()
	}
}

func (r *Region) beginWindTransition() {
	epoch := r.Wind.Epoch + 1
	next := stateFrom(r.reg.Select(catalogs.KindWind, r.seed, int(r.Key.X), int(r.Key.Z), epoch), epoch)
	r.StartWindEase(next)
	r.emit(catalogs.KindWind, next.Index, false)
}

// StartWindEase makes next the current wind and blends in from the previous
// one over next's configured transition time.
func (r *Region) StartWindEase(next PatternState) {
	def, _ := r.reg.WindDef(next.Index)
	r.OldWind = r.Wind
	r.Wind = next
	r.WindWeight = 0
	r.WindTransitioning = true
	r.WindTransitionDelay = def.TransitionSeconds
	if r.WindTransitionDelay <= 0 {
		r.collapseWind()
	}
}

func (r *Region) collapseWeather() {
	r.Weight = 1
	r.Transitioning = false
	r.TransitionDelay = 0
	r.Old = r.New
}

func (r *Region) collapseWind() {
	r.WindWeight = 1
	r.WindTransitioning = false
	r.WindTransitionDelay = 0
	r.OldWind = r.Wind
}

// Collapse finishes any running weather and wind transition immediately.
func (r *Region) Collapse() {
	r.collapseWeather()
	r.collapseWind()
}

// AnnounceBeginUse fires the begin-use event for the current New pattern.
func (r *Region) AnnounceBeginUse(instant bool) {
	r.emit(catalogs.KindWeather, r.New.Index, instant)
}

func (r *Region) emit(kind catalogs.Kind, index int32, instant bool) {
	if r.sink == nil {
		return
	}
	ev := Event{Region: r.Key, Kind: kind, Index: index, Instant: instant}
	switch kind {
	case catalogs.KindWind:
		if d, ok := r.reg.WindDef(index); ok {
			ev.Code = d.Code
		}
	default:
		if d, ok := r.reg.WeatherDef(index); ok {
			ev.Code = d.Code
		}
	}
	r.sink.BeginUse(ev)
}
