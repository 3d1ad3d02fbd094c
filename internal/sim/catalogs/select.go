package catalogs

import (
	"fmt"
	"math"

	"voxelweather.ai/internal/sim/mathx"
)

type Kind uint8

const (
	KindWeather Kind = iota + 1
	KindWind
)

func (k Kind) String() string {
	switch k {
	case KindWeather:
		return "weather"
	case KindWind:
		return "wind"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "weather":
		*k = KindWeather
	case "wind":
		*k = KindWind
	default:
		return fmt.Errorf("unknown pattern kind %q", string(b))
	}
	return nil
}

// Selection is the outcome of one pick. It carries everything a fresh
// pattern state needs so that re-deriving it never requires RNG state.
type Selection struct {
	Index     int32
	Lifetime  float64
	Intensity float64
	Direction float64
}

// Independent hash lanes so the pick, lifetime, intensity and direction do
// not correlate.
const (
	saltWeather uint64 = 0x57ea7e1a5eed0001
	saltWind    uint64 = 0x0000517d5eed0002

	laneIndex     uint64 = 0
	laneLifetime  uint64 = 0x632be59bd9b4e019
	laneIntensity uint64 = 0x8cb92ba72f3d8dd7
	laneDirection uint64 = 0xd6e8feb86659fd93
)

func lane(seed int64, salt, l uint64, x, epoch, z int) float64 {
	s := int64(uint64(seed) ^ salt ^ l)
	return mathx.Unit(mathx.Hash3(s, x, epoch, z))
}

// Select is a pure function of (seed, region, epoch): a weighted random pick
// among patterns with weight > 0.
func (r *Registry) Select(kind Kind, seed int64, x, z int, epoch uint32) Selection {
	salt := saltWeather
	var weights []float64
	var lifetimes []Lifetime
	switch kind {
	case KindWind:
		salt = saltWind
		weights = make([]float64, len(r.Wind))
		lifetimes = make([]Lifetime, len(r.Wind))
		for i, d := range r.Wind {
			weights[i] = d.Weight
			lifetimes[i] = d.Lifetime
		}
	default:
		weights = make([]float64, len(r.Weather))
		lifetimes = make([]Lifetime, len(r.Weather))
		for i, d := range r.Weather {
			weights[i] = d.Weight
			lifetimes[i] = d.Lifetime
		}
	}

	e := int(epoch)
	idx := pickWeighted(weights, lane(seed, salt, laneIndex, x, e, z))
	return Selection{
		Index:     int32(idx),
		Lifetime:  lifetimeAt(lifetimes[idx], lane(seed, salt, laneLifetime, x, e, z)),
		Intensity: lane(seed, salt, laneIntensity, x, e, z),
		Direction: lane(seed, salt, laneDirection, x, e, z) * 2 * math.Pi,
	}
}

func pickWeighted(weights []float64, u float64) int {
	total := 0.0
	last := -1
	for i, w := range weights {
		if w > 0 {
			total += w
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	target := u * total
	acc := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if target < acc {
			return i
		}
	}
	return last
}

func lifetimeAt(l Lifetime, u float64) float64 {
	if l.Mode != LifetimeUniform || l.VarSeconds <= 0 {
		return l.AvgSeconds
	}
	v := l.AvgSeconds + l.VarSeconds*(2*u-1)
	// A zero lifetime would reselect every tick.
	if v < 1 {
		v = 1
	}
	return v
}
