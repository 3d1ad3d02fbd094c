package blend

import (
	"voxelweather.ai/internal/sim/mathx"
	"voxelweather.ai/internal/sim/regions"
	"voxelweather.ai/internal/sim/weather"
)

// Neighbor is one corner of a bilinear query. A nil Region means Absent:
// the region has not been simulated here and contributes neutral outputs.
type Neighbor struct {
	Key    weather.RegionKey
	Region *weather.Region
}

func (n Neighbor) Present() bool { return n.Region != nil }

func (n Neighbor) Outputs() weather.Outputs {
	if n.Region == nil {
		return weather.NeutralOutputs()
	}
	return n.Region.Outputs()
}

// NeighborSet holds corners in the order (x,z), (x+1,z), (x,z+1), (x+1,z+1).
type NeighborSet struct {
	Corners [4]Neighbor
	LerpX   float64
	LerpZ   float64
}

// Lookup is the read side of a region cache.
type Lookup interface {
	Get(key weather.RegionKey) (*weather.Region, bool)
}

var _ Lookup = (*regions.Cache)(nil)

// Neighbors finds the four regions whose centres surround (x, z). Regions are
// never created here.
func Neighbors(cache Lookup, regionSize int, x, z float64) NeighborSet {
	s := float64(regionSize)
	fx := x/s - 0.5
	fz := z/s - 0.5
	rx := mathx.FloorToInt(fx)
	rz := mathx.FloorToInt(fz)

	ns := NeighborSet{
		LerpX: mathx.Clamp01(fx - float64(rx)),
		LerpZ: mathx.Clamp01(fz - float64(rz)),
	}
	keys := [4]weather.RegionKey{
		{X: int32(rx), Z: int32(rz)},
		{X: int32(rx + 1), Z: int32(rz)},
		{X: int32(rx), Z: int32(rz + 1)},
		{X: int32(rx + 1), Z: int32(rz + 1)},
	}
	for i, k := range keys {
		ns.Corners[i].Key = k
		if r, ok := cache.Get(k); ok {
			ns.Corners[i].Region = r
		}
	}
	return ns
}

// Blend interpolates every output of the four corners.
func Blend(ns NeighborSet) weather.Outputs {
	var c [4]weather.Outputs
	for i := range ns.Corners {
		c[i] = ns.Corners[i].Outputs()
	}
	tx, tz := ns.LerpX, ns.LerpZ
	bi := func(f func(o *weather.Outputs) float64) float64 {
		return mathx.BiLerp(f(&c[0]), f(&c[1]), f(&c[2]), f(&c[3]), tx, tz)
	}
	return weather.Outputs{
		CloudThickness:      bi(func(o *weather.Outputs) float64 { return o.CloudThickness }),
		CloudOpacity:        bi(func(o *weather.Outputs) float64 { return o.CloudOpacity }),
		CloudBrightness:     bi(func(o *weather.Outputs) float64 { return o.CloudBrightness }),
		ThinCloudMode:       bi(func(o *weather.Outputs) float64 { return o.ThinCloudMode }),
		UndulatingCloudMode: bi(func(o *weather.Outputs) float64 { return o.UndulatingCloudMode }),
		Rainfall:            bi(func(o *weather.Outputs) float64 { return o.Rainfall }),
		FogDensity:          bi(func(o *weather.Outputs) float64 { return o.FogDensity }),
		FlatFogDensity:      bi(func(o *weather.Outputs) float64 { return o.FlatFogDensity }),
		WindSpeed:           bi(func(o *weather.Outputs) float64 { return o.WindSpeed }),
		Wind: weather.Vec2{
			X: bi(func(o *weather.Outputs) float64 { return o.Wind.X }),
			Z: bi(func(o *weather.Outputs) float64 { return o.Wind.Z }),
		},
	}
}

func Evaluate(cache Lookup, regionSize int, x, z float64) weather.Outputs {
	return Blend(Neighbors(cache, regionSize, x, z))
}
