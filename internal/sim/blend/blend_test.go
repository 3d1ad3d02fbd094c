package blend

import (
	"math"
	"testing"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/regions"
	"voxelweather.ai/internal/sim/weather"
)

const size = 512

func testRegistry(t *testing.T) *catalogs.Registry {
	t.Helper()
	r, err := catalogs.New(
		[]catalogs.WeatherPatternDef{
			{Code: "DRY", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: 600}, Clouds: catalogs.CloudDef{Brightness: catalogs.Range{Avg: 1}}},
			{Code: "WET", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: 600}, Precipitation: catalogs.Range{Avg: 1}},
		},
		[]catalogs.WindPatternDef{
			{Code: "CALM", Weight: 1, Lifetime: catalogs.Lifetime{AvgSeconds: 600}},
		},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

// cacheWith builds a cache where each listed region is steady on the named
// weather pattern.
func cacheWith(t *testing.T, codes map[weather.RegionKey]string) *regions.Cache {
	t.Helper()
	reg := testRegistry(t)
	c := regions.NewCache(func(k weather.RegionKey) *weather.Region {
		return weather.New(weather.Config{Registry: reg, Seed: 1}, k)
	})
	for k, code := range codes {
		r, _ := c.GetOrCreate(k)
		s := r.State
		p := weather.PatternState{Index: reg.WeatherIndex[code], Lifetime: 600}
		s.Old, s.New = p, p
		if err := r.SetState(s); err != nil {
			t.Fatalf("set %v: %v", k, err)
		}
	}
	return c
}

func TestNeighbors_CornerOrderAndLerp(t *testing.T) {
	c := cacheWith(t, map[weather.RegionKey]string{{X: 0, Z: 0}: "DRY"})
	ns := Neighbors(c, size, size, size/4)

	want := [4]weather.RegionKey{{X: 0, Z: -1}, {X: 1, Z: -1}, {X: 0, Z: 0}, {X: 1, Z: 0}}
	for i := range want {
		if ns.Corners[i].Key != want[i] {
			t.Fatalf("corner %d: got %v want %v", i, ns.Corners[i].Key, want[i])
		}
	}
	if ns.LerpX != 0.5 || ns.LerpZ != 0.75 {
		t.Fatalf("lerp: got %v,%v want 0.5,0.75", ns.LerpX, ns.LerpZ)
	}
	if !ns.Corners[2].Present() || ns.Corners[0].Present() {
		t.Fatalf("presence wrong: %+v", ns.Corners)
	}
	if c.Len() != 1 {
		t.Fatalf("neighbour query created regions: len=%d", c.Len())
	}
}

func TestBlend_MidpointOfAlternatingCorners(t *testing.T) {
	// Corners (0,0) and (0,1) rain; (1,0) and (1,1) dry. Rainfall {1,0,1,0}.
	c := cacheWith(t, map[weather.RegionKey]string{
		{X: 0, Z: 0}: "WET", {X: 1, Z: 0}: "DRY",
		{X: 0, Z: 1}: "WET", {X: 1, Z: 1}: "DRY",
	})
	out := Evaluate(c, size, size, size)
	if out.Rainfall != 0.5 {
		t.Fatalf("rainfall: got %v want 0.5", out.Rainfall)
	}
	if out.CloudBrightness != 0.5 {
		t.Fatalf("brightness: got %v want 0.5", out.CloudBrightness)
	}
}

func TestBlend_AtRegionCentreMatchesRegion(t *testing.T) {
	c := cacheWith(t, map[weather.RegionKey]string{
		{X: 0, Z: 0}: "WET", {X: 1, Z: 0}: "DRY",
		{X: 0, Z: 1}: "DRY", {X: 1, Z: 1}: "DRY",
	})
	out := Evaluate(c, size, size/2, size/2)
	if out.Rainfall != 1 {
		t.Fatalf("centre rainfall: got %v want 1", out.Rainfall)
	}
}

func TestBlend_ContinuousAcrossSeam(t *testing.T) {
	c := cacheWith(t, map[weather.RegionKey]string{
		{X: -1, Z: -1}: "WET", {X: 0, Z: -1}: "DRY", {X: 1, Z: -1}: "WET",
		{X: -1, Z: 0}: "DRY", {X: 0, Z: 0}: "WET", {X: 1, Z: 0}: "DRY",
		{X: -1, Z: 1}: "WET", {X: 0, Z: 1}: "DRY", {X: 1, Z: 1}: "WET",
	})
	const eps = 1e-6
	// Centre lines are where the corner set switches.
	for _, p := range [][2]float64{{size / 2, 100}, {100, size / 2}, {size / 2, size / 2}, {-size / 2, 300}} {
		a := Evaluate(c, size, p[0]-eps, p[1]-eps)
		b := Evaluate(c, size, p[0]+eps, p[1]+eps)
		if math.Abs(a.Rainfall-b.Rainfall) > 1e-4 {
			t.Fatalf("discontinuity at %v: %v vs %v", p, a.Rainfall, b.Rainfall)
		}
	}
}

func TestBlend_AbsentIsNeutral(t *testing.T) {
	c := cacheWith(t, nil)
	out := Evaluate(c, size, 1234, -987)
	if out != weather.NeutralOutputs() {
		t.Fatalf("absent corners: got %+v", out)
	}
}
