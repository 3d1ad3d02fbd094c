package weather

import (
	"math"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/mathx"
)

type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Outputs are the scalar/vector values renderers and audio pull per frame.
type Outputs struct {
	CloudThickness      float64 `json:"cloud_thickness"`
	CloudOpacity        float64 `json:"cloud_opacity"`
	CloudBrightness     float64 `json:"cloud_brightness"`
	ThinCloudMode       float64 `json:"thin_cloud_mode"`
	UndulatingCloudMode float64 `json:"undulating_cloud_mode"`
	Rainfall            float64 `json:"rainfall"`
	FogDensity          float64 `json:"fog_density"`
	FlatFogDensity      float64 `json:"flat_fog_density"`
	WindSpeed           float64 `json:"wind_speed"`
	Wind                Vec2    `json:"wind"`
}

// NeutralOutputs stands in for a region that has no state yet: clear sky, no
// rain, no wind.
func NeutralOutputs() Outputs {
	return Outputs{CloudBrightness: 1}
}

func (r *Region) Outputs() Outputs {
	od, _ := r.reg.WeatherDef(r.Old.Index)
	nd, _ := r.reg.WeatherDef(r.New.Index)
	w := r.Weight
	oi, ni := r.Old.Intensity, r.New.Intensity

	blend := func(o, n catalogs.Range) float64 {
		return mathx.Lerp(o.At(oi), n.At(ni), w)
	}

	out := Outputs{
		CloudThickness:      blend(od.Clouds.Thickness, nd.Clouds.Thickness),
		CloudOpacity:        blend(od.Clouds.Opacity, nd.Clouds.Opacity),
		CloudBrightness:     blend(od.Clouds.Brightness, nd.Clouds.Brightness),
		ThinCloudMode:       blend(od.Clouds.ThinMode, nd.Clouds.ThinMode),
		UndulatingCloudMode: blend(od.Clouds.UndulatingMode, nd.Clouds.UndulatingMode),
		Rainfall:            blend(od.Precipitation, nd.Precipitation),
		FogDensity:          blend(od.Fog.Density, nd.Fog.Density),
		FlatFogDensity:      blend(od.Fog.FlatDensity, nd.Fog.FlatDensity),
	}

	owd, _ := r.reg.WindDef(r.OldWind.Index)
	nwd, _ := r.reg.WindDef(r.Wind.Index)
	oldSpeed := windSpeed(owd, r.OldWind)
	newSpeed := windSpeed(nwd, r.Wind)
	ww := r.WindWeight
	out.WindSpeed = mathx.Lerp(oldSpeed, newSpeed, ww)
	out.Wind = Vec2{
		X: mathx.Lerp(oldSpeed*math.Cos(r.OldWind.Direction), newSpeed*math.Cos(r.Wind.Direction), ww),
		Z: mathx.Lerp(oldSpeed*math.Sin(r.OldWind.Direction), newSpeed*math.Sin(r.Wind.Direction), ww),
	}
	return out
}

func windSpeed(def catalogs.WindPatternDef, st PatternState) float64 {
	v := def.Strength.At(st.Intensity)
	if def.Gust > 0 && def.GustPeriodSeconds > 0 {
		v += def.Gust * math.Sin(2*math.Pi*st.Age/def.GustPeriodSeconds)
	}
	if v < 0 {
		return 0
	}
	return v
}
