package catalogs

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Registry is the session-scoped pattern catalog. It is immutable after Load
// and may be read from any goroutine.
type Registry struct {
	Weather       []WeatherPatternDef
	WeatherIndex  map[string]int32
	WeatherDigest string

	Wind       []WindPatternDef
	WindIndex  map[string]int32
	WindDigest string
}

// Range is a value that varies with pattern intensity: Avg + Var*(2i-1).
type Range struct {
	Avg float64 `json:"avg"`
	Var float64 `json:"var"`
}

func (r Range) At(intensity float64) float64 {
	v := r.Avg + r.Var*(2*intensity-1)
	if v < 0 {
		return 0
	}
	return v
}

const (
	LifetimeFixed   = "fixed"
	LifetimeUniform = "uniform"
)

type Lifetime struct {
	Mode       string  `json:"mode,omitempty"`
	AvgSeconds float64 `json:"avg_s"`
	VarSeconds float64 `json:"var_s,omitempty"`
}

type CloudDef struct {
	Thickness      Range `json:"thickness"`
	Opacity        Range `json:"opacity"`
	Brightness     Range `json:"brightness"`
	ThinMode       Range `json:"thin_mode"`
	UndulatingMode Range `json:"undulating_mode"`
}

type FogDef struct {
	Density     Range `json:"density"`
	FlatDensity Range `json:"flat_density"`
}

type WeatherPatternDef struct {
	Code              string   `json:"code"`
	Name              string   `json:"name,omitempty"`
	Weight            float64  `json:"weight"`
	Lifetime          Lifetime `json:"lifetime"`
	TransitionSeconds float64  `json:"transition_s"`
	Clouds            CloudDef `json:"clouds"`
	Precipitation     Range    `json:"precipitation"`
	Fog               FogDef   `json:"fog"`
}

type WindPatternDef struct {
	Code              string   `json:"code"`
	Name              string   `json:"name,omitempty"`
	Weight            float64  `json:"weight"`
	Lifetime          Lifetime `json:"lifetime"`
	TransitionSeconds float64  `json:"transition_s"`
	Strength          Range    `json:"strength"`
	Gust              float64  `json:"gust,omitempty"`
	GustPeriodSeconds float64  `json:"gust_period_s,omitempty"`
}

func Load(configDir string) (*Registry, error) {
	var r Registry

	weatherRaw, err := loadValidated(filepath.Join(configDir, "weather_patterns.json"), "weather_patterns.schema.json")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weatherRaw, &r.Weather); err != nil {
		return nil, fmt.Errorf("weather_patterns.json: %w", err)
	}
	r.WeatherDigest = sha256Hex(weatherRaw)

	windRaw, err := loadValidated(filepath.Join(configDir, "wind_patterns.json"), "wind_patterns.schema.json")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(windRaw, &r.Wind); err != nil {
		return nil, fmt.Errorf("wind_patterns.json: %w", err)
	}
	r.WindDigest = sha256Hex(windRaw)

	if err := r.index(); err != nil {
		return nil, err
	}
	return &r, nil
}

// New builds a registry from in-memory definitions (tests, embedded defaults).
func New(weather []WeatherPatternDef, wind []WindPatternDef) (*Registry, error) {
	r := &Registry{
		Weather: append([]WeatherPatternDef(nil), weather...),
		Wind:    append([]WindPatternDef(nil), wind...),
	}
	wb, _ := json.Marshal(r.Weather)
	r.WeatherDigest = sha256Hex(wb)
	nb, _ := json.Marshal(r.Wind)
	r.WindDigest = sha256Hex(nb)
	if err := r.index(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) index() error {
	if len(r.Weather) == 0 {
		return fmt.Errorf("weather_patterns.json: no patterns")
	}
	if len(r.Wind) == 0 {
		return fmt.Errorf("wind_patterns.json: no patterns")
	}

	r.WeatherIndex = make(map[string]int32, len(r.Weather))
	total := 0.0
	for i := range r.Weather {
		d := &r.Weather[i]
		if d.Code == "" {
			return fmt.Errorf("weather_patterns.json: empty code at %d", i)
		}
		if _, dup := r.WeatherIndex[d.Code]; dup {
			return fmt.Errorf("weather_patterns.json: duplicate code %s", d.Code)
		}
		if err := checkTimes(d.Lifetime, d.TransitionSeconds); err != nil {
			return fmt.Errorf("weather_patterns.json: %s: %w", d.Code, err)
		}
		normalizeLifetime(&d.Lifetime)
		r.WeatherIndex[d.Code] = int32(i)
		total += d.Weight
	}
	if total <= 0 {
		return fmt.Errorf("weather_patterns.json: all weights are zero")
	}

	r.WindIndex = make(map[string]int32, len(r.Wind))
	total = 0
	for i := range r.Wind {
		d := &r.Wind[i]
		if d.Code == "" {
			return fmt.Errorf("wind_patterns.json: empty code at %d", i)
		}
		if _, dup := r.WindIndex[d.Code]; dup {
			return fmt.Errorf("wind_patterns.json: duplicate code %s", d.Code)
		}
		if err := checkTimes(d.Lifetime, d.TransitionSeconds); err != nil {
			return fmt.Errorf("wind_patterns.json: %s: %w", d.Code, err)
		}
		normalizeLifetime(&d.Lifetime)
		r.WindIndex[d.Code] = int32(i)
		total += d.Weight
	}
	if total <= 0 {
		return fmt.Errorf("wind_patterns.json: all weights are zero")
	}
	return nil
}

func checkTimes(l Lifetime, transition float64) error {
	if l.AvgSeconds <= 0 {
		return fmt.Errorf("lifetime avg_s must be > 0")
	}
	if l.VarSeconds < 0 || transition < 0 {
		return fmt.Errorf("negative duration")
	}
	return nil
}

func normalizeLifetime(l *Lifetime) {
	if l.Mode == "" {
		l.Mode = LifetimeFixed
		if l.VarSeconds > 0 {
			l.Mode = LifetimeUniform
		}
	}
}

func (r *Registry) WeatherDef(i int32) (WeatherPatternDef, bool) {
	if i < 0 || int(i) >= len(r.Weather) {
		return WeatherPatternDef{}, false
	}
	return r.Weather[i], true
}

func (r *Registry) WindDef(i int32) (WindPatternDef, bool) {
	if i < 0 || int(i) >= len(r.Wind) {
		return WindPatternDef{}, false
	}
	return r.Wind[i], true
}

func (r *Registry) ValidWeather(i int32) bool { return i >= 0 && int(i) < len(r.Weather) }
func (r *Registry) ValidWind(i int32) bool    { return i >= 0 && int(i) < len(r.Wind) }

func loadValidated(path, schemaName string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sch, err := compileSchema(schemaName)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return raw, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	b, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	url := "mem://catalogs/" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return c.Compile(url)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
