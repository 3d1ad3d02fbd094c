package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Seed       int64 `yaml:"seed" json:"seed"`
	RegionSize int   `yaml:"region_size" json:"region_size"`

	TickMs         int `yaml:"tick_ms" json:"tick_ms"`
	ObserverTickMs int `yaml:"observer_tick_ms" json:"observer_tick_ms"`
	SaveEveryTicks int `yaml:"save_every_ticks" json:"save_every_ticks"`

	// Region distances are Chebyshev on the region grid.
	ObserverRange int `yaml:"observer_range" json:"observer_range"`
	LoadRadius    int `yaml:"load_radius" json:"load_radius"`
	SpawnRadius   int `yaml:"spawn_radius" json:"spawn_radius"`
	PruneRadius   int `yaml:"prune_radius" json:"prune_radius"`

	ObserverQueue int `yaml:"observer_queue" json:"observer_queue"`

	SeaLevel     float64 `yaml:"sea_level" json:"sea_level"`
	FogFullLight float64 `yaml:"fog_full_light" json:"fog_full_light"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1337,
		RegionSize:      512,
		TickMs:          25,
		ObserverTickMs:  25,
		SaveEveryTicks:  2400,
		ObserverRange:   1,
		LoadRadius:      1,
		SpawnRadius:     1,
		PruneRadius:     3,
		ObserverQueue:   64,
		SeaLevel:        110,
		FogFullLight:    20,
	}
}

// Load reads a tuning file on top of Defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.RegionSize <= 0:
		return fmt.Errorf("region_size must be > 0")
	case t.TickMs <= 0:
		return fmt.Errorf("tick_ms must be > 0")
	case t.ObserverTickMs <= 0:
		return fmt.Errorf("observer_tick_ms must be > 0")
	case t.SaveEveryTicks < 0:
		return fmt.Errorf("save_every_ticks must be >= 0")
	case t.ObserverRange < 0 || t.LoadRadius < 0 || t.SpawnRadius < 0:
		return fmt.Errorf("radii must be >= 0")
	case t.PruneRadius < t.LoadRadius:
		return fmt.Errorf("prune_radius must be >= load_radius")
	case t.ObserverQueue <= 0:
		return fmt.Errorf("observer_queue must be > 0")
	case t.SeaLevel <= 0 || t.FogFullLight <= 0:
		return fmt.Errorf("sea_level and fog_full_light must be > 0")
	}
	return nil
}

func (t Tuning) TickSeconds() float64         { return float64(t.TickMs) / 1000 }
func (t Tuning) ObserverTickSeconds() float64 { return float64(t.ObserverTickMs) / 1000 }

// Digest is a sha256 over the canonical JSON of the applied values.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
