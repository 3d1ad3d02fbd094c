package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"voxelweather.ai/internal/sim/weather"
)

const Version = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version int   `json:"version"`
	RegionX int32 `json:"region_x"`
	RegionZ int32 `json:"region_z"`
}

// PatternV1 stores the pattern code next to its index so a catalog edit
// between sessions is detected instead of silently remapping.
type PatternV1 struct {
	Index     int32   `json:"index"`
	Code      string  `json:"code"`
	Epoch     uint32  `json:"epoch"`
	Age       float64 `json:"age"`
	Lifetime  float64 `json:"lifetime"`
	Intensity float64 `json:"intensity"`
	Direction float64 `json:"direction,omitempty"`
}

type RegionSnapshotV1 struct {
	Header Header `json:"header"`

	Old             PatternV1 `json:"old"`
	New             PatternV1 `json:"new"`
	Weight          float64   `json:"weight"`
	Transitioning   bool      `json:"transitioning"`
	TransitionDelay float64   `json:"transition_delay"`

	Wind                PatternV1 `json:"wind"`
	OldWind             PatternV1 `json:"old_wind"`
	WindWeight          float64   `json:"wind_weight"`
	WindTransitioning   bool      `json:"wind_transitioning"`
	WindTransitionDelay float64   `json:"wind_transition_delay"`
}

func (s RegionSnapshotV1) Key() weather.RegionKey {
	return weather.RegionKey{X: s.Header.RegionX, Z: s.Header.RegionZ}
}

// Capture copies the region's mutable state into a snapshot.
func Capture(r *weather.Region) RegionSnapshotV1 {
	reg := r.Registry()
	weatherCode := func(i int32) string {
		d, _ := reg.WeatherDef(i)
		return d.Code
	}
	windCode := func(i int32) string {
		d, _ := reg.WindDef(i)
		return d.Code
	}
	return RegionSnapshotV1{
		Header: Header{Version: Version, RegionX: r.Key.X, RegionZ: r.Key.Z},

		Old:             patternV1(r.Old, weatherCode(r.Old.Index)),
		New:             patternV1(r.New, weatherCode(r.New.Index)),
		Weight:          r.Weight,
		Transitioning:   r.Transitioning,
		TransitionDelay: r.TransitionDelay,

		Wind:                patternV1(r.Wind, windCode(r.Wind.Index)),
		OldWind:             patternV1(r.OldWind, windCode(r.OldWind.Index)),
		WindWeight:          r.WindWeight,
		WindTransitioning:   r.WindTransitioning,
		WindTransitionDelay: r.WindTransitionDelay,
	}
}

func patternV1(p weather.PatternState, code string) PatternV1 {
	return PatternV1{
		Index:     p.Index,
		Code:      code,
		Epoch:     p.Epoch,
		Age:       p.Age,
		Lifetime:  p.Lifetime,
		Intensity: p.Intensity,
		Direction: p.Direction,
	}
}

func (p PatternV1) state() weather.PatternState {
	return weather.PatternState{
		Index:     p.Index,
		Epoch:     p.Epoch,
		Age:       p.Age,
		Lifetime:  p.Lifetime,
		Intensity: p.Intensity,
		Direction: p.Direction,
	}
}

func EncodeRegion(r *weather.Region) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, Capture(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRegion(b []byte) (RegionSnapshotV1, error) {
	return Read(bytes.NewReader(b))
}

// Shared coders; EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Write emits a zstd frame holding a JSON header line followed by the gob
// encoded snapshot.
func Write(w io.Writer, snap RegionSnapshotV1) error {
	var raw bytes.Buffer
	hb, _ := json.Marshal(snap.Header)
	raw.Write(hb)
	raw.WriteByte('\n')
	if err := gob.NewEncoder(&raw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	_, err := w.Write(encoder.EncodeAll(raw.Bytes(), nil))
	return err
}

func Read(r io.Reader) (RegionSnapshotV1, error) {
	var snap RegionSnapshotV1
	compressed, err := io.ReadAll(r)
	if err != nil {
		return snap, err
	}
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return snap, fmt.Errorf("zstd: %w", err)
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrSnapshotVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header != h {
		return snap, fmt.Errorf("header mismatch: %+v vs %+v", h, snap.Header)
	}
	return snap, nil
}

// RestoreRegion rebuilds a region from a snapshot. It fails when any stored
// index no longer resolves to the same pattern code.
func RestoreRegion(snap RegionSnapshotV1, cfg weather.Config) (*weather.Region, error) {
	reg := cfg.Registry
	for _, p := range []PatternV1{snap.Old, snap.New} {
		d, ok := reg.WeatherDef(p.Index)
		if !ok || (p.Code != "" && d.Code != p.Code) {
			return nil, fmt.Errorf("%w: weather %d (%s)", weather.ErrBadPatternIndex, p.Index, p.Code)
		}
	}
	for _, p := range []PatternV1{snap.Wind, snap.OldWind} {
		d, ok := reg.WindDef(p.Index)
		if !ok || (p.Code != "" && d.Code != p.Code) {
			return nil, fmt.Errorf("%w: wind %d (%s)", weather.ErrBadPatternIndex, p.Index, p.Code)
		}
	}

	r := weather.New(cfg, snap.Key())
	err := r.SetState(weather.State{
		Old:                 snap.Old.state(),
		New:                 snap.New.state(),
		Weight:              snap.Weight,
		Transitioning:       snap.Transitioning,
		TransitionDelay:     snap.TransitionDelay,
		Wind:                snap.Wind.state(),
		OldWind:             snap.OldWind.state(),
		WindWeight:          snap.WindWeight,
		WindTransitioning:   snap.WindTransitioning,
		WindTransitionDelay: snap.WindTransitionDelay,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
