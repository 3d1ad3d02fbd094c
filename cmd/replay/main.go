package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelweather.ai/internal/persistence/snapshot"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
)

// forecastLine is one predicted begin-use event.
type forecastLine struct {
	AtSeconds float64 `json:"at_s"`
	RegionX   int32   `json:"region_x"`
	RegionZ   int32   `json:"region_z"`
	Kind      string  `json:"kind"`
	Code      string  `json:"code"`
}

func main() {
	var (
		archivePath = flag.String("archive", "", "region archive to start from (optional; default fresh regions)")
		configDir   = flag.String("configs", "./configs", "config directory")
		seed        = flag.Int64("seed", 0, "seed for fresh regions (default: tuning seed)")
		x           = flag.Int("x", 0, "center region x (fresh regions)")
		z           = flag.Int("z", 0, "center region z (fresh regions)")
		radius      = flag.Int("radius", 0, "region radius around the center (fresh regions)")
		seconds     = flag.Float64("seconds", 3600, "how far ahead to simulate")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tune, err := tuning.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	var start []snapshot.RegionSnapshotV1
	if strings.TrimSpace(*archivePath) != "" {
		a, err := snapshot.ReadArchive(*archivePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read archive:", err)
			os.Exit(1)
		}
		if a.Header.Seed != 0 {
			tune.Seed = a.Header.Seed
		}
		start = a.Regions
		fmt.Fprintf(os.Stderr, "archive v%d seed=%d regions=%d source=%s\n", a.Header.Version, a.Header.Seed, len(a.Regions), a.Header.Source)
	}

	var keys []weather.RegionKey
	if start == nil {
		for dx := -*radius; dx <= *radius; dx++ {
			for dz := -*radius; dz <= *radius; dz++ {
				keys = append(keys, weather.RegionKey{X: int32(*x + dx), Z: int32(*z + dz)})
			}
		}
	}

	lines, restoreErrs := forecast(cats, tune, start, keys, *seconds)
	for _, err := range restoreErrs {
		fmt.Fprintln(os.Stderr, "restore:", err)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, l := range lines {
		_ = enc.Encode(l)
	}
}

// forecast steps every region forward at the authoritative tick rate and
// records each pattern change. Archived regions that no longer restore are
// reported and replaced by fresh ones.
func forecast(cats *catalogs.Registry, tune tuning.Tuning, start []snapshot.RegionSnapshotV1, fresh []weather.RegionKey, seconds float64) ([]forecastLine, []error) {
	var (
		now   float64
		lines []forecastLine
		errs  []error
	)
	cfg := weather.Config{
		Registry: cats,
		Seed:     tune.Seed,
		Role:     weather.RoleAuthority,
		Sink: weather.EventSinkFunc(func(ev weather.Event) {
			lines = append(lines, forecastLine{AtSeconds: now, RegionX: ev.Region.X, RegionZ: ev.Region.Z, Kind: ev.Kind.String(), Code: ev.Code})
		}),
	}

	var rs []*weather.Region
	for _, snap := range start {
		r, err := snapshot.RestoreRegion(snap, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("region %v: %w", snap.Key(), err))
			r = weather.New(cfg, snap.Key())
		}
		rs = append(rs, r)
	}
	for _, k := range fresh {
		rs = append(rs, weather.New(cfg, k))
	}

	dt := tune.TickSeconds()
	for now = dt; now <= seconds+1e-9; now += dt {
		for _, r := range rs {
			r.Tick(dt)
		}
	}
	return lines, errs
}
