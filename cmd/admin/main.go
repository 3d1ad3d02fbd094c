package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	persistlog "voxelweather.ai/internal/persistence/log"
	"voxelweather.ai/internal/sim/weather"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "regions":
			regionsCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "transitions":
			transitionsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin regions|export|import|inspect|transitions|state|save [flags]")
	os.Exit(2)
}

func transitionsCmd(args []string) {
	fs := flag.NewFlagSet("transitions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	region := fs.String("region", "", "region filter: x,z (optional)")
	code := fs.String("code", "", "pattern code filter (optional)")
	limit := fs.Int("limit", 0, "print only the last N entries (0 = all)")
	_ = fs.Parse(args)

	var key *weather.RegionKey
	if strings.TrimSpace(*region) != "" {
		k, err := parseRegion(*region)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -region:", err)
			os.Exit(2)
		}
		key = &k
	}

	entries, err := readTransitions(*dataDir, key, strings.TrimSpace(*code))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read transitions:", err)
		os.Exit(1)
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		_ = enc.Encode(e)
	}
}

// readTransitions returns the logged transitions under dataDir, filtered by
// region and pattern code when set.
func readTransitions(dataDir string, key *weather.RegionKey, code string) ([]persistlog.TransitionEntry, error) {
	return persistlog.ReadTransitions(dataDir, func(e persistlog.TransitionEntry) bool {
		if key != nil && (e.RegionX != key.X || e.RegionZ != key.Z) {
			return false
		}
		return code == "" || e.Code == code
	})
}

func parseRegion(s string) (weather.RegionKey, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return weather.RegionKey{}, fmt.Errorf("expected x,z")
	}
	var v [2]int32
	for i := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 10, 32)
		if err != nil {
			return weather.RegionKey{}, err
		}
		v[i] = int32(n)
	}
	return weather.RegionKey{X: v[0], Z: v[1]}, nil
}
