package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RepoTuning(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickMs != 25 || tu.RegionSize <= 0 || tu.ObserverRange != 1 {
		t.Fatalf("unexpected values: %+v", tu)
	}
	if tu.TickSeconds() != 0.025 {
		t.Fatalf("tick seconds: %v", tu.TickSeconds())
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("region_size: 256\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Defaults()
	if tu.RegionSize != 256 || tu.TickMs != d.TickMs || tu.SeaLevel != d.SeaLevel {
		t.Fatalf("merge: %+v", tu)
	}
	if tu.Digest() == d.Digest() {
		t.Fatalf("digest ignores values")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero region": "region_size: 0\n",
		"zero tick":   "tick_ms: 0\n",
		"prune small": "load_radius: 4\nprune_radius: 2\n",
		"bad yaml":    "tick_ms: [\n",
	}
	for name, doc := range cases {
		p := filepath.Join(t.TempDir(), "tuning.yaml")
		if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
