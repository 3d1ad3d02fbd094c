package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/weather"
)

func TestTransitionLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewTransitionLogger(dir)
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 2, Z: -1}, Kind: catalogs.KindWeather, Index: 3, Code: "STORM"})
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 2, Z: -1}, Kind: catalogs.KindWind, Index: 1, Code: "GALE", Instant: true})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.WriteErrors() != 0 || l.Written() != 2 {
		t.Fatalf("written=%d errors=%d", l.Written(), l.WriteErrors())
	}

	got, err := ReadTransitions(dir, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries: got %d want 2", len(got))
	}
	if got[0].Kind != "weather" || got[0].Code != "STORM" || got[0].RegionX != 2 || got[0].RegionZ != -1 {
		t.Fatalf("first entry: %+v", got[0])
	}
	if got[1].Kind != "wind" || !got[1].Instant {
		t.Fatalf("second entry: %+v", got[1])
	}
}

func TestTransitionLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l := newTransitionLogger(dir, func() time.Time { return now })

	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 0, Z: 0}, Kind: catalogs.KindWeather, Code: "CLEAR"})
	now = now.Add(2 * time.Minute)
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 0, Z: 0}, Kind: catalogs.KindWeather, Code: "RAIN"})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "transitions", "transitions-*.jsonl.zst"))
	if err != nil || len(files) != 2 {
		t.Fatalf("files: %v %v", files, err)
	}
	if filepath.Base(files[0]) != "transitions-2026-03-01-10.jsonl.zst" {
		t.Fatalf("first file: %s", files[0])
	}

	rain, err := ReadTransitions(dir, func(e TransitionEntry) bool { return e.Code == "RAIN" })
	if err != nil || len(rain) != 1 || rain[0].Time != "2026-03-01T11:01:00Z" {
		t.Fatalf("filtered: %+v %v", rain, err)
	}
}

func TestTransitionLogger_CountsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	// A plain file where the log directory should be.
	if err := os.WriteFile(filepath.Join(dir, "transitions"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	l := NewTransitionLogger(dir)
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 1, Z: 1}, Kind: catalogs.KindWeather, Code: "RAIN"})

	if l.WriteErrors() != 1 || l.Written() != 0 {
		t.Fatalf("written=%d errors=%d", l.Written(), l.WriteErrors())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close after failed open: %v", err)
	}
}
