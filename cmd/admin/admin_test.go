package main

import (
	"context"
	"path/filepath"
	"testing"

	"voxelweather.ai/internal/persistence/indexdb"
	persistlog "voxelweather.ai/internal/persistence/log"
	"voxelweather.ai/internal/persistence/snapshot"
	"voxelweather.ai/internal/sim/authority"
	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
)

func TestExportImport_RoundTrip(t *testing.T) {
	reg, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	db, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "weather.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tune := tuning.Defaults()
	tune.Seed = 42
	if err := db.UpsertCatalogs(reg, tune); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r := weather.New(weather.Config{Registry: reg, Seed: 42}, weather.RegionKey{X: 2, Z: -1})
	r.Tick(12.5)
	b, err := snapshot.EncodeRegion(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := db.Put(r.Key, authority.BlobName, b); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Put(weather.RegionKey{X: 9, Z: 9}, authority.BlobName, []byte("not a snapshot")); err != nil {
		t.Fatalf("put garbage: %v", err)
	}
	if err := db.Put(weather.RegionKey{X: 3}, "other", []byte("x")); err != nil {
		t.Fatalf("put other: %v", err)
	}

	a, skipped, err := exportArchive(context.Background(), db)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if skipped != 1 || len(a.Regions) != 1 || a.Header.Seed != 42 {
		t.Fatalf("export: skipped=%d regions=%d seed=%d", skipped, len(a.Regions), a.Header.Seed)
	}

	path := filepath.Join(t.TempDir(), "regions.archive.zst")
	if err := snapshot.WriteArchive(path, a); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	back, err := snapshot.ReadArchive(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	mem := indexdb.NewMemStore()
	n, err := importArchive(mem, back)
	if err != nil || n != 1 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	got, ok, err := mem.Get(r.Key, authority.BlobName)
	if err != nil || !ok {
		t.Fatalf("imported blob missing: %v", err)
	}
	snap, err := snapshot.DecodeRegion(got)
	if err != nil {
		t.Fatalf("decode imported: %v", err)
	}
	if snap != snapshot.Capture(r) {
		t.Fatalf("imported region differs:\n got=%+v\nwant=%+v", snap, snapshot.Capture(r))
	}
}

func TestReadTransitions_Filters(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewTransitionLogger(dir)
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 1, Z: 2}, Kind: catalogs.KindWeather, Index: 1, Code: "RAIN"})
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: 1, Z: 2}, Kind: catalogs.KindWind, Index: 0, Code: "CALM"})
	l.BeginUse(weather.Event{Region: weather.RegionKey{X: -5, Z: 0}, Kind: catalogs.KindWeather, Index: 1, Code: "RAIN", Instant: true})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	all, err := readTransitions(dir, nil, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("all: %d %v", len(all), err)
	}
	key := weather.RegionKey{X: 1, Z: 2}
	byRegion, err := readTransitions(dir, &key, "")
	if err != nil || len(byRegion) != 2 {
		t.Fatalf("by region: %+v %v", byRegion, err)
	}
	rain, err := readTransitions(dir, nil, "RAIN")
	if err != nil || len(rain) != 2 || !rain[1].Instant || rain[1].RegionX != -5 {
		t.Fatalf("by code: %+v %v", rain, err)
	}
}

func TestParseRegion(t *testing.T) {
	k, err := parseRegion(" -3, 7 ")
	if err != nil || k != (weather.RegionKey{X: -3, Z: 7}) {
		t.Fatalf("parse: %+v %v", k, err)
	}
	if _, err := parseRegion("1"); err == nil {
		t.Fatalf("expected error for single value")
	}
}
