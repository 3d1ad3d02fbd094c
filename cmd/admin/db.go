package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelweather.ai/internal/config"
	"voxelweather.ai/internal/persistence/indexdb"
	"voxelweather.ai/internal/persistence/snapshot"
	"voxelweather.ai/internal/sim/authority"
)

func openDB(dataDir, dbPath string) *indexdb.SQLiteStore {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "weather.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		config.Exitf("open: %v", err)
	}
	db, err := indexdb.OpenSQLite(path)
	if err != nil {
		config.Exitf("open: %v", err)
	}
	return db
}

func regionsCmd(args []string) {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/weather.sqlite)")
	_ = fs.Parse(args)

	db := openDB(*dataDir, *dbPath)
	defer db.Close()

	rows, err := db.List(context.Background())
	if err != nil {
		config.Exitf("list: %v", err)
	}
	for _, r := range rows {
		fmt.Printf("%d\t%d\t%s\t%d\t%s\n", r.Key.X, r.Key.Z, r.Name, r.Size, r.UpdatedAt)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/weather.sqlite)")
	outPath := fs.String("out", "", "archive path (default: <data>/exports/regions.archive.zst)")
	_ = fs.Parse(args)

	db := openDB(*dataDir, *dbPath)
	defer db.Close()

	a, skipped, err := exportArchive(context.Background(), db)
	if err != nil {
		config.Exitf("export: %v", err)
	}
	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(*dataDir, "exports", "regions.archive.zst")
	}
	if err := snapshot.WriteArchive(out, a); err != nil {
		config.Exitf("write archive: %v", err)
	}
	fmt.Printf("export ok: regions=%d skipped=%d seed=%d out=%s\n", len(a.Regions), skipped, a.Header.Seed, out)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/weather.sqlite)")
	archivePath := fs.String("archive", "", "archive to import (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*archivePath) == "" {
		fmt.Fprintln(os.Stderr, "missing -archive")
		os.Exit(2)
	}
	a, err := snapshot.ReadArchive(*archivePath)
	if err != nil {
		config.Exitf("read archive: %v", err)
	}

	db := openDB(*dataDir, *dbPath)
	n, err := importArchive(db, a)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		config.Exitf("import: %v", err)
	}
	fmt.Printf("import ok: regions=%d seed=%d\n", n, a.Header.Seed)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	archivePath := fs.String("archive", "", "archive path (required)")
	_ = fs.Parse(args)

	a, err := snapshot.ReadArchive(*archivePath)
	if err != nil {
		config.Exitf("read archive: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(a)
}

// exportArchive decodes every region blob in the store. Blobs that no longer
// decode are counted and left out.
func exportArchive(ctx context.Context, db *indexdb.SQLiteStore) (snapshot.ArchiveV1, int, error) {
	var a snapshot.ArchiveV1
	if t, ok, err := db.RecordedTuning(ctx); err != nil {
		return a, 0, err
	} else if ok {
		a.Header.Seed = t.Seed
	}
	a.Header.Source = "sqlite"

	rows, err := db.List(ctx)
	if err != nil {
		return a, 0, err
	}
	skipped := 0
	for _, r := range rows {
		if r.Name != authority.BlobName {
			continue
		}
		b, ok, err := db.Get(r.Key, r.Name)
		if err != nil {
			return a, skipped, err
		}
		if !ok {
			continue
		}
		snap, err := snapshot.DecodeRegion(b)
		if err != nil {
			skipped++
			continue
		}
		a.Regions = append(a.Regions, snap)
	}
	return a, skipped, nil
}

func importArchive(db indexdb.Store, a snapshot.ArchiveV1) (int, error) {
	for i, snap := range a.Regions {
		var buf bytes.Buffer
		if err := snapshot.Write(&buf, snap); err != nil {
			return i, fmt.Errorf("encode %v: %w", snap.Key(), err)
		}
		if err := db.Put(snap.Key(), authority.BlobName, buf.Bytes()); err != nil {
			return i, err
		}
	}
	return len(a.Regions), nil
}
