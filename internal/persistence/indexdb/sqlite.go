package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelweather.ai/internal/sim/catalogs"
	"voxelweather.ai/internal/sim/tuning"
	"voxelweather.ai/internal/sim/weather"
)

// SQLiteStore persists region blobs. Writes are queued to a single writer
// goroutine and committed in batches; Put never blocks the caller.
type SQLiteStore struct {
	db *sql.DB

	ch   chan putReq
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	// Rows queued or in an uncommitted tx. Get reads these first.
	mu      sync.Mutex
	pending map[rowKey]pendingRow
	seq     uint64

	putTotal       atomic.Uint64
	dropTotal      atomic.Uint64
	commitTotal    atomic.Uint64
	flushFailTotal atomic.Uint64
}

type pendingRow struct {
	seq  uint64
	data []byte
}

type putReq struct {
	key  rowKey
	seq  uint64
	data []byte
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	Pending        int
	PutTotal       uint64
	DropTotal      uint64
	CommitTotal    uint64
	FlushFailTotal uint64
}

type RowInfo struct {
	Key       weather.RegionKey
	Name      string
	Size      int
	UpdatedAt string
}

const defaultQueue = 4096

func OpenSQLite(path string) (*SQLiteStore, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer plus a few WAL readers so Get does not wait on an open batch.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	insert, err := db.Prepare(upsertRegion)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare region upsert: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		ch:      make(chan putReq, queue),
		pending: map[rowKey]pendingRow{},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(insert)
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS region_data (
			region_x INTEGER NOT NULL,
			region_z INTEGER NOT NULL,
			name TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (region_x, region_z, name)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, writes anything that was dropped or rolled back,
// and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = errors.Join(s.flushPending(), s.db.Close())
	})
	return err
}

func (s *SQLiteStore) Put(key weather.RegionKey, name string, data []byte) error {
	if s == nil {
		return nil
	}
	if s.closed.Load() {
		return fmt.Errorf("store closed")
	}
	k := rowKey{Key: key, Name: name}
	cp := append([]byte(nil), data...)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.pending[k] = pendingRow{seq: seq, data: cp}
	s.mu.Unlock()

	s.putTotal.Add(1)
	select {
	case s.ch <- putReq{key: k, seq: seq, data: cp}:
	default:
		// The row stays pending; Close writes it.
		s.dropTotal.Add(1)
	}
	return nil
}

func (s *SQLiteStore) Get(key weather.RegionKey, name string) ([]byte, bool, error) {
	k := rowKey{Key: key, Name: name}
	s.mu.Lock()
	p, ok := s.pending[k]
	s.mu.Unlock()
	if ok {
		return append([]byte(nil), p.data...), true, nil
	}

	var b []byte
	err := s.db.QueryRow(
		`SELECT data FROM region_data WHERE region_x=? AND region_z=? AND name=?`,
		key.X, key.Z, name,
	).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// List returns metadata for every stored row, ordered by region then name.
// Rows still waiting for the writer are included with an empty UpdatedAt.
func (s *SQLiteStore) List(ctx context.Context) ([]RowInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region_x, region_z, name, length(data), updated_at FROM region_data
		 ORDER BY region_x, region_z, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RowInfo
	seen := map[rowKey]int{}
	for rows.Next() {
		var ri RowInfo
		if err := rows.Scan(&ri.Key.X, &ri.Key.Z, &ri.Name, &ri.Size, &ri.UpdatedAt); err != nil {
			return nil, err
		}
		seen[rowKey{Key: ri.Key, Name: ri.Name}] = len(out)
		out = append(out, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	merged := false
	for k, p := range s.pending {
		if i, ok := seen[k]; ok {
			out[i].Size = len(p.data)
			out[i].UpdatedAt = ""
			continue
		}
		out = append(out, RowInfo{Key: k.Key, Name: k.Name, Size: len(p.data)})
		merged = true
	}
	s.mu.Unlock()
	if merged {
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if a.Key.X != b.Key.X {
				return a.Key.X < b.Key.X
			}
			if a.Key.Z != b.Key.Z {
				return a.Key.Z < b.Key.Z
			}
			return a.Name < b.Name
		})
	}
	return out, nil
}

func (s *SQLiteStore) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		Pending:        pending,
		PutTotal:       s.putTotal.Load(),
		DropTotal:      s.dropTotal.Load(),
		CommitTotal:    s.commitTotal.Load(),
		FlushFailTotal: s.flushFailTotal.Load(),
	}
}

// UpsertCatalogs records the pattern catalogs and tuning a session runs with.
func (s *SQLiteStore) UpsertCatalogs(reg *catalogs.Registry, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(reg.Weather); len(b) > 0 {
		rows = append(rows, kv{name: "weather_patterns", digest: reg.WeatherDigest, json: b})
	}
	if b, _ := json.Marshal(reg.Wind); len(b) > 0 {
		rows = append(rows, kv{name: "wind_patterns", digest: reg.WindDigest, json: b})
	}
	if b, _ := json.Marshal(tune); len(b) > 0 {
		rows = append(rows, kv{name: "tuning", digest: tune.Digest(), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordedTuning returns the tuning stored by the last UpsertCatalogs.
func (s *SQLiteStore) RecordedTuning(ctx context.Context) (tuning.Tuning, bool, error) {
	var t tuning.Tuning
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT json FROM catalogs WHERE name='tuning'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return t, false, fmt.Errorf("decode tuning: %w", err)
	}
	return t, true, nil
}

// CatalogDigest returns the recorded digest for a catalog name.
func (s *SQLiteStore) CatalogDigest(ctx context.Context, name string) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

const upsertRegion = `INSERT OR REPLACE INTO region_data(region_x,region_z,name,data,updated_at) VALUES(?,?,?,?,?)`

func (s *SQLiteStore) loop(insert *sql.Stmt) {
	ctx := context.Background()
	defer insert.Close()

	var (
		tx            *sql.Tx
		batch         []putReq
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 250 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.flushFailTotal.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		batch = batch[:0]
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.flushFailTotal.Add(1)
		} else {
			s.commitTotal.Add(1)
			s.clearPending(batch)
		}
		tx = nil
		batch = batch[:0]
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.flushFailTotal.Add(1)
		tx = nil
		batch = batch[:0]
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			now := time.Now().UTC().Format(time.RFC3339Nano)
			if _, err := tx.Stmt(insert).Exec(r.key.Key.X, r.key.Key.Z, r.key.Name, r.data, now); err != nil {
				rollback()
				continue
			}
			batch = append(batch, r)
			if len(batch) >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}

// clearPending forgets rows whose newest queued version is now on disk.
func (s *SQLiteStore) clearPending(batch []putReq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range batch {
		if p, ok := s.pending[r.key]; ok && p.seq == r.seq {
			delete(s.pending, r.key)
		}
	}
}

func (s *SQLiteStore) flushPending() error {
	s.mu.Lock()
	rows := make([]putReq, 0, len(s.pending))
	for k, p := range s.pending {
		rows = append(rows, putReq{key: k, seq: p.seq, data: p.data})
	}
	s.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if _, err := tx.Exec(upsertRegion, r.key.Key.X, r.key.Key.Z, r.key.Name, r.data, now); err != nil {
			return fmt.Errorf("flush %v/%s: %w", r.key.Key, r.key.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.clearPending(rows)
	return nil
}
