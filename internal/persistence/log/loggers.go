package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelweather.ai/internal/sim/weather"
)

const (
	transitionsDir    = "transitions"
	transitionsPrefix = "transitions"
	hourLayout        = "2006-01-02-15"
)

// hourlyFile appends JSON lines to one zstd file per UTC hour. Every failed
// append is reported to onError.
type hourlyFile struct {
	dir     string
	prefix  string
	now     func() time.Time
	onError func(error)

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func (h *hourlyFile) append(v any) error {
	line, err := json.Marshal(v)
	if err == nil {
		err = h.appendLine(line)
	}
	if err != nil && h.onError != nil {
		h.onError(err)
	}
	return err
}

func (h *hourlyFile) appendLine(line []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if hour := h.now().UTC().Format(hourLayout); hour != h.hour || h.buf == nil {
		if err := h.openLocked(hour); err != nil {
			return err
		}
	}
	line = append(line, '\n')
	if _, err := h.buf.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", h.hour, err)
	}
	return h.buf.Flush()
}

func (h *hourlyFile) openLocked(hour string) error {
	if err := h.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.dir, fmt.Sprintf("%s-%s.jsonl.zst", h.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	h.hour, h.f, h.enc = hour, f, enc
	h.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (h *hourlyFile) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *hourlyFile) closeLocked() error {
	if h.f == nil {
		return nil
	}
	var flushErr error
	if h.buf != nil {
		flushErr = h.buf.Flush()
	}
	encErr := h.enc.Close()
	fileErr := h.f.Close()
	h.f, h.enc, h.buf = nil, nil, nil
	for _, err := range []error{flushErr, encErr, fileErr} {
		if err != nil {
			return fmt.Errorf("close %s: %w", h.hour, err)
		}
	}
	return nil
}

// TransitionEntry is one line of the transition log.
type TransitionEntry struct {
	Time    string `json:"ts"`
	RegionX int32  `json:"region_x"`
	RegionZ int32  `json:"region_z"`
	Kind    string `json:"kind"`
	Index   int32  `json:"index"`
	Code    string `json:"code"`
	Instant bool   `json:"instant,omitempty"`
}

// TransitionLogger records every pattern begin-use event to
// <data>/transitions/transitions-<hour>.jsonl.zst.
type TransitionLogger struct {
	file *hourlyFile

	written atomic.Uint64
	errs    atomic.Uint64
}

var _ weather.EventSink = (*TransitionLogger)(nil)

func NewTransitionLogger(dataDir string) *TransitionLogger {
	return newTransitionLogger(dataDir, time.Now)
}

func newTransitionLogger(dataDir string, now func() time.Time) *TransitionLogger {
	l := &TransitionLogger{}
	l.file = &hourlyFile{
		dir:     filepath.Join(dataDir, transitionsDir),
		prefix:  transitionsPrefix,
		now:     now,
		onError: func(error) { l.errs.Add(1) },
	}
	return l
}

func (l *TransitionLogger) BeginUse(ev weather.Event) {
	err := l.file.append(TransitionEntry{
		Time:    l.file.now().UTC().Format(time.RFC3339Nano),
		RegionX: ev.Region.X,
		RegionZ: ev.Region.Z,
		Kind:    ev.Kind.String(),
		Index:   ev.Index,
		Code:    ev.Code,
		Instant: ev.Instant,
	})
	if err == nil {
		l.written.Add(1)
	}
}

// Written counts entries appended to the log.
func (l *TransitionLogger) Written() uint64 { return l.written.Load() }

// WriteErrors counts entries that could not be written.
func (l *TransitionLogger) WriteErrors() uint64 { return l.errs.Load() }

func (l *TransitionLogger) Close() error { return l.file.close() }

// TransitionFilter selects entries in ReadTransitions. A nil filter keeps all.
type TransitionFilter func(TransitionEntry) bool

// ReadTransitions reads every hourly transition log under dataDir, oldest
// hour first.
func ReadTransitions(dataDir string, keep TransitionFilter) ([]TransitionEntry, error) {
	dir := filepath.Join(dataDir, transitionsDir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, transitionsPrefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	// Hour stamps sort lexically.
	sort.Strings(names)

	var out []TransitionEntry
	for _, name := range names {
		ents, err := readTransitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, e := range ents {
			if keep == nil || keep(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func readTransitionFile(path string) ([]TransitionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TransitionEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e TransitionEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
