package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type ArchiveHeader struct {
	Version int    `json:"version"`
	Seed    int64  `json:"seed"`
	Count   int    `json:"count"`
	Source  string `json:"source,omitempty"`
}

// ArchiveV1 is an offline export of every persisted region.
type ArchiveV1 struct {
	Header  ArchiveHeader      `json:"header"`
	Regions []RegionSnapshotV1 `json:"regions"`
}

func WriteArchive(path string, a ArchiveV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	a.Header.Version = Version
	a.Header.Count = len(a.Regions)
	hb, _ := json.Marshal(a.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&a); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadArchive(path string) (ArchiveV1, error) {
	var a ArchiveV1
	f, err := os.Open(path)
	if err != nil {
		return a, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return a, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return a, fmt.Errorf("read header: %w", err)
	}
	var h ArchiveHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return a, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return a, fmt.Errorf("%w: %d", ErrSnapshotVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&a); err != nil {
		return a, fmt.Errorf("gob decode: %w", err)
	}
	return a, nil
}
