// Package snapshot exports and imports the whole ledger as one file: a JSON
// header line followed by a gob-encoded ledger.Changes, all zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"duzzle.ai/internal/ledger"
)

const Version = 1

type Header struct {
	Version   int       `json:"version"`
	Season    int       `json:"season"`
	NextEvent uint64    `json:"next_event"`
	Pieces    uint64    `json:"pieces"`
	CreatedAt time.Time `json:"created_at"`
}

type Snapshot struct {
	Header Header
	State  *ledger.Changes
}

// New captures st. The result shares nothing with st.
func New(st *ledger.State, now time.Time) Snapshot {
	dump := st.Dump()
	return Snapshot{
		Header: Header{
			Version:   Version,
			Season:    dump.Meta.CurrentSeason,
			NextEvent: dump.Meta.NextEvent,
			Pieces:    dump.Meta.NextPiece,
			CreatedAt: now.UTC(),
		},
		State: dump,
	}
}

func Write(path string, snap Snapshot) error {
	if snap.State == nil {
		return fmt.Errorf("snapshot has no state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap.State); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	if snap.Header, err = readHeader(br); err != nil {
		return snap, err
	}
	snap.State = &ledger.Changes{}
	if err := gob.NewDecoder(br).Decode(snap.State); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	return h, nil
}
