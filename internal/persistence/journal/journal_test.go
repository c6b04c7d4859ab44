package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/ledger"
)

func emit(n int) []ledger.Event {
	tx := ledger.NewState().Begin()
	for i := 0; i < n; i++ {
		tx.Emit(ledger.KindMint, 1, ledger.Mint{To: common.HexToAddress("0xa1"), TokenID: uint64(i)})
	}
	return tx.Events()
}

func TestWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 5, 1, 10, 59, 0, 0, time.UTC)
	w := NewWriter(dir, "events")
	w.now = func() time.Time { return clock }

	evs := emit(3)
	if err := w.Publish(evs[:2]); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Publish(evs[2:]); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, name := range []string{"events-2026-05-01-10.jsonl.zst", "events-2026-05-01-11.jsonl.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	got, err := ReadAll(dir, "events")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events=%d want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i) || e.Kind != ledger.KindMint || e.Topic != ledger.KindMint.Topic() {
			t.Fatalf("event %d = %+v", i, e)
		}
	}
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	evs := emit(2)
	for _, e := range evs {
		w := NewWriter(dir, "events")
		w.now = func() time.Time { return clock }
		if err := w.Publish([]ledger.Event{e}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		_ = w.Close()
	}
	got, err := ReadAll(dir, "events")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 || got[1].Seq != 1 {
		t.Fatalf("got=%+v", got)
	}
}

func TestReadAll_MissingDir(t *testing.T) {
	got, err := ReadAll(filepath.Join(t.TempDir(), "nope"), "events")
	if err != nil || got != nil {
		t.Fatalf("got=%v err=%v", got, err)
	}
}
