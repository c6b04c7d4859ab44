package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"duzzle.ai/internal/persistence/snapshot"
)

type SeasonArchiveMeta struct {
	Season    int    `json:"season"`
	Snapshot  string `json:"snapshot"`
	NextEvent uint64 `json:"next_event"`
	Pieces    uint64 `json:"pieces"`
	CreatedAt string `json:"created_at"`
}

// Dir is where season's archive lives under dataDir.
func Dir(dataDir string, season int) string {
	return filepath.Join(dataDir, "archives", fmt.Sprintf("season_%03d", season))
}

// ArchiveSeasonSnapshot copies a snapshot taken at the close of season into
// `dataDir/archives/season_<NNN>/` next to a meta.json, and returns the copy's
// path.
func ArchiveSeasonSnapshot(dataDir string, season int, snapshotPath string, h snapshot.Header, now time.Time) (string, error) {
	if season <= 0 {
		return "", fmt.Errorf("season %d has nothing to archive", season)
	}
	dir := Dir(dataDir, season)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := SeasonArchiveMeta{
		Season:    season,
		Snapshot:  filepath.Base(dst),
		NextEvent: h.NextEvent,
		Pieces:    h.Pieces,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func ReadMeta(dataDir string, season int) (SeasonArchiveMeta, error) {
	var m SeasonArchiveMeta
	b, err := os.ReadFile(filepath.Join(Dir(dataDir, season), "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
