package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Putter is the object store side of a Mirror.
type Putter interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

type Stats struct {
	Uploaded uint64
	Failed   uint64
}

// Mirror uploads files below dataDir, keyed by their path relative to it.
type Mirror struct {
	dst     Putter
	dataDir string
	prefix  string
	logger  *log.Logger

	attempts int
	backoff  time.Duration

	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func New(dst Putter, dataDir, prefix string, logger *log.Logger) *Mirror {
	return &Mirror{
		dst:      dst,
		dataDir:  dataDir,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:   logger,
		attempts: 4,
		backoff:  200 * time.Millisecond,
	}
}

// Upload pushes files concurrently and returns the first failure after every
// upload has finished or given up.
func (m *Mirror) Upload(ctx context.Context, files ...string) error {
	if m == nil || m.dst == nil {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, f := range files {
		g.Go(func() error { return m.uploadOne(ctx, f) })
	}
	return g.Wait()
}

// UploadDir mirrors every regular file under dir.
func (m *Mirror) UploadDir(ctx context.Context, dir string) error {
	if m == nil {
		return nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.Upload(ctx, files...)
}

func (m *Mirror) Stats() Stats {
	return Stats{Uploaded: m.uploaded.Load(), Failed: m.failed.Load()}
}

func (m *Mirror) uploadOne(ctx context.Context, local string) error {
	key, err := m.ObjectKey(local)
	if err != nil {
		return err
	}
	var last error
retry:
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if last = m.put(ctx, key, local); last == nil {
			m.uploaded.Add(1)
			m.printf("mirror uploaded key=%s", key)
			return nil
		}
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			last = ctx.Err()
			break retry
		case <-time.After(time.Duration(attempt*attempt) * m.backoff):
		}
	}
	m.failed.Add(1)
	m.printf("mirror upload failed key=%s err=%v", key, last)
	return fmt.Errorf("mirror %s: %w", key, last)
}

func (m *Mirror) put(ctx context.Context, key, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	return m.dst.Put(ctx, key, f)
}

// ObjectKey maps a local path under dataDir to its bucket key.
func (m *Mirror) ObjectKey(local string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("mirror: %s is outside %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
