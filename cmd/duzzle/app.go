package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"duzzle.ai/internal/config"
	"duzzle.ai/internal/engine"
	"duzzle.ai/internal/persistence/archive"
	"duzzle.ai/internal/persistence/journal"
	"duzzle.ai/internal/persistence/mirror"
	"duzzle.ai/internal/persistence/snapshot"
	"duzzle.ai/internal/persistence/store"
	"duzzle.ai/internal/platform/otel"
)

// app is everything one CLI invocation needs, opened from the config.
type app struct {
	cfg     config.Config
	logger  *log.Logger
	store   *store.SQLite
	journal *journal.Writer
	engine  *engine.Engine
	mirror  *mirror.Mirror
	caller  common.Address

	shutdownTracing func(context.Context) error
}

type commonFlags struct {
	config *string
	as     *string
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", os.Getenv("DUZZLE_CONFIG"), "path to duzzle.yaml (optional)"),
		as:     fs.String("as", os.Getenv("DUZZLE_AS"), "address the command is sent from"),
	}
}

func openApp(ctx context.Context, f commonFlags) (*app, error) {
	cfg, err := config.Load(*f.config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{
		cfg:    cfg,
		logger: log.New(os.Stdout, "[duzzle] ", log.LstdFlags|log.Lmicroseconds),
	}
	if s := strings.TrimSpace(*f.as); s != "" {
		if a.caller, err = parseAddr(s); err != nil {
			return nil, fmt.Errorf("-as: %w", err)
		}
	}

	a.shutdownTracing, err = otel.Setup(ctx, "duzzle", cfg.OtelEndpoint)
	if err != nil {
		a.logger.Printf("tracing disabled: %v", err)
	}

	if m := cfg.Mirror; m.Enabled() {
		bucket, err := mirror.NewBucket(m.Endpoint, m.Bucket, m.AccessKeyID, m.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		a.mirror = mirror.New(bucket, cfg.DataDir, m.Prefix, a.logger)
	}

	a.store, err = store.OpenSQLite(ctx, cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath(), err)
	}
	var sinks []engine.EventSink
	if cfg.Journal {
		a.journal = journal.NewWriter(cfg.JournalDir(), "events")
		sinks = append(sinks, a.journal)
	}
	a.engine, err = engine.Open(ctx, a.store, engine.Options{Logger: a.logger, Sinks: sinks})
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Printf("close journal: %v", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Printf("shutdown tracing: %v", err)
		}
	}
	return a.store.Close()
}

func (a *app) requireCaller() (common.Address, error) {
	if a.caller == (common.Address{}) {
		return common.Address{}, errors.New("missing -as (or DUZZLE_AS)")
	}
	return a.caller, nil
}

// archiveClosed writes before, the state captured just ahead of an open
// attempt, as the archive of the season it closed. Nothing is written unless
// a new season actually opened.
func (a *app) archiveClosed(ctx context.Context, before snapshot.Snapshot) error {
	closed := before.Header.Season
	if !a.cfg.ArchiveSeasons || closed == 0 || a.engine.CurrentSeason() == closed {
		return nil
	}
	path := filepath.Join(a.cfg.SnapshotDir(), fmt.Sprintf("season-%03d.snap.zst", closed))
	if err := snapshot.Write(path, before); err != nil {
		return fmt.Errorf("snapshot season %d: %w", closed, err)
	}
	dst, err := archive.ArchiveSeasonSnapshot(a.cfg.DataDir, closed, path, before.Header, before.Header.CreatedAt)
	if err != nil {
		return fmt.Errorf("archive season %d: %w", closed, err)
	}
	if err := a.store.RecordArchive(ctx, store.Archive{Season: closed, Path: dst, RecordedAt: before.Header.CreatedAt}); err != nil {
		return fmt.Errorf("record archive: %w", err)
	}
	a.logger.Printf("archived season %d to %s", closed, dst)
	if err := a.mirror.UploadDir(ctx, archive.Dir(a.cfg.DataDir, closed)); err != nil {
		// The local archive is complete; mirror-archives redoes the upload.
		a.logger.Printf("mirror season %d: %v", closed, err)
	}
	return nil
}

func parseAddr(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not an address: %q", s)
	}
	return common.HexToAddress(s), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAddrList(s string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range splitList(s) {
		a, err := parseAddr(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parseUintList(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range splitList(s) {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a count: %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
