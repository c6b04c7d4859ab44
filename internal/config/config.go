// Package config loads duzzle.yaml and applies DUZZLE_* environment
// overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"duzzle.ai/internal/ledger"
)

const (
	DefaultZoneCount        = 20
	DefaultDalCap           = 500_000
	DefaultCollectionName   = "Duzzle Puzzle Piece NFT"
	DefaultCollectionSymbol = "DZPZ"
)

type Config struct {
	DataDir          string `yaml:"data_dir" env:"DUZZLE_DATA_DIR"`
	ZoneCount        int    `yaml:"zone_count" env:"DUZZLE_ZONE_COUNT"`
	DalCap           uint64 `yaml:"dal_cap" env:"DUZZLE_DAL_CAP"`
	CollectionName   string `yaml:"collection_name" env:"DUZZLE_COLLECTION_NAME"`
	CollectionSymbol string `yaml:"collection_symbol" env:"DUZZLE_COLLECTION_SYMBOL"`
	BlueprintBaseURI string `yaml:"blueprint_base_uri" env:"DUZZLE_BLUEPRINT_BASE_URI"`
	OtelEndpoint     string `yaml:"otel_endpoint" env:"DUZZLE_OTEL_ENDPOINT"`

	// Journal mirrors committed events to rotating JSONL files.
	Journal bool `yaml:"journal" env:"DUZZLE_JOURNAL"`
	// ArchiveSeasons snapshots the closing season whenever a new one opens.
	ArchiveSeasons bool `yaml:"archive_seasons" env:"DUZZLE_ARCHIVE_SEASONS"`

	Mirror Mirror `yaml:"mirror" envPrefix:"DUZZLE_MIRROR_"`
}

// Mirror points at an S3-compatible bucket that receives season archives.
// Empty Endpoint disables it.
type Mirror struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
}

func (m Mirror) Enabled() bool { return m.Endpoint != "" }

func Defaults() Config {
	return Config{
		DataDir:          "data",
		ZoneCount:        DefaultZoneCount,
		DalCap:           DefaultDalCap,
		CollectionName:   DefaultCollectionName,
		CollectionSymbol: DefaultCollectionSymbol,
		Journal:          true,
		ArchiveSeasons:   true,
	}
}

// Load reads path (optional; empty means defaults only), then the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.CollectionName = strings.TrimSpace(c.CollectionName)
	c.CollectionSymbol = strings.TrimSpace(c.CollectionSymbol)
	c.BlueprintBaseURI = strings.TrimSpace(c.BlueprintBaseURI)
	c.OtelEndpoint = strings.TrimSpace(c.OtelEndpoint)
	c.Mirror.Endpoint = strings.TrimSpace(c.Mirror.Endpoint)
	c.Mirror.Bucket = strings.TrimSpace(c.Mirror.Bucket)
	c.Mirror.Prefix = strings.Trim(strings.TrimSpace(c.Mirror.Prefix), "/")
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ZoneCount <= 0 {
		return fmt.Errorf("zone_count must be > 0, got %d", c.ZoneCount)
	}
	if c.DalCap > ledger.MaxAmount {
		return fmt.Errorf("dal_cap %d out of range", c.DalCap)
	}
	if c.CollectionName == "" || c.CollectionSymbol == "" {
		return fmt.Errorf("collection_name and collection_symbol are required")
	}
	if c.Mirror.Enabled() && (c.Mirror.Bucket == "" || c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "") {
		return fmt.Errorf("mirror.endpoint requires bucket, access_key_id and secret_access_key")
	}
	return nil
}

func (c Config) Collection() ledger.Collection {
	return ledger.Collection{Name: c.CollectionName, Symbol: c.CollectionSymbol, BaseURI: c.BlueprintBaseURI}
}

func (c Config) DBPath() string      { return filepath.Join(c.DataDir, "ledger.sqlite") }
func (c Config) JournalDir() string  { return filepath.Join(c.DataDir, "events") }
func (c Config) SnapshotDir() string { return filepath.Join(c.DataDir, "snapshots") }
