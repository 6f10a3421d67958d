package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bridge daemon.
type Config struct {
	// StorePath is the SQLite database file.
	StorePath string `yaml:"storePath"`

	// DefaultPDS is the endpoint used before an account's own PDS is
	// resolved.
	DefaultPDS string `yaml:"defaultPds"`

	// FirehoseURL is the Jetstream WebSocket endpoint for the
	// delete-watcher. Empty disables the watcher.
	FirehoseURL string `yaml:"firehoseUrl"`

	// PollInterval gates how often each account's inbound passes run.
	PollInterval time.Duration `yaml:"pollInterval"`

	// CleanupInterval gates mirror pruning.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// MirrorMaxAge is how long unreferenced mirrors are kept.
	MirrorMaxAge time.Duration `yaml:"mirrorMaxAge"`

	// SegmentMaxLen is the protocol text limit per post segment.
	SegmentMaxLen int `yaml:"segmentMaxLen"`

	// PageSize bounds how many entries each remote pass requests.
	PageSize int `yaml:"pageSize"`

	// Feeds lists the at:// URIs of curated feeds to import.
	Feeds []string `yaml:"feeds"`

	// Languages restricts feed imports to these language codes; empty
	// accepts everything.
	Languages []string `yaml:"languages"`
}

func defaults() *Config {
	return &Config{
		StorePath:       "atbridge.db",
		DefaultPDS:      "https://bsky.social",
		FirehoseURL:     "wss://jetstream1.us-east.bsky.network/subscribe",
		PollInterval:    5 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		MirrorMaxAge:    7 * 24 * time.Hour,
		SegmentMaxLen:   300,
		PageSize:        100,
	}
}

// Load reads the optional YAML config file and applies environment-variable
// overrides. A missing file just yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(buf, cfg); err != nil {
				return nil, fmt.Errorf("in config file %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("ATBRIDGE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("ATBRIDGE_PDS"); v != "" {
		cfg.DefaultPDS = v
	}
	if v := os.Getenv("ATBRIDGE_FIREHOSE_URL"); v != "" {
		cfg.FirehoseURL = v
	}
	if v := os.Getenv("ATBRIDGE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ATBRIDGE_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("ATBRIDGE_SEGMENT_MAX_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ATBRIDGE_SEGMENT_MAX_LEN: %w", err)
		}
		cfg.SegmentMaxLen = n
	}

	if cfg.SegmentMaxLen <= 0 {
		return nil, fmt.Errorf("segmentMaxLen must be positive")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("pageSize must be positive")
	}
	return cfg, nil
}
