// Package config loads SubDAAP's configuration: one or more Subsonic origin
// connections plus the local provider settings (catalog database path, file
// cache directories/sizes). Modeled on catalog-api's config.LoadConfig:
// defaults, then file overrides, then environment overrides, then
// validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/basilfx/subdaap/internal/errkind"
)

// SyncMode selects when a Connection is synchronized.
type SyncMode string

const (
	SyncManual   SyncMode = "manual"
	SyncStartup  SyncMode = "startup"
	SyncInterval SyncMode = "interval"
)

// TranscodeMode selects when a Connection requests a transcoded stream.
type TranscodeMode string

const (
	TranscodeNo          TranscodeMode = "no"
	TranscodeUnsupported TranscodeMode = "unsupported"
	TranscodeAll         TranscodeMode = "all"
)

// Connection is a single remote Subsonic origin.
type Connection struct {
	Name                     string        `json:"name"`
	URL                      string        `json:"url"`
	Username                 string        `json:"username"`
	Password                 string        `json:"password"`
	Synchronization          SyncMode      `json:"synchronization"`
	SynchronizationInterval  int           `json:"synchronization_interval_minutes"`
	Transcode                TranscodeMode `json:"transcode"`
	TranscodeUnsupportedList []string      `json:"transcode_unsupported"`
}

// Provider holds the local catalog/cache configuration.
type Provider struct {
	Name                      string `json:"name"`
	DatabasePath              string `json:"database_path"`
	ItemCacheDir              string `json:"item_cache_dir"`
	ItemCacheSizeMB           int    `json:"item_cache_size_mb"`
	ItemCachePruneThreshold   float64 `json:"item_cache_prune_threshold"`
	ArtworkCacheDir           string `json:"artwork_cache_dir"`
	ArtworkCacheSizeMB        int    `json:"artwork_cache_size_mb"`
	ArtworkCachePruneThreshold float64 `json:"artwork_cache_prune_threshold"`
	StatePath                 string `json:"state_path"`
}

// Config is the root configuration document.
type Config struct {
	Provider    Provider     `json:"provider"`
	Connections []Connection `json:"connections"`
}

// Load reads configuration from path, applying defaults and environment
// overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errkind.New(errkind.ConfigInvalid, "config.Load", fmt.Errorf("config file does not exist: %s", path))
			}
			return nil, errkind.New(errkind.ConfigInvalid, "config.Load", err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errkind.New(errkind.ConfigInvalid, "config.Load", fmt.Errorf("failed to parse config file: %w", err))
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, errkind.New(errkind.ConfigInvalid, "config.Load", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Provider: Provider{
			Name:                       "SubDAAP",
			DatabasePath:               "./catalog.db",
			ItemCacheDir:               "./cache/items",
			ItemCacheSizeMB:            0,
			ItemCachePruneThreshold:    0.25,
			ArtworkCacheDir:            "./cache/artwork",
			ArtworkCacheSizeMB:         0,
			ArtworkCachePruneThreshold: 0.1,
			StatePath:                  "./state.gob",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if name := os.Getenv("SUBDAAP_PROVIDER_NAME"); name != "" {
		cfg.Provider.Name = name
	}
	if dbPath := os.Getenv("SUBDAAP_DATABASE_PATH"); dbPath != "" {
		cfg.Provider.DatabasePath = dbPath
	}
}

func validate(cfg *Config) error {
	if cfg.Provider.DatabasePath == "" {
		return fmt.Errorf("provider.database_path cannot be empty")
	}
	if cfg.Provider.ItemCacheDir == "" || cfg.Provider.ArtworkCacheDir == "" {
		return fmt.Errorf("provider cache directories cannot be empty")
	}
	if cfg.Provider.ItemCachePruneThreshold <= 0 || cfg.Provider.ItemCachePruneThreshold >= 1 {
		return fmt.Errorf("provider.item_cache_prune_threshold must be in (0, 1)")
	}
	if cfg.Provider.ArtworkCachePruneThreshold <= 0 || cfg.Provider.ArtworkCachePruneThreshold >= 1 {
		return fmt.Errorf("provider.artwork_cache_prune_threshold must be in (0, 1)")
	}

	for i := range cfg.Connections {
		c := &cfg.Connections[i]
		if c.Name == "" {
			return fmt.Errorf("connections[%d].name cannot be empty", i)
		}
		if c.URL == "" {
			return fmt.Errorf("connections[%d].url cannot be empty", i)
		}
		switch c.Synchronization {
		case SyncManual, SyncStartup, SyncInterval:
		case "":
			c.Synchronization = SyncInterval
		default:
			return fmt.Errorf("connections[%d].synchronization invalid: %s", i, c.Synchronization)
		}
		if c.Synchronization == SyncInterval && c.SynchronizationInterval <= 0 {
			c.SynchronizationInterval = 1440
		}
		switch c.Transcode {
		case TranscodeNo, TranscodeUnsupported, TranscodeAll:
		case "":
			c.Transcode = TranscodeNo
		default:
			return fmt.Errorf("connections[%d].transcode invalid: %s", i, c.Transcode)
		}
	}

	return nil
}
