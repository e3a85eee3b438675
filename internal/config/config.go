// Package config holds the runtime options enumerated for the core: the
// library root, worker pool sizes, cache budgets, and the download
// subsystem's retry/chunk/guard knobs, with the validation and clamping
// the original always applied before handing a value to a component.
// Grounded on the teacher's internal/config.ConfigManager for the
// load-defaults-then-override-then-persist shape, rebacked onto
// internal/store instead of the teacher's sqlite-backed key/value
// storage (the teacher's AI-interface toggle/token/port settings have no
// equivalent here and are dropped; nothing in this system starts an
// embedded AI server).
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"yandecore/internal/store"
)

// Download groups the resumable-downloader knobs.
type Download struct {
	MaxRetries    int     `json:"max_retries"`
	TimeoutSec    int     `json:"timeout"`
	RetryDelaySec float64 `json:"retry_delay"`
	ChunkSize     int     `json:"chunk_size"`
	MaxFileMB     int     `json:"max_file_mb"`
	DiskMinFreeGB float64 `json:"disk_min_free_gb"`
}

// Config is the full set of runtime options. Every field carries the
// default named in the configuration table; Validate clamps anything out
// of range rather than rejecting the whole document, matching the
// source's "best effort, always usable" posture.
type Config struct {
	BaseDir  string `json:"base_dir"`
	APIURL   string `json:"api_url"`
	Limit    int    `json:"limit"`    // 1-1000
	ConnectTimeoutSec int `json:"connect_timeout"`
	ReadTimeoutSec    int `json:"read_timeout"`

	MaxDownloadWorkers int `json:"max_download_workers"` // 1-10
	PreloadWorkers     int `json:"preload_workers"`
	PreloadCount       int `json:"preload_count"` // 1-50

	MaxImageCache int `json:"max_image_cache"` // >= 10
	MaxMemoryMB   int `json:"max_memory_mb"`

	MaxBrowseHistory int `json:"max_browse_history"`

	HighScoreThreshold int `json:"high_score_threshold"`

	Download Download `json:"download"`

	MaxFileMB  int `json:"max_file_mb"`  // hard cap enforced by the disk guard
	DiskMaxGB  int `json:"disk_max_gb"`  // informational only

	AllowedSchemes []string `json:"allowed_schemes"`
	AllowedHosts   []string `json:"allowed_hosts"`
}

// Defaults returns the configuration table's defaults unmodified.
func Defaults() Config {
	return Config{
		BaseDir:           "love",
		Limit:             100,
		ConnectTimeoutSec: 10,
		ReadTimeoutSec:    30,

		MaxDownloadWorkers: 3,
		PreloadWorkers:     8,
		PreloadCount:       15,

		MaxImageCache: 50,
		MaxMemoryMB:   500,

		MaxBrowseHistory: 500,

		HighScoreThreshold: 10,

		Download: Download{
			MaxRetries:    3,
			TimeoutSec:    30,
			RetryDelaySec: 2.0,
			ChunkSize:     8192,
			MaxFileMB:     200,
			DiskMinFreeGB: 1.0,
		},

		MaxFileMB: 512,
		DiskMaxGB: 20,

		AllowedSchemes: []string{"https"},
		AllowedHosts:   nil,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate clamps every bounded field to its documented range in place.
// It never returns an error: out-of-range input is repaired, not
// rejected, matching the teacher's defensive-load idiom of always
// producing something usable.
func (c *Config) Validate() {
	if c.BaseDir == "" {
		c.BaseDir = "love"
	}
	c.Limit = clampInt(c.Limit, 1, 1000)
	c.MaxDownloadWorkers = clampInt(c.MaxDownloadWorkers, 1, 10)
	if c.PreloadWorkers <= 0 {
		c.PreloadWorkers = 8
	}
	c.PreloadCount = clampInt(c.PreloadCount, 1, 50)
	if c.MaxImageCache < 10 {
		c.MaxImageCache = 10
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = 500
	}
	if c.MaxBrowseHistory < 0 {
		c.MaxBrowseHistory = 500
	}
	if c.Download.MaxRetries < 0 {
		c.Download.MaxRetries = 3
	}
	if c.Download.ChunkSize <= 0 {
		c.Download.ChunkSize = 8192
	}
	if c.Download.MaxFileMB <= 0 {
		c.Download.MaxFileMB = 200
	}
	if c.Download.DiskMinFreeGB <= 0 {
		c.Download.DiskMinFreeGB = 1.0
	}
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 512
	}
	if len(c.AllowedSchemes) == 0 {
		c.AllowedSchemes = []string{"https"}
	}
}

// Manager loads and persists a Config as config.json under a base
// directory, using the atomic store for crash-safe writes.
type Manager struct {
	path   string
	store  *store.Store
	logger *slog.Logger
}

// New constructs a Manager whose document lives at
// filepath.Join(dir, "config.json").
func New(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: filepath.Join(dir, "config.json"), store: store.New(logger), logger: logger}
}

// Load reads the persisted config, falling back to Defaults() on any
// missing or malformed document, then validates the result.
func (m *Manager) Load() Config {
	cfg := store.LoadJSON(m.store, m.path, Defaults())
	cfg.Validate()
	return cfg
}

// Save validates and persists cfg.
func (m *Manager) Save(cfg Config) error {
	cfg.Validate()
	if err := m.store.SaveJSON(m.path, cfg); err != nil {
		return fmt.Errorf("config: save failed: %w", err)
	}
	return nil
}

// FactoryReset persists Defaults() and returns it.
func (m *Manager) FactoryReset() Config {
	cfg := Defaults()
	if err := m.Save(cfg); err != nil {
		m.logger.Warn("config: factory reset save failed", "error", err)
	}
	return cfg
}
