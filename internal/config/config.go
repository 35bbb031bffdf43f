package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// PathEnv points at the YAML config file.
	PathEnv = "ROADWATCH_CONFIG"

	databaseDSNEnv = "DATABASE_DSN"
	dataDirEnv     = "ROADWATCH_DATA_DIR"
	baseURLEnv     = "ROADWATCH_BASE_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Archive    ArchiveConfig    `yaml:"archive"`
	Crawl      CrawlConfig      `yaml:"crawl"`
	Boundaries BoundariesConfig `yaml:"boundaries"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ArchiveConfig describes the upstream replication archive.
type ArchiveConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	DiffEpoch string `yaml:"diffEpoch"`
}

// CrawlConfig groups concurrency and retry knobs for the pipeline.
type CrawlConfig struct {
	DataDir          string `yaml:"dataDir"`
	StartDay         string `yaml:"startDay"`
	DayWorkers       int    `yaml:"dayWorkers"`
	DownloadWorkers  int    `yaml:"downloadWorkers"`
	DownloadGate     int    `yaml:"downloadGate"`
	DownloadAttempts int    `yaml:"downloadAttempts"`
	ExtractWorkers   int    `yaml:"extractWorkers"`
}

// BoundariesConfig locates the reference polygon files for location
// assignment and names the property holding each region's label.
type BoundariesConfig struct {
	CountriesPath  string `yaml:"countriesPath"`
	CountryNameKey string `yaml:"countryNameKey"`
	StatesPath     string `yaml:"statesPath"`
	StateNameKey   string `yaml:"stateNameKey"`
}

// StorageConfig locates the running aggregate and the crawl status file.
type StorageConfig struct {
	AggregatePath string `yaml:"aggregatePath"`
	StatusPath    string `yaml:"statusPath"`
}

// DatabaseConfig describes the PostGIS sink connection. An empty DSN
// disables the sink.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(PathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(dataDirEnv); v != "" {
		c.Crawl.DataDir = v
	}

	if v := os.Getenv(baseURLEnv); v != "" {
		c.Archive.BaseURL = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Archive.BaseURL != "" {
		base.Archive.BaseURL = override.Archive.BaseURL
	}
	if override.Archive.DiffEpoch != "" {
		base.Archive.DiffEpoch = override.Archive.DiffEpoch
	}

	if override.Crawl.DataDir != "" {
		base.Crawl.DataDir = override.Crawl.DataDir
	}
	if override.Crawl.StartDay != "" {
		base.Crawl.StartDay = override.Crawl.StartDay
	}
	if override.Crawl.DayWorkers > 0 {
		base.Crawl.DayWorkers = override.Crawl.DayWorkers
	}
	if override.Crawl.DownloadWorkers > 0 {
		base.Crawl.DownloadWorkers = override.Crawl.DownloadWorkers
	}
	if override.Crawl.DownloadGate > 0 {
		base.Crawl.DownloadGate = override.Crawl.DownloadGate
	}
	if override.Crawl.DownloadAttempts > 0 {
		base.Crawl.DownloadAttempts = override.Crawl.DownloadAttempts
	}
	if override.Crawl.ExtractWorkers > 0 {
		base.Crawl.ExtractWorkers = override.Crawl.ExtractWorkers
	}

	if override.Boundaries.CountriesPath != "" {
		base.Boundaries.CountriesPath = override.Boundaries.CountriesPath
	}
	if override.Boundaries.CountryNameKey != "" {
		base.Boundaries.CountryNameKey = override.Boundaries.CountryNameKey
	}
	if override.Boundaries.StatesPath != "" {
		base.Boundaries.StatesPath = override.Boundaries.StatesPath
	}
	if override.Boundaries.StateNameKey != "" {
		base.Boundaries.StateNameKey = override.Boundaries.StateNameKey
	}

	if override.Storage.AggregatePath != "" {
		base.Storage.AggregatePath = override.Storage.AggregatePath
	}
	if override.Storage.StatusPath != "" {
		base.Storage.StatusPath = override.Storage.StatusPath
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Archive: ArchiveConfig{
			BaseURL: "https://planet.openstreetmap.org/replication",
			// the daily diff sequence starts the day after this date
			DiffEpoch: "2012-09-11",
		},
		Crawl: CrawlConfig{
			DataDir:          "data",
			DayWorkers:       20,
			DownloadWorkers:  4,
			DownloadGate:     4,
			DownloadAttempts: 8,
			ExtractWorkers:   6,
		},
		Boundaries: BoundariesConfig{
			CountriesPath:  "misc/world_countries.geojson",
			CountryNameKey: "COUNTRYAFF",
			StatesPath:     "misc/us-states.json",
			StateNameKey:   "name",
		},
		Storage: StorageConfig{
			AggregatePath: "data/changes_aggregated/all.csv.gz",
			StatusPath:    "status.json",
		},
		Database: DatabaseConfig{DSN: ""},
		Logging:  LoggingConfig{Level: "info"},
	}
}
