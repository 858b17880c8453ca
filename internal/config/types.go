package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Scrub     ScrubConfig     `yaml:"scrub" mapstructure:"scrub"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Rotation  RotationConfig  `yaml:"rotation" mapstructure:"rotation"`
	Mirror    MirrorConfig    `yaml:"mirror" mapstructure:"mirror"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Status    StatusConfig    `yaml:"status" mapstructure:"status"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// ScrubConfig contains PII detection and anonymization configuration
type ScrubConfig struct {
	Salt          string       `yaml:"salt" mapstructure:"salt"`
	Rules         []string     `yaml:"rules" mapstructure:"rules"`
	Disabled      []string     `yaml:"disabled" mapstructure:"disabled"`
	NamedEntities []string     `yaml:"named_entities" mapstructure:"named_entities"`
	HomeDomains   []string     `yaml:"home_domains" mapstructure:"home_domains"`
	CustomRules   []CustomRule `yaml:"custom_rules" mapstructure:"custom_rules"`
}

// CustomRule describes a corpus-owner supplied redaction rule. Custom rules
// run after the built-in catalog and always use static token replacement.
type CustomRule struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Regex string `yaml:"regex" mapstructure:"regex"`
	Token string `yaml:"token" mapstructure:"token"`
}

// SourcesConfig contains the corpus source roster
type SourcesConfig struct {
	MaxBodyChars int            `yaml:"max_body_chars" mapstructure:"max_body_chars"`
	Items        []SourceConfig `yaml:"items" mapstructure:"items"`
}

// SourceConfig describes one corpus source. Order in the list is the fixed
// source order that rotations cycle through.
type SourceConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Type     string `yaml:"type" mapstructure:"type"` // eml, mbox, csv, json, parquet
	Path     string `yaml:"path" mapstructure:"path"`
	Estimate int    `yaml:"estimate" mapstructure:"estimate"`
}

// RotationConfig contains batch scheduler configuration
type RotationConfig struct {
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	StateFile    string        `yaml:"state_file" mapstructure:"state_file"`
	OutputDir    string        `yaml:"output_dir" mapstructure:"output_dir"`
	OutputFormat string        `yaml:"output_format" mapstructure:"output_format"` // json or parquet
	ScanRate     int           `yaml:"scan_rate" mapstructure:"scan_rate"`         // records/sec, 0 = unlimited
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`           // scrubd only, 0 = manual trigger
}

// MirrorConfig contains the optional Redis pseudonym mirror configuration
type MirrorConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	URL       string        `yaml:"url" mapstructure:"url"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// WarehouseConfig contains the optional Postgres sink configuration
type WarehouseConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	BatchSize       int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// StatusConfig contains the status server configuration (scrubd)
type StatusConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	Username     string        `yaml:"username" mapstructure:"username"`
	Password     string        `yaml:"password" mapstructure:"password"`
	Events       struct {
		BroadcastRotations   bool `yaml:"broadcast_rotations" mapstructure:"broadcast_rotations"`
		BroadcastSources     bool `yaml:"broadcast_sources" mapstructure:"broadcast_sources"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Scrub: ScrubConfig{
			Salt:     "zero-enron-pii-salt-2024",
			Rules:    []string{"all"},
			Disabled: []string{"postal_code", "date_of_birth"},
			NamedEntities: []string{
				"Kenneth Lay", "Ken Lay", "Jeff Skilling", "Jeffrey Skilling",
				"Andrew Fastow", "Rebecca Mark", "Lou Pai", "Cliff Baxter",
				"Mark Frevert", "Rick Buy", "Rick Causey", "Ben Glisan",
				"Sherron Watkins",
			},
			HomeDomains: []string{"enron.com"},
		},
		Sources: SourcesConfig{
			MaxBodyChars: 10000,
		},
		Rotation: RotationConfig{
			BatchSize:    5000,
			StateFile:    "rotation_state.json",
			OutputDir:    "rotation_batches",
			OutputFormat: "json",
			ScanRate:     0,
			Interval:     0,
		},
		Mirror: MirrorConfig{
			Enabled:   false,
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "mailscrub:pseudonym:",
			TTL:       0,
		},
		Warehouse: WarehouseConfig{
			Enabled:         false,
			DatabaseURL:     "postgres://localhost:5432/mailscrub?sslmode=disable",
			BatchSize:       500,
			MaxConnections:  25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Status: StatusConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8088,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			Username:     "admin",
			Password:     "",
		},
	}

	cfg.Logging.File.Enabled = false
	cfg.Logging.File.Path = "logs/mailscrub.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	cfg.Status.Events.BroadcastRotations = true
	cfg.Status.Events.BroadcastSources = true
	cfg.Status.Events.BroadcastSystem = true
	cfg.Status.Events.BroadcastConnections = true

	return cfg
}
