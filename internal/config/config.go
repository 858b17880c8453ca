package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("mailscrub")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/mailscrub/")
	viper.AddConfigPath("$HOME/.mailscrub/")

	// Environment variable overrides
	viper.SetEnvPrefix("MAILSCRUB")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Scrub.Salt == "" {
		return fmt.Errorf("scrub salt must not be empty")
	}

	for _, rule := range config.Scrub.CustomRules {
		if rule.Name == "" {
			return fmt.Errorf("custom rule with empty name")
		}
		if _, err := regexp.Compile(rule.Regex); err != nil {
			return fmt.Errorf("custom rule %s: invalid regex: %w", rule.Name, err)
		}
	}

	if config.Rotation.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", config.Rotation.BatchSize)
	}

	if config.Rotation.StateFile == "" {
		return fmt.Errorf("state file path must not be empty")
	}

	if config.Rotation.OutputFormat != "json" && config.Rotation.OutputFormat != "parquet" {
		return fmt.Errorf("invalid output format: %s (must be json or parquet)", config.Rotation.OutputFormat)
	}

	if config.Rotation.ScanRate < 0 {
		return fmt.Errorf("invalid scan rate: %d", config.Rotation.ScanRate)
	}

	seen := make(map[string]bool, len(config.Sources.Items))
	for _, src := range config.Sources.Items {
		if src.Name == "" {
			return fmt.Errorf("source with empty name")
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		seen[src.Name] = true

		switch src.Type {
		case "eml", "mbox", "csv", "json", "parquet":
		default:
			return fmt.Errorf("source %s: invalid type: %s (must be eml, mbox, csv, json, or parquet)", src.Name, src.Type)
		}

		if src.Path == "" {
			return fmt.Errorf("source %s: path must not be empty", src.Name)
		}
	}

	if config.Status.Enabled {
		if config.Status.Port <= 0 || config.Status.Port > 65535 {
			return fmt.Errorf("invalid status port: %d", config.Status.Port)
		}
	}

	if config.Warehouse.Enabled && config.Warehouse.DatabaseURL == "" {
		return fmt.Errorf("warehouse enabled without database_url")
	}

	if config.Mirror.Enabled && config.Mirror.URL == "" {
		return fmt.Errorf("mirror enabled without url")
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
