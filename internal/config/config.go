// Package config loads the monitor's configuration from an optional
// YAML file layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every configurable value for the monitor process.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listenAddr"`

	// UpstreamURL is the base URL of the Ollama server being monitored
	// and proxied to.
	UpstreamURL string `yaml:"upstreamURL"`

	// ProcessName is matched case-insensitively as a substring against
	// running process names to find the watched inference process.
	ProcessName string `yaml:"processName"`

	// DBDriver selects the store backend: "sqlite" or "postgres".
	DBDriver string `yaml:"dbDriver"`
	// DBPath is the SQLite database file (sqlite driver only).
	DBPath string `yaml:"dbPath"`
	// DBDSN is the connection string (postgres driver only).
	DBDSN string `yaml:"dbDSN"`

	// SampleInterval is the sleep between successful sampler ticks.
	SampleInterval Duration `yaml:"sampleInterval"`
	// ErrorBackoff is the sleep after a failed sampler tick.
	ErrorBackoff Duration `yaml:"errorBackoff"`

	// ProxyTimeout bounds every forwarded upstream call.
	ProxyTimeout Duration `yaml:"proxyTimeout"`
	// GenerateTimeout bounds the internal generation test.
	GenerateTimeout Duration `yaml:"generateTimeout"`
}

// Default returns a configuration with the stock values.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		UpstreamURL:     "http://localhost:11434",
		ProcessName:     "ollama",
		DBDriver:        "sqlite",
		DBPath:          "ollamon.db",
		SampleInterval:  Duration(5 * time.Second),
		ErrorBackoff:    Duration(10 * time.Second),
		ProxyTimeout:    Duration(10 * time.Second),
		GenerateTimeout: Duration(120 * time.Second),
	}
}

// Load reads and parses a YAML configuration file, overlaying it on the
// defaults. A missing file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("upstreamURL must not be empty")
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("dbPath must not be empty for the sqlite driver")
		}
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("dbDSN must not be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown dbDriver %q (want sqlite or postgres)", c.DBDriver)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sampleInterval must be positive")
	}
	if c.ErrorBackoff <= 0 {
		return fmt.Errorf("errorBackoff must be positive")
	}
	if c.ProxyTimeout <= 0 {
		return fmt.Errorf("proxyTimeout must be positive")
	}
	return nil
}
