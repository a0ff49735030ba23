// Package config handles amswatch configuration loading.
//
// Credentials come from the environment (optionally seeded from a .env
// file). Everything else has a working default and may be overridden
// by an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables holding the required printer credentials.
const (
	EnvToken  = "BAMBU_TOKEN"
	EnvUID    = "BAMBU_UID"
	EnvSerial = "BAMBU_SERIAL"
)

// MQTT protocol versions accepted by [BambuConfig.Protocol].
const (
	ProtocolV311 = "3.1.1"
	ProtocolV5   = "5"
)

// DefaultHistoryLimit is the number of snapshots retained in the
// history file when history_limit is unset.
const DefaultHistoryLimit = 500

// ErrMissingCredentials is returned by [Config.Validate] when any of the
// three required credentials is absent or empty.
var ErrMissingCredentials = errors.New(EnvToken + ", " + EnvUID + ", and " + EnvSerial + " must be set")

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./amswatch.yaml, ~/.config/amswatch/config.yaml,
// /etc/amswatch/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"amswatch.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "amswatch", "config.yaml"))
	}

	paths = append(paths, "/etc/amswatch/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise DefaultSearchPaths is searched and the first existing
// file is returned. Unlike credentials, the file itself is optional:
// an empty path and nil error mean "use defaults".
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all amswatch configuration.
type Config struct {
	DataDir      string        `yaml:"data_dir"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"` // text or json
	HistoryLimit int           `yaml:"history_limit"`
	Bambu        BambuConfig   `yaml:"bambu"`
	Archive      ArchiveConfig `yaml:"archive"`
	Metrics      MetricsConfig `yaml:"metrics"`
}

// BambuConfig defines the cloud MQTT connection and the printer to poll.
type BambuConfig struct {
	// Region selects the cloud broker: "us" (default) or "cn".
	Region string `yaml:"region"`
	// Broker overrides the region-derived broker URL.
	Broker string `yaml:"broker"`
	// Protocol is the MQTT protocol version: "3.1.1" (default) or "5".
	Protocol string `yaml:"protocol"`
	// WaitTimeoutSec bounds how long to wait for an AMS report.
	WaitTimeoutSec int `yaml:"wait_timeout_sec"`

	Token  string `yaml:"token"`
	UID    string `yaml:"uid"`
	Serial string `yaml:"serial"`
}

// BrokerURL returns the broker to connect to.
func (c BambuConfig) BrokerURL() string {
	if c.Broker != "" {
		return c.Broker
	}
	return "mqtts://" + c.Region + ".mqtt.bambulab.com:8883"
}

// Username returns the MQTT username the cloud broker expects for the
// configured account.
func (c BambuConfig) Username() string {
	return "u_" + c.UID
}

// WaitTimeout returns WaitTimeoutSec as a duration.
func (c BambuConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSec) * time.Second
}

// Missing returns the environment variable names of any unset
// credentials, in a stable order.
func (c BambuConfig) Missing() []string {
	var missing []string
	if c.Token == "" {
		missing = append(missing, EnvToken)
	}
	if c.UID == "" {
		missing = append(missing, EnvUID)
	}
	if c.Serial == "" {
		missing = append(missing, EnvSerial)
	}
	return missing
}

// ArchiveConfig enables the SQLite snapshot archive.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// Configured reports whether an archive database path is set.
func (c ArchiveConfig) Configured() bool {
	return c.Path != ""
}

// MetricsConfig enables the Prometheus textfile output.
type MetricsConfig struct {
	// Textfile is the .prom file written for node_exporter's textfile
	// collector.
	Textfile string `yaml:"textfile"`
}

// Configured reports whether a textfile path is set.
func (c MetricsConfig) Configured() bool {
	return c.Textfile != ""
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		LogLevel:     "info",
		LogFormat:    "text",
		HistoryLimit: DefaultHistoryLimit,
		Bambu: BambuConfig{
			Region:         "us",
			Protocol:       ProtocolV311,
			WaitTimeoutSec: 20,
		},
	}
}

// Load reads configuration from a YAML file on top of [Default].
// ${VAR} references are expanded with getenv before parsing; a nil
// getenv means os.Getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.Expand(string(data), getenv)

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults refills fields a config file explicitly zeroed.
func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.Bambu.Region == "" {
		c.Bambu.Region = def.Bambu.Region
	}
	if c.Bambu.Protocol == "" {
		c.Bambu.Protocol = def.Bambu.Protocol
	}
	if c.Bambu.WaitTimeoutSec <= 0 {
		c.Bambu.WaitTimeoutSec = def.Bambu.WaitTimeoutSec
	}

	c.DataDir = expandHome(c.DataDir)
	c.Archive.Path = expandHome(c.Archive.Path)
	c.Metrics.Textfile = expandHome(c.Metrics.Textfile)
}

// ApplyEnv overlays the credential environment variables. Non-empty
// environment values win over anything read from the config file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvToken); v != "" {
		c.Bambu.Token = v
	}
	if v := getenv(EnvUID); v != "" {
		c.Bambu.UID = v
	}
	if v := getenv(EnvSerial); v != "" {
		c.Bambu.Serial = v
	}
}

// Validate checks that credentials are present and that enumerated
// fields hold known values. Missing credentials wrap
// [ErrMissingCredentials].
func (c *Config) Validate() error {
	if missing := c.Bambu.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w (missing: %s)", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	switch strings.ToLower(strings.TrimSpace(c.Bambu.Protocol)) {
	case "3", "3.1.1", "311", "v3":
		c.Bambu.Protocol = ProtocolV311
	case "5", "v5":
		c.Bambu.Protocol = ProtocolV5
	default:
		return fmt.Errorf("unknown mqtt protocol %q (valid: 3.1.1, 5)", c.Bambu.Protocol)
	}

	if c.Bambu.Broker == "" && c.Bambu.Region != "us" && c.Bambu.Region != "cn" {
		return fmt.Errorf("unknown region %q (valid: us, cn)", c.Bambu.Region)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ReadDotEnv parses a .env file into a map without touching the process
// environment. A missing file yields a nil map and no error.
func ReadDotEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return env, nil
}

// LayerEnv returns a getenv function that consults primary first and
// falls back to values from a .env file.
func LayerEnv(primary func(string) string, fallback map[string]string) func(string) string {
	return func(key string) string {
		if v := primary(key); v != "" {
			return v
		}
		return fallback[key]
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
