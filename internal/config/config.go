// Package config handles configuration loading, validation, and management
// for thumbshift.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"thumbshift/internal/filter"
	"thumbshift/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Filter holds the chord timing thresholds.
	Filter FilterConfig `toml:"filter" json:"filter" yaml:"filter"`

	// Keymap maps physical keys onto the thumb-shift keys.
	Keymap KeymapConfig `toml:"keymap" json:"keymap" yaml:"keymap"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Trace configures the key event trace database.
	Trace TraceConfig `toml:"trace" json:"trace" yaml:"trace"`

	// DBus configures the exported service.
	DBus DBusConfig `toml:"dbus" json:"dbus" yaml:"dbus"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// FilterConfig holds the filter thresholds in microseconds.
type FilterConfig struct {
	// TimeoutUs is how long a lone key may stay pending.
	TimeoutUs int64 `toml:"timeout_us" json:"timeout_us" yaml:"timeout_us"`

	// OverlapUs is the maximum gap between two presses of a chord.
	OverlapUs int64 `toml:"overlap_us" json:"overlap_us" yaml:"overlap_us"`

	// MaxWaitUs bounds the wake-up timer.
	MaxWaitUs int64 `toml:"maxwait_us" json:"maxwait_us" yaml:"maxwait_us"`

	// SpecialDoubles lists recognised double chords such as "[fj]".
	SpecialDoubles []string `toml:"special_doubles" json:"special_doubles" yaml:"special_doubles"`
}

// KeymapConfig names the X keysyms that act as thumb-shift keys.
type KeymapConfig struct {
	LeftThumb  []string `toml:"left_thumb" json:"left_thumb" yaml:"left_thumb"`
	RightThumb []string `toml:"right_thumb" json:"right_thumb" yaml:"right_thumb"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used by the "file" and "both" outputs.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`

	// RedactKeys hides typed characters in log output.
	RedactKeys bool `toml:"redact_keys" json:"redact_keys" yaml:"redact_keys"`
}

// TraceConfig holds key event trace configuration.
type TraceConfig struct {
	// Enabled records every input and resolution to the trace database.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DBusConfig holds D-Bus service configuration.
type DBusConfig struct {
	BusName    string `toml:"bus_name" json:"bus_name" yaml:"bus_name"`
	ObjectPath string `toml:"object_path" json:"object_path" yaml:"object_path"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" json:"addr" yaml:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	fc := filter.DefaultConfig()
	return &Config{
		Version: Version,
		Filter: FilterConfig{
			TimeoutUs:      fc.Timeout,
			OverlapUs:      fc.Overlap,
			MaxWaitUs:      fc.MaxWait,
			SpecialDoubles: fc.SpecialDoubles,
		},
		Keymap: KeymapConfig{
			LeftThumb:  []string{"Muhenkan"},
			RightThumb: []string{"Henkan"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformStateDir(), "thumbshift.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Trace: TraceConfig{
			Enabled: false,
			Path:    filepath.Join(PlatformDataDir(), "trace.db"),
		},
		DBus: DBusConfig{
			BusName:    "org.thumbshift.Filter",
			ObjectPath: "/org/thumbshift/Filter",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := os.Getenv("THUMBSHIFT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. The format follows the file extension; TOML is
// assumed otherwise. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// FilterConfig converts the thresholds into the engine's form.
func (c *Config) FilterConfig() filter.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filter.Config{
		Timeout:        c.Filter.TimeoutUs,
		Overlap:        c.Filter.OverlapUs,
		MaxWait:        c.Filter.MaxWaitUs,
		SpecialDoubles: append([]string(nil), c.Filter.SpecialDoubles...),
	}
}

// LoggingConfig converts the logging section for the logging package.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	lc.RedactKeys = c.Logging.RedactKeys
	return lc, nil
}

// ApplyEnvOverrides applies environment variable overrides. Variables are
// prefixed with THUMBSHIFT_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envInt64("THUMBSHIFT_TIMEOUT_US", &c.Filter.TimeoutUs)
	envInt64("THUMBSHIFT_OVERLAP_US", &c.Filter.OverlapUs)
	envInt64("THUMBSHIFT_MAXWAIT_US", &c.Filter.MaxWaitUs)

	if v := os.Getenv("THUMBSHIFT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("THUMBSHIFT_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("THUMBSHIFT_TRACE_PATH"); v != "" {
		c.Trace.Path = v
		c.Trace.Enabled = true
	}
	if v := os.Getenv("THUMBSHIFT_BUS_NAME"); v != "" {
		c.DBus.BusName = v
	}
	if v := os.Getenv("THUMBSHIFT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// envInt64 overwrites *dst with the integer in the named variable, if it
// is set and parses.
func envInt64(name string, dst *int64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version: c.Version,
		Filter:  c.Filter,
		Keymap:  c.Keymap,
		Logging: c.Logging,
		Trace:   c.Trace,
		DBus:    c.DBus,
		Metrics: c.Metrics,
	}
	clone.Filter.SpecialDoubles = append([]string(nil), c.Filter.SpecialDoubles...)
	clone.Keymap.LeftThumb = append([]string(nil), c.Keymap.LeftThumb...)
	clone.Keymap.RightThumb = append([]string(nil), c.Keymap.RightThumb...)
	return clone
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var buf bytes.Buffer
	switch filepath.Ext(path) {
	case ".json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
	default:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
