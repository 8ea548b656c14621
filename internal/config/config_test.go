package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"thumbshift/internal/filter"
	"thumbshift/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	fc := cfg.FilterConfig()
	if fc.Timeout != filter.DefaultTimeout || fc.Overlap != filter.DefaultOverlap || fc.MaxWait != filter.DefaultMaxWait {
		t.Errorf("unexpected filter thresholds %+v", fc)
	}
	if len(fc.SpecialDoubles) != 3 {
		t.Errorf("expected 3 special doubles, got %v", fc.SpecialDoubles)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("THUMBSHIFT_CONFIG", "")
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}

	t.Setenv("THUMBSHIFT_CONFIG", "/etc/thumbshift.yaml")
	if got := ConfigPath(); got != "/etc/thumbshift.yaml" {
		t.Errorf("override ignored, got %s", got)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", `
version = 1
[filter]
timeout_us = 80000
overlap_us = 40000
special_doubles = ["[fj]"]
`},
		{"json", "config.json", `{"filter": {"timeout_us": 80000, "overlap_us": 40000, "special_doubles": ["[fj]"]}}`},
		{"yaml", "config.yaml", `
filter:
  timeout_us: 80000
  overlap_us: 40000
  special_doubles: ["[fj]"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Filter.TimeoutUs != 80000 || cfg.Filter.OverlapUs != 40000 {
				t.Errorf("thresholds not loaded: %+v", cfg.Filter)
			}
			if cfg.Filter.MaxWaitUs != filter.DefaultMaxWait {
				t.Errorf("unset maxwait should keep default, got %d", cfg.Filter.MaxWaitUs)
			}
			if len(cfg.Filter.SpecialDoubles) != 1 || cfg.Filter.SpecialDoubles[0] != "[fj]" {
				t.Errorf("special doubles not replaced: %v", cfg.Filter.SpecialDoubles)
			}
			if cfg.Version != Version {
				t.Errorf("expected version %d, got %d", Version, cfg.Version)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBus.BusName != "org.thumbshift.Filter" {
		t.Errorf("unexpected bus name %s", cfg.DBus.BusName)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[filter\ntimeout_us = "), 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("THUMBSHIFT_TIMEOUT_US", "120000")
	t.Setenv("THUMBSHIFT_OVERLAP_US", "not-a-number")
	t.Setenv("THUMBSHIFT_LOG_LEVEL", "debug")
	t.Setenv("THUMBSHIFT_TRACE_PATH", "/tmp/trace.db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Filter.TimeoutUs != 120000 {
		t.Errorf("timeout override ignored: %d", cfg.Filter.TimeoutUs)
	}
	if cfg.Filter.OverlapUs != filter.DefaultOverlap {
		t.Errorf("malformed override should be ignored, got %d", cfg.Filter.OverlapUs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override ignored: %s", cfg.Logging.Level)
	}
	if !cfg.Trace.Enabled || cfg.Trace.Path != "/tmp/trace.db" {
		t.Errorf("trace override ignored: %+v", cfg.Trace)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"overlap exceeds timeout", func(c *Config) { c.Filter.OverlapUs = c.Filter.TimeoutUs + 1 }, "filter.overlap_us"},
		{"zero timeout", func(c *Config) { c.Filter.TimeoutUs = 0 }, "filter.timeout_us"},
		{"maxwait below timeout", func(c *Config) { c.Filter.MaxWaitUs = 10 }, "filter.maxwait_us"},
		{"non canonical double", func(c *Config) { c.Filter.SpecialDoubles = []string{"[jf]"} }, "filter.special_doubles[0]"},
		{"malformed double", func(c *Config) { c.Filter.SpecialDoubles = []string{"fj"} }, "filter.special_doubles[0]"},
		{"repeated double", func(c *Config) { c.Filter.SpecialDoubles = []string{"[aa]"} }, "filter.special_doubles[0]"},
		{"empty left thumb", func(c *Config) { c.Keymap.LeftThumb = nil }, "keymap.left_thumb"},
		{"shared thumb key", func(c *Config) { c.Keymap.RightThumb = []string{"Muhenkan"} }, "keymap.right_thumb[0]"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"trace without path", func(c *Config) { c.Trace.Enabled = true; c.Trace.Path = "" }, "trace.path"},
		{"bad bus name", func(c *Config) { c.DBus.BusName = "thumbshift" }, "dbus.bus_name"},
		{"bad object path", func(c *Config) { c.DBus.ObjectPath = "/org/thumbshift/" }, "dbus.object_path"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "nope" }, "metrics.addr"},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			verrs, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !verrs.Has(tt.field) {
				t.Errorf("expected error on %s, got %v", tt.field, verrs)
			}
		})
	}
}

func TestPointerToField(t *testing.T) {
	tests := map[string]string{
		"":                          "$",
		"/logging/level":            "logging.level",
		"/filter/special_doubles/1": "filter.special_doubles[1]",
		"/keymap/left_thumb/0":      "keymap.left_thumb[0]",
	}
	for in, want := range tests {
		if got := pointerToField(in); got != want {
			t.Errorf("pointerToField(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			cfg := DefaultConfig()
			cfg.Filter.OverlapUs = 30000
			cfg.Keymap.LeftThumb = []string{"Muhenkan", "Alt_L"}

			if err := Save(cfg, path); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Filter.OverlapUs != 30000 {
				t.Errorf("overlap lost: %d", loaded.Filter.OverlapUs)
			}
			if len(loaded.Keymap.LeftThumb) != 2 {
				t.Errorf("keymap lost: %v", loaded.Keymap.LeftThumb)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, created, err := LoadOrCreate(path)
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	_, created, err = LoadOrCreate(path)
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Filter.SpecialDoubles[0] = "[ab]"
	clone.Keymap.LeftThumb[0] = "Alt_L"

	if cfg.Filter.SpecialDoubles[0] != "[fj]" || cfg.Keymap.LeftThumb[0] != "Muhenkan" {
		t.Error("clone shares slices with the original")
	}
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.RedactKeys = true

	lc, err := cfg.LoggingConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.Level != logging.LevelDebug || lc.Format != logging.FormatJSON || !lc.RedactKeys {
		t.Errorf("unexpected logging config %+v", lc)
	}
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatal(err)
	}
	defer loader.Close()

	cfg := DefaultConfig()
	cfg.Filter.OverlapUs = 20000
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.Filter.OverlapUs != 20000 {
			t.Errorf("reloaded overlap %d", c.Filter.OverlapUs)
		}
		if loader.Config().Filter.OverlapUs != 20000 {
			t.Error("loader config not replaced")
		}
	case err := <-loader.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}
	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(path, []byte("[filter]\noverlap_us = 999999\n"), 0600)
	if err := loader.Reload(); err == nil {
		t.Fatal("expected reload to fail validation")
	}
	if loader.Config().Filter.OverlapUs != filter.DefaultOverlap {
		t.Error("invalid reload replaced the configuration")
	}
}
