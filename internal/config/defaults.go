package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "thumbshift"

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/thumbshift/
//   - Linux:   ~/.config/thumbshift/
//   - Windows: %APPDATA%\thumbshift\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_CONFIG_HOME", ".config")
	default:
		return platformAppDir()
	}
}

// PlatformDataDir returns the platform-specific data directory, honouring
// THUMBSHIFT_DATA_DIR.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/thumbshift/
//   - Linux:   ~/.local/share/thumbshift/
//   - Windows: %APPDATA%\thumbshift\
func PlatformDataDir() string {
	if dir := os.Getenv("THUMBSHIFT_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "linux":
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	default:
		return platformAppDir()
	}
}

// PlatformStateDir returns the directory for logs.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/thumbshift/
//   - Linux:   ~/.local/state/thumbshift/
//   - Windows: %LOCALAPPDATA%\thumbshift\logs\
func PlatformStateDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName, "logs")
		}
		return filepath.Join(homeDir(), "AppData", "Local", appName, "logs")
	default:
		return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
	}
}

func platformAppDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", appName)
	default:
		return filepath.Join(homeDir(), "."+appName)
	}
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(homeDir(), fallback, appName)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// SupportedConfigFormats returns the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}

// FindConfigFile returns the first existing config file in the config
// directory, or the default TOML path when none exists.
func FindConfigFile() string {
	dir := PlatformConfigDir()
	for _, ext := range SupportedConfigFormats() {
		p := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.toml")
}
