package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the base data directory. AUTOPAUSE_DATA_DIR overrides the
// platform default.
//
// Platform paths:
//   - Windows: %APPDATA%\autopause\
//   - macOS:   ~/Library/Application Support/autopause/
//   - Linux:   $XDG_DATA_HOME/autopause/ or ~/.local/share/autopause/
func DataDir() string {
	if envDir := os.Getenv("AUTOPAUSE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// PlatformDataDir returns the platform-specific data directory.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "autopause")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "autopause")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "autopause")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "autopause")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "autopause")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".autopause")
	}
}

// SupportedConfigFormats lists the recognised file extensions.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}
