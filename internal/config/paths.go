package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "internxt-webdav"

// File names inside the application directories.
const (
	configFileName  = "config.toml"
	dotEnvFileName  = ".env"
	sessionFileName = "session.json"
	pidFileName     = "webdav.pid"
	sqliteCacheName = "metadata.db"
	badgerCacheName = "metadata.badger"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/internxt-webdav).
// On macOS, uses ~/Library/Application Support/internxt-webdav.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data (session file, PID file).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultCacheDir returns the platform-specific directory for the metadata
// cache.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CACHE_HOME", home, ".cache")
	case platformDarwin:
		return filepath.Join(home, "Library", "Caches", appName)
	default:
		return filepath.Join(home, ".cache", appName)
	}
}

// xdgDir honors an XDG base-directory variable, falling back to home/rel.
func xdgDir(envVar, home, rel string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, rel, appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// DefaultDotEnvPath returns the optional .env file next to the config file.
func DefaultDotEnvPath() string {
	return joinIfDir(DefaultConfigDir(), dotEnvFileName)
}

// DefaultSessionPath returns the default session file location.
func DefaultSessionPath() string {
	return joinIfDir(DefaultDataDir(), sessionFileName)
}

// DefaultPIDPath returns the PID file written by a running server.
func DefaultPIDPath() string {
	return joinIfDir(DefaultDataDir(), pidFileName)
}

// DefaultCachePath returns the cache location for the given backend.
func DefaultCachePath(backend string) string {
	if backend == "badger" {
		return joinIfDir(DefaultCacheDir(), badgerCacheName)
	}

	return joinIfDir(DefaultCacheDir(), sqliteCacheName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
