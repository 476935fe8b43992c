package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig  = "INXT_WEBDAV_CONFIG"
	EnvSession = "INXT_WEBDAV_SESSION"
	EnvPort    = "INXT_WEBDAV_PORT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // INXT_WEBDAV_CONFIG: override config file path
	SessionFile string // INXT_WEBDAV_SESSION: session file path
	Port        int    // INXT_WEBDAV_PORT: listener port (0 = unset)
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. A malformed port is reported rather than ignored.
func ReadEnvOverrides() (EnvOverrides, error) {
	env := EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		SessionFile: os.Getenv(EnvSession),
	}

	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return EnvOverrides{}, fmt.Errorf("%s: invalid port %q: %w", EnvPort, raw, err)
		}

		env.Port = port
	}

	return env, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set win over the file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}
