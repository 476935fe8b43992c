package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
host = "0.0.0.0"
port = 8080
protocol = "http"
shutdown_timeout = "30s"
metrics_addr = "127.0.0.1:9100"

[remote]
drive_url = "https://drive.example.com/api"
network_url = "https://network.example.com"
connect_timeout = "5s"
data_timeout = "2m"
user_agent = "webdav-test/1.0"
max_retries = 3

[transfers]
parallel_shards = 8
shard_size = "16MiB"
bandwidth_limit = "5MB/s"
shard_retries = 2

[cache]
backend = "badger"
path = "/tmp/cache"

[auth]
session_file = "/tmp/session.json"

[logging]
log_level = "debug"
log_format = "json"
log_file = "/tmp/webdav.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownGrace())
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.MetricsAddr)

	connect, data := cfg.Remote.Timeouts()
	assert.Equal(t, 5*time.Second, connect)
	assert.Equal(t, 2*time.Minute, data)
	assert.Equal(t, 3, cfg.Remote.MaxRetries)

	assert.Equal(t, 8, cfg.Transfers.ParallelShards)
	assert.Equal(t, int64(16*1024*1024), cfg.Transfers.ShardBytes())
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, "/tmp/session.json", cfg.Auth.SessionFile)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[server]\nport = 4000\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, defaults.Server.Host, cfg.Server.Host)
	assert.Equal(t, defaults.Remote, cfg.Remote)
	assert.Equal(t, defaults.Transfers, cfg.Transfers)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[server\nport = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeTestConfig(t, "[server]\nport = 70000\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, err.Error(), "Port")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Server.Port)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, "[server]\nhost = \"10.0.0.1\"\nport = 4000\n")

	host := "192.168.1.5"
	port := 5000

	tests := []struct {
		name     string
		env      EnvOverrides
		cli      CLIOverrides
		wantHost string
		wantPort int
	}{
		{"file only", EnvOverrides{ConfigPath: path}, CLIOverrides{}, "10.0.0.1", 4000},
		{"env port wins over file", EnvOverrides{ConfigPath: path, Port: 4500}, CLIOverrides{}, "10.0.0.1", 4500},
		{
			"cli wins over env",
			EnvOverrides{ConfigPath: path, Port: 4500},
			CLIOverrides{Host: &host, Port: &port},
			"192.168.1.5", 5000,
		},
		{"cli config path wins", EnvOverrides{ConfigPath: "/nonexistent.toml"}, CLIOverrides{ConfigPath: path}, "10.0.0.1", 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Resolve(tt.env, tt.cli)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, cfg.Server.Host)
			assert.Equal(t, tt.wantPort, cfg.Server.Port)
		})
	}
}

func TestResolve_FillsDerivedPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_CACHE_HOME", "/xdg/cache")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Resolve(EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)

	if DefaultDataDir() == filepath.Join("/xdg/data", appName) {
		assert.Equal(t, filepath.Join("/xdg/data", appName, sessionFileName), cfg.Auth.SessionFile)
		assert.Equal(t, filepath.Join("/xdg/cache", appName, sqliteCacheName), cfg.Cache.Path)
	} else {
		assert.NotEmpty(t, cfg.Auth.SessionFile)
		assert.NotEmpty(t, cfg.Cache.Path)
	}
}

func TestResolve_EnvSessionFile(t *testing.T) {
	cfg, err := Resolve(EnvOverrides{
		ConfigPath:  filepath.Join(t.TempDir(), "none.toml"),
		SessionFile: "/custom/session.json",
	}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/custom/session.json", cfg.Auth.SessionFile)
}

func TestResolve_InvalidCLIPort(t *testing.T) {
	port := 0

	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, CLIOverrides{Port: &port})
	require.Error(t, err)
}
