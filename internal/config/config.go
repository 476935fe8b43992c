// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the WebDAV gateway. Values resolve
// through a four-layer chain: defaults -> config file -> environment
// (including an optional .env file) -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Remote    RemoteConfig    `toml:"remote"`
	Transfers TransfersConfig `toml:"transfers"`
	Cache     CacheConfig     `toml:"cache"`
	Auth      AuthConfig      `toml:"auth"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig controls the local WebDAV listener.
type ServerConfig struct {
	Host            string `toml:"host" validate:"required"`
	Port            int    `toml:"port" validate:"min=1,max=65535"`
	Protocol        string `toml:"protocol" validate:"oneof=http https"`
	TLSCertFile     string `toml:"tls_cert_file"`
	TLSKeyFile      string `toml:"tls_key_file"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	MetricsAddr     string `toml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// RemoteConfig controls the HTTP clients talking to the remote APIs.
type RemoteConfig struct {
	DriveURL       string `toml:"drive_url" validate:"required,url"`
	NetworkURL     string `toml:"network_url" validate:"required,url"`
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	MaxRetries     int    `toml:"max_retries" validate:"min=0,max=20"`
}

// TransfersConfig controls shard sizing, fan-out and bandwidth.
type TransfersConfig struct {
	ParallelShards int    `toml:"parallel_shards" validate:"min=1,max=64"`
	ShardSize      string `toml:"shard_size"`
	BandwidthLimit string `toml:"bandwidth_limit"`
	ShardRetries   int    `toml:"shard_retries" validate:"min=1,max=20"`
}

// CacheConfig selects the metadata cache backend and its location. An empty
// path selects a file under the platform cache directory.
type CacheConfig struct {
	Backend string `toml:"backend" validate:"oneof=sqlite badger"`
	Path    string `toml:"path"`
}

// AuthConfig locates the decrypted session the gateway serves on behalf of.
type AuthConfig struct {
	SessionFile string `toml:"session_file"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `toml:"log_format" validate:"oneof=auto text json"`
	LogFile   string `toml:"log_file"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string
	Host       *string
	Port       *int
}

// ShutdownGrace returns the parsed shutdown timeout.
func (s *ServerConfig) ShutdownGrace() time.Duration {
	return durationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// Timeouts returns the parsed connect and data timeouts.
func (r *RemoteConfig) Timeouts() (connect, data time.Duration) {
	return durationOr(r.ConnectTimeout, defaultConnectTimeout), durationOr(r.DataTimeout, defaultDataTimeout)
}

// ShardBytes returns the parsed shard size.
func (t *TransfersConfig) ShardBytes() int64 {
	n, err := ParseSize(t.ShardSize)
	if err != nil || n <= 0 {
		n, _ = ParseSize(defaultShardSize)
	}

	return n
}

// durationOr parses s, falling back to def (itself a duration string) when
// s is empty or invalid. Validate rejects invalid values before this runs.
func durationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(def)

	return d
}
