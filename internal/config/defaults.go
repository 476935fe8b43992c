package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file.
const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 3005
	defaultProtocol        = "http"
	defaultShutdownTimeout = "10s"
	defaultDriveURL        = "https://gateway.internxt.com/drive"
	defaultNetworkURL      = "https://gateway.internxt.com/network"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
	defaultMaxRetries      = 5
	defaultParallelShards  = 4
	defaultShardSize       = "32MiB"
	defaultBandwidthLimit  = "0"
	defaultShardRetries    = 5
	defaultCacheBackend    = "sqlite"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            defaultHost,
			Port:            defaultPort,
			Protocol:        defaultProtocol,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Remote: RemoteConfig{
			DriveURL:       defaultDriveURL,
			NetworkURL:     defaultNetworkURL,
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			MaxRetries:     defaultMaxRetries,
		},
		Transfers: TransfersConfig{
			ParallelShards: defaultParallelShards,
			ShardSize:      defaultShardSize,
			BandwidthLimit: defaultBandwidthLimit,
			ShardRetries:   defaultShardRetries,
		},
		Cache: CacheConfig{
			Backend: defaultCacheBackend,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
