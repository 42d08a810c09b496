package config

import "time"

const (
	DefaultListenAddress     = ":8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultSegmentsPerWindow = 10
	DefaultWindow            = time.Minute
	DefaultPermitsPerRequest = 1
	DefaultPartitionKey      = "ip"
	DefaultSweepInterval     = time.Minute
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// ApplyDefaults fills zero-valued fields. PermitLimit has no default; it
// must be configured.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}

	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}

	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Limiter.SegmentsPerWindow == 0 {
		cfg.Limiter.SegmentsPerWindow = DefaultSegmentsPerWindow
	}

	if cfg.Limiter.Window == 0 {
		cfg.Limiter.Window = DefaultWindow
	}

	if cfg.Limiter.PermitsPerRequest == 0 {
		cfg.Limiter.PermitsPerRequest = DefaultPermitsPerRequest
	}

	if cfg.Partition.Key == "" {
		cfg.Partition.Key = DefaultPartitionKey
	}

	if cfg.Partition.IdleTimeout > 0 && cfg.Partition.SweepInterval == 0 {
		cfg.Partition.SweepInterval = DefaultSweepInterval
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}
