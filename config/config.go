// Package config loads the slidewind gateway configuration from YAML.
//
// Loading reads the file, applies defaults, applies SLIDEWIN_* environment
// overrides and validates the result, reporting every invalid field at once.
package config

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/serroba/slidewin/window"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Partition PartitionConfig `yaml:"partition"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Upstream, when set, is the URL admitted requests are proxied to.
	// Otherwise admitted requests get an empty 204.
	Upstream string `yaml:"upstream"`
}

// LimiterConfig configures the sliding window limiter of each partition.
type LimiterConfig struct {
	PermitLimit          int           `yaml:"permit_limit"`
	SegmentsPerWindow    int           `yaml:"segments_per_window"`
	QueueLimit           int           `yaml:"queue_limit"`
	Window               time.Duration `yaml:"window"`
	QueueProcessingOrder string        `yaml:"queue_processing_order"`

	// AutoReplenishment defaults to true; a gateway has nobody else to
	// slide the window.
	AutoReplenishment *bool `yaml:"auto_replenishment"`

	// PermitsPerRequest is what each HTTP request costs.
	PermitsPerRequest int `yaml:"permits_per_request"`

	// Wait queues requests over the limit instead of rejecting them.
	Wait bool `yaml:"wait"`
}

// PartitionConfig decides how requests are split into partitions.
type PartitionConfig struct {
	// Key is "ip", "global" or "header:<Name>".
	Key string `yaml:"key"`

	// IdleTimeout drops partitions unused for this long. Zero keeps them.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig configures the hclog root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Options converts the limiter section into window.Options.
func (c LimiterConfig) Options(logger hclog.Logger) (window.Options, error) {
	order, err := window.ParseQueueProcessingOrder(c.QueueProcessingOrder)
	if err != nil {
		return window.Options{}, err
	}

	auto := true
	if c.AutoReplenishment != nil {
		auto = *c.AutoReplenishment
	}

	return window.Options{
		PermitLimit:          c.PermitLimit,
		SegmentsPerWindow:    c.SegmentsPerWindow,
		QueueLimit:           c.QueueLimit,
		Window:               c.Window,
		QueueProcessingOrder: order,
		AutoReplenishment:    auto,
		Logger:               logger,
	}, nil
}
