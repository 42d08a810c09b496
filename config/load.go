package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, overrides from the environment and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}

	return cfg, nil
}

// Parse is Load for an in-memory document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies SLIDEWIN_* variables. Environment variables
// always take precedence over the file.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok && val != "" {
			*dst = val
		}
	}

	setInt := func(name string, dst *int) {
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return
		}

		i, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			return
		}

		*dst = i
	}

	setDuration := func(name string, dst *time.Duration) {
		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			return
		}

		d, err := time.ParseDuration(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			return
		}

		*dst = d
	}

	setString("SLIDEWIN_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setString("SLIDEWIN_UPSTREAM", &cfg.Server.Upstream)
	setInt("SLIDEWIN_PERMIT_LIMIT", &cfg.Limiter.PermitLimit)
	setInt("SLIDEWIN_SEGMENTS_PER_WINDOW", &cfg.Limiter.SegmentsPerWindow)
	setInt("SLIDEWIN_QUEUE_LIMIT", &cfg.Limiter.QueueLimit)
	setDuration("SLIDEWIN_WINDOW", &cfg.Limiter.Window)
	setString("SLIDEWIN_QUEUE_PROCESSING_ORDER", &cfg.Limiter.QueueProcessingOrder)
	setString("SLIDEWIN_PARTITION_KEY", &cfg.Partition.Key)
	setString("SLIDEWIN_LOG_LEVEL", &cfg.Logging.Level)
	setString("SLIDEWIN_LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}

	return nil
}
