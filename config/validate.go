package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/serroba/slidewin/middleware"
	"github.com/serroba/slidewin/window"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "limiter.window").
	Field string

	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}

	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))

	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}

	return sb.String()
}

// Validate returns a ValidationError listing every invalid field, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimiter(&cfg.Limiter)...)
	errs = append(errs, validatePartition(&cfg.Partition)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError

	if s.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "must not be empty"})
	}

	if s.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}

	if s.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "must not be negative"})
	}

	if s.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must not be negative"})
	}

	if s.Upstream != "" {
		u, err := url.Parse(s.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{Field: "server.upstream", Message: "must be an absolute URL"})
		}
	}

	return errs
}

func validateLimiter(l *LimiterConfig) []FieldError {
	var errs []FieldError

	if l.PermitLimit <= 0 {
		errs = append(errs, FieldError{Field: "limiter.permit_limit", Message: "must be greater than 0"})
	}

	if l.SegmentsPerWindow <= 0 {
		errs = append(errs, FieldError{Field: "limiter.segments_per_window", Message: "must be greater than 0"})
	}

	if l.QueueLimit < 0 {
		errs = append(errs, FieldError{Field: "limiter.queue_limit", Message: "must not be negative"})
	}

	if l.Window <= 0 {
		errs = append(errs, FieldError{Field: "limiter.window", Message: "must be greater than 0"})
	} else if l.SegmentsPerWindow > 0 && l.Window < time.Duration(l.SegmentsPerWindow) {
		errs = append(errs, FieldError{Field: "limiter.window", Message: "is too short for segments_per_window"})
	}

	if _, err := window.ParseQueueProcessingOrder(l.QueueProcessingOrder); err != nil {
		errs = append(errs, FieldError{Field: "limiter.queue_processing_order", Message: "must be oldest_first or newest_first"})
	}

	if l.PermitsPerRequest <= 0 {
		errs = append(errs, FieldError{Field: "limiter.permits_per_request", Message: "must be greater than 0"})
	} else if l.PermitLimit > 0 && l.PermitsPerRequest > l.PermitLimit {
		errs = append(errs, FieldError{Field: "limiter.permits_per_request", Message: "must not exceed permit_limit"})
	}

	if l.Wait && l.QueueLimit < l.PermitsPerRequest {
		errs = append(errs, FieldError{Field: "limiter.queue_limit", Message: "must hold at least one request when wait is enabled"})
	}

	return errs
}

func validatePartition(p *PartitionConfig) []FieldError {
	var errs []FieldError

	// Same parser the router uses, so a key that validates always builds.
	if _, err := middleware.ParseKeyFunc(p.Key); err != nil {
		errs = append(errs, FieldError{Field: "partition.key", Message: "must be ip, global or header:<name>"})
	}

	if p.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "partition.idle_timeout", Message: "must not be negative"})
	}

	if p.IdleTimeout > 0 && p.SweepInterval <= 0 {
		errs = append(errs, FieldError{Field: "partition.sweep_interval", Message: "must be greater than 0 when idle_timeout is set"})
	}

	return errs
}

func validateLogging(l *LoggingConfig) []FieldError {
	var errs []FieldError

	if hclog.LevelFromString(l.Level) == hclog.NoLevel {
		errs = append(errs, FieldError{Field: "logging.level", Message: "must be trace, debug, info, warn or error"})
	}

	if l.Format != "text" && l.Format != "json" {
		errs = append(errs, FieldError{Field: "logging.format", Message: "must be text or json"})
	}

	return errs
}
