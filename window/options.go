package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// QueueProcessingOrder decides which queued request is served first when
// permits are restored, and which one is dropped when the queue overflows.
type QueueProcessingOrder int

const (
	// OldestFirst serves the queue in arrival order. New requests are denied
	// while older ones wait, and a full queue rejects newcomers.
	OldestFirst QueueProcessingOrder = iota

	// NewestFirst serves the most recent request first. A full queue evicts
	// its oldest entries to make room for newcomers.
	NewestFirst
)

func (o QueueProcessingOrder) String() string {
	switch o {
	case OldestFirst:
		return "oldest_first"
	case NewestFirst:
		return "newest_first"
	default:
		return fmt.Sprintf("QueueProcessingOrder(%d)", int(o))
	}
}

// ParseQueueProcessingOrder accepts "oldest_first" and "newest_first"
// (case-insensitive, dashes allowed). An empty string means OldestFirst.
func ParseQueueProcessingOrder(s string) (QueueProcessingOrder, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "oldest_first", "oldestfirst":
		return OldestFirst, nil
	case "newest_first", "newestfirst":
		return NewestFirst, nil
	default:
		return 0, &ConfigError{Field: "queue_processing_order", Message: fmt.Sprintf("unknown value %q", s)}
	}
}

// Options configures a Limiter. It is copied at construction; later changes
// have no effect on an existing Limiter.
type Options struct {
	// PermitLimit is the maximum number of permits granted per window.
	PermitLimit int

	// SegmentsPerWindow splits Window into equal slices. Permits consumed
	// in a slice come back once that slice slides out of the window.
	SegmentsPerWindow int

	// QueueLimit caps the total permits held by queued Acquire calls.
	// Zero disables queuing.
	QueueLimit int

	// Window is the full sliding window duration.
	Window time.Duration

	QueueProcessingOrder QueueProcessingOrder

	// AutoReplenishment starts a background ticker that slides the window
	// every Window/SegmentsPerWindow. When false, callers drive the window
	// with TryReplenish.
	AutoReplenishment bool

	// Logger receives trace and debug output. Defaults to a null logger.
	Logger hclog.Logger
}

// Validate reports the first invalid field as a *ConfigError.
func (o Options) Validate() error {
	switch {
	case o.PermitLimit <= 0:
		return &ConfigError{Field: "permit_limit", Message: "must be greater than 0"}
	case o.SegmentsPerWindow <= 0:
		return &ConfigError{Field: "segments_per_window", Message: "must be greater than 0"}
	case o.QueueLimit < 0:
		return &ConfigError{Field: "queue_limit", Message: "must be greater than or equal to 0"}
	case o.Window <= 0:
		return &ConfigError{Field: "window", Message: "must be greater than 0"}
	case o.Window/time.Duration(o.SegmentsPerWindow) <= 0:
		return &ConfigError{Field: "window", Message: "is too short to be split into segments_per_window segments"}
	case o.QueueProcessingOrder != OldestFirst && o.QueueProcessingOrder != NewestFirst:
		return &ConfigError{Field: "queue_processing_order", Message: fmt.Sprintf("unknown value %d", int(o.QueueProcessingOrder))}
	}

	return nil
}

// ReplenishmentPeriod is the duration of one window segment.
func (o Options) ReplenishmentPeriod() time.Duration {
	if o.SegmentsPerWindow <= 0 {
		return 0
	}

	return o.Window / time.Duration(o.SegmentsPerWindow)
}
