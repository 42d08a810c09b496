package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/serroba/slidewin/registry"
	"github.com/serroba/slidewin/window"
)

// Outcomes reported to an Observer.
const (
	OutcomeGranted     = "granted"
	OutcomeDenied      = "denied"
	OutcomeCanceled    = "canceled"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// KeyFunc extracts a rate limit key from an HTTP request.
// Common implementations include extracting client IP, API key, or user ID.
type KeyFunc func(r *http.Request) registry.Identifier

// Limiter grants permits per partition key. *registry.Registry implements it.
type Limiter interface {
	TryAcquire(key registry.Identifier, permits int) (*window.Lease, error)
	Acquire(ctx context.Context, key registry.Identifier, permits int) (*window.Lease, error)
}

// Observer is told how every request was decided and how long the decision
// took, including time spent queued.
type Observer interface {
	Observe(outcome string, waited time.Duration)
}

type settings struct {
	permits  int
	wait     bool
	logger   hclog.Logger
	observer Observer
}

// Option customizes RateLimiter.
type Option func(*settings)

// WithPermits sets how many permits each request costs. Defaults to 1.
func WithPermits(n int) Option {
	return func(s *settings) { s.permits = n }
}

// WithWait makes requests wait in the partition queue instead of being
// rejected as soon as the limit is reached. The wait ends when the client
// goes away.
func WithWait(wait bool) Option {
	return func(s *settings) { s.wait = wait }
}

// WithLogger sets the logger for failed rate limit checks.
func WithLogger(logger hclog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithObserver reports every decision to o.
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// IPKeyFunc extracts the client IP address from the request.
// It checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func IPKeyFunc(r *http.Request) registry.Identifier {
	// Check X-Forwarded-For first (may contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		first, _, _ := strings.Cut(xff, ",")

		return registry.Identifier(strings.TrimSpace(first))
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return registry.Identifier(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return registry.Identifier(r.RemoteAddr)
	}

	return registry.Identifier(host)
}

// HeaderKeyFunc returns a KeyFunc that extracts the rate limit key from a header.
// Useful for API key or token-based rate limiting.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) registry.Identifier {
		return registry.Identifier(r.Header.Get(header))
	}
}

// GlobalKeyFunc puts every request in the same partition.
func GlobalKeyFunc(*http.Request) registry.Identifier {
	return "global"
}

// ParseKeyFunc resolves a partition key definition: "ip", "global", or
// "header:<Name>".
func ParseKeyFunc(def string) (KeyFunc, error) {
	switch {
	case def == "ip":
		return IPKeyFunc, nil
	case def == "global":
		return GlobalKeyFunc, nil
	case strings.HasPrefix(def, "header:"):
		name := strings.TrimSpace(strings.TrimPrefix(def, "header:"))
		if name == "" {
			return nil, fmt.Errorf("partition key %q: missing header name", def)
		}

		return HeaderKeyFunc(name), nil
	default:
		return nil, fmt.Errorf("partition key %q: want ip, global or header:<name>", def)
	}
}

// RateLimiter returns HTTP middleware that rate limits requests.
// It uses the provided limiter to track rate limits per key extracted by keyFunc.
// Requests that exceed the rate limit receive a 429 Too Many Requests response
// with a Retry-After header in seconds.
func RateLimiter(lim Limiter, keyFunc KeyFunc, opts ...Option) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = IPKeyFunc
	}

	s := settings{permits: 1, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&s)
	}

	logger := s.logger.Named("middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			start := time.Now()

			var (
				lease *window.Lease
				err   error
			)

			if s.wait {
				lease, err = lim.Acquire(r.Context(), key, s.permits)
			} else {
				lease, err = lim.TryAcquire(key, s.permits)
			}

			outcome := decide(w, lease, err)
			if s.observer != nil {
				s.observer.Observe(outcome, time.Since(start))
			}

			switch outcome {
			case OutcomeGranted:
				next.ServeHTTP(w, r)
			case OutcomeError:
				logger.Error("rate limit check failed", "key", key, "error", err)
			default:
				logger.Trace("request not admitted", "key", key, "outcome", outcome)
			}
		})
	}
}

// decide writes the rejection response, if any, and names the outcome.
func decide(w http.ResponseWriter, lease *window.Lease, err error) string {
	switch {
	case errors.Is(err, window.ErrCanceled):
		// The client is gone; nobody reads a response.
		return OutcomeCanceled
	case errors.Is(err, window.ErrDisposed), errors.Is(err, registry.ErrClosed):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)

		return OutcomeUnavailable
	case err != nil:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return OutcomeError
	case !lease.Acquired():
		w.Header().Set("Retry-After", retryAfterSeconds(lease))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)

		return OutcomeDenied
	default:
		return OutcomeGranted
	}
}

func retryAfterSeconds(lease *window.Lease) string {
	d, ok := lease.RetryAfter()
	if !ok {
		return "1"
	}

	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}
