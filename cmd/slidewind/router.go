package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serroba/slidewin/config"
	"github.com/serroba/slidewin/metrics"
	"github.com/serroba/slidewin/middleware"
	"github.com/serroba/slidewin/registry"
)

const metricsNamespace = "slidewin"

// newRouter serves /healthz and /metrics unthrottled and sends everything
// else through the rate limiter.
func newRouter(cfg *config.Config, partitions *registry.Registry, promReg *prometheus.Registry, logger hclog.Logger) (http.Handler, error) {
	keyFunc, err := middleware.ParseKeyFunc(cfg.Partition.Key)
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder(metricsNamespace, promReg)
	if err := promReg.Register(metrics.NewCollector(metricsNamespace, partitions)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}

	upstream, err := upstreamHandler(cfg.Server.Upstream, logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimiter(partitions, keyFunc,
			middleware.WithPermits(cfg.Limiter.PermitsPerRequest),
			middleware.WithWait(cfg.Limiter.Wait),
			middleware.WithLogger(logger),
			middleware.WithObserver(recorder),
		))
		r.Handle("/*", upstream)
	})

	return r, nil
}

func upstreamHandler(raw string, logger hclog.Logger) (http.Handler, error) {
	if raw == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), nil
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", raw, err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorLog = logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	return proxy, nil
}
