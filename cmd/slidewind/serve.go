package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/serroba/slidewin/config"
	"github.com/serroba/slidewin/registry"
	"github.com/serroba/slidewin/window"
)

// ServeCmd starts the gateway.
type ServeCmd struct {
	Listen string `help:"Listen address, overrides server.listen_address." placeholder:"ADDR"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	if c.Listen != "" {
		cfg.Server.ListenAddress = c.Listen
	}

	logger := newLogger(cfg.Logging, cli.LogLevel)

	opts, err := cfg.Limiter.Options(logger)
	if err != nil {
		return err
	}

	factory, err := registry.SlidingWindow(opts)
	if err != nil {
		return err
	}

	partitions, err := registry.NewRegistryWithLogger(factory, logger)
	if err != nil {
		return err
	}
	defer partitions.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router, err := newRouter(cfg, partitions, promReg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "address", srv.Addr, "partition_key", cfg.Partition.Key)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Deny queued requests first so handlers waiting on permits return.
		_ = partitions.Close()

		return srv.Shutdown(shutdownCtx)
	})

	startMaintenance(ctx, g, cfg.Partition, opts, partitions)

	return g.Wait()
}

// startMaintenance runs the idle sweeper and, for limiters without their own
// ticker, the window replenisher. Both stop when ctx is done.
func startMaintenance(ctx context.Context, g *errgroup.Group, partition config.PartitionConfig, opts window.Options, partitions *registry.Registry) {
	if partition.IdleTimeout > 0 {
		g.Go(func() error {
			return ignoreCanceled(partitions.Run(ctx, partition.SweepInterval, partition.IdleTimeout))
		})
	}

	if !opts.AutoReplenishment {
		g.Go(func() error {
			return ignoreCanceled(partitions.RunReplenishment(ctx, opts.ReplenishmentPeriod()))
		})
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
