package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/bookbias/internal/blob/s3"
	"github.com/alanyoungcy/bookbias/internal/collector"
	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/notify"
	"github.com/alanyoungcy/bookbias/internal/record"
	"github.com/alanyoungcy/bookbias/internal/sampler"
	"github.com/alanyoungcy/bookbias/internal/server"
	"github.com/alanyoungcy/bookbias/internal/server/handler"
	"github.com/alanyoungcy/bookbias/internal/server/middleware"
	"github.com/alanyoungcy/bookbias/internal/service"
)

// collection is the wired collector plus what the API reads from.
type collection struct {
	loop    *collector.Loop
	samples *service.SampleService
	exports []handler.ExportSource
}

// CollectMode runs only the collection loop.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	c, err := a.buildCollection(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startCollector(ctx, g, deps, c); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs the collection loop and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCollection(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startCollector(ctx, g, deps, c); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// buildCollection assembles the loop, its sink and its exporters.
func (a *App) buildCollection(deps *Dependencies) (*collection, error) {
	cc := a.cfg.Collector
	windows, err := cc.BiasWindows()
	if err != nil {
		return nil, fmt.Errorf("app: windows: %w", err)
	}
	clock, err := cc.Clock()
	if err != nil {
		return nil, fmt.Errorf("app: clock: %w", err)
	}

	samples := service.NewSampleService(deps.SampleStore, deps.SampleCache, deps.SignalBus, a.logger)
	samples.OnSideEffectError(deps.Metrics.ObserveCacheError)

	var (
		schedule  *record.Schedule
		exporters record.MultiExporter
		listers   []handler.ExportSource
	)
	if a.cfg.Export.Enabled {
		s, err := record.ParseSchedule(a.cfg.Export.Cron)
		if err != nil {
			return nil, fmt.Errorf("app: export cron: %w", err)
		}
		schedule = &s

		if a.cfg.Export.Dir != "" {
			fe := record.NewFileExporter(a.cfg.Export.Dir)
			exporters = append(exporters, fe)
			listers = append(listers, fe)
		}
		if deps.BlobWriter != nil {
			le := s3blob.NewLadderExporter(deps.BlobWriter, deps.BlobReader, a.cfg.Export.S3Prefix, cc.AssetSymbol())
			exporters = append(exporters, le)
			listers = append(listers, le)
		}
	}

	opts := []collector.Option{
		collector.WithLogger(a.logger),
		collector.WithClock(clock),
		collector.WithMetrics(deps.Metrics),
		collector.WithSampler(sampler.New(cc.Interval.Duration)),
		collector.WithOnReconnect(a.notifyReconnect(deps.Notifier)),
		collector.WithOnExhausted(a.notifyExhausted(deps.Notifier)),
	}
	if len(exporters) > 0 {
		opts = append(opts, collector.WithExporter(exporters))
	}

	loop := collector.New(
		deps.Source,
		samples,
		record.NewBuilder(cc.AssetSymbol(), schedule),
		collector.Config{
			Instrument: cc.Instrument(),
			Windows:    windows,
			Policy: collector.RetryPolicy{
				MaxRetries: cc.MaxRetries,
				RetryDelay: cc.RetryDelay.Duration,
			},
		},
		opts...,
	)
	return &collection{loop: loop, samples: samples, exports: listers}, nil
}

// startCollector takes the collector lease, if Redis is wired, and adds the
// loop and the lease keeper to g.
func (a *App) startCollector(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *collection) error {
	if deps.LockManager != nil {
		key := "collector:" + a.cfg.Collector.AssetSymbol()
		ttl := a.cfg.Collector.LeaseTTL.Duration
		lease, err := deps.LockManager.Acquire(ctx, key, ttl)
		if err != nil {
			return fmt.Errorf("app: acquire %s: %w", key, err)
		}
		a.closers = append(a.closers, lease.Release)

		loopDone := make(chan struct{})
		g.Go(func() error {
			return keepLease(ctx, lease, ttl/3, loopDone)
		})
		g.Go(func() error {
			defer close(loopDone)
			return c.loop.Run(ctx)
		})
	} else {
		g.Go(func() error {
			return c.loop.Run(ctx)
		})
	}

	a.notify(ctx, deps.Notifier, notify.EventStarted, "Collector started",
		fmt.Sprintf("Sampling %s (mode %s).", a.cfg.Collector.Instrument(), a.cfg.Mode))
	return nil
}

// keepLease refreshes lease every interval until ctx is done or done is
// closed. Losing the lease stops the process.
func keepLease(ctx context.Context, lease domain.Lease, interval time.Duration, done <-chan struct{}) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: collector lease lost: %w", err)
			}
		}
	}
}

// startHTTPServer adds the API server and its shutdown watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *collection) {
	symbol := a.cfg.Collector.AssetSymbol()
	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(c.loop, a.cfg.Mode),
		Samples: handler.NewSampleHandler(c.samples, symbol, a.logger),
	}
	if len(c.exports) > 0 {
		h.Exports = handler.NewExportHandler(a.logger, c.exports...)
	}
	if deps.SignalBus != nil {
		h.Stream = handler.NewStreamHandler(deps.SignalBus, symbol, a.logger)
	}

	var limiter middleware.Limiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, deps.Registry, limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) notifyReconnect(n *notify.Notifier) func(context.Context, error, collector.Decision) {
	return func(ctx context.Context, cause error, d collector.Decision) {
		a.notify(ctx, n, notify.EventReconnecting, "Collector reconnecting",
			fmt.Sprintf("%s: %v. Attempt %d/%d in %s.",
				a.cfg.Collector.Instrument(), cause, d.Failures, a.cfg.Collector.MaxRetries, d.Wait))
	}
}

func (a *App) notifyExhausted(n *notify.Notifier) func(context.Context, error) {
	return func(ctx context.Context, cause error) {
		a.notify(ctx, n, notify.EventRetriesExhausted, "Collector stopped",
			fmt.Sprintf("%s: retries exhausted after %d attempts, last error: %v",
				a.cfg.Collector.Instrument(), a.cfg.Collector.MaxRetries, cause))
	}
}

// notifyTimeout bounds one notification delivery.
const notifyTimeout = 5 * time.Second

// notify delivers best-effort; failures are logged and never stop collection.
func (a *App) notify(ctx context.Context, n *notify.Notifier, event, title, msg string) {
	if n == nil || !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := n.Notify(ctx, event, title, msg); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
