// Package collector runs the sampling loop: it pulls ladder snapshots from a
// live source, keeps one per interval, reduces it to book-bias metrics and
// persists the result, reconnecting with bounded backoff on failure.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bookbias/internal/bias"
	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/record"
	"github.com/alanyoungcy/bookbias/internal/sampler"
)

// State is the loop's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateBackoffWait
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoffWait:
		return "backoff_wait"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of the loop for observers.
type Status struct {
	Instrument       string        `json:"instrument"`
	State            string        `json:"state"`
	Failures         int           `json:"consecutive_failures"`
	LastBackoff      time.Duration `json:"last_backoff_ns"`
	LastError        string        `json:"last_error,omitempty"`
	LastSampleAt     time.Time     `json:"last_sample_at"`
	SamplesPersisted int64         `json:"samples_persisted"`
	NextExportAt     *time.Time    `json:"next_export_at,omitempty"`
}

// Metrics receives loop events. Implementations must be safe to call from the
// loop goroutine.
type Metrics interface {
	SetState(state string)
	ObserveSample(rec domain.SampleRecord)
	ObserveFailure(class string)
	ObserveBackoff(wait time.Duration)
	ObserveExport(ok bool)
}

type nopMetrics struct{}

func (nopMetrics) SetState(string) {}
func (nopMetrics) ObserveSample(domain.SampleRecord) {}
func (nopMetrics) ObserveFailure(string) {}
func (nopMetrics) ObserveBackoff(time.Duration) {}
func (nopMetrics) ObserveExport(bool) {}

// Config holds the loop parameters. A zero Policy means DefaultRetryPolicy.
type Config struct {
	Instrument string
	Windows    []domain.BiasWindow
	Policy     RetryPolicy
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(lp *Loop) { lp.logger = l } }

// WithClock sets the sampling clock.
func WithClock(c domain.Clock) Option { return func(lp *Loop) { lp.clock = c } }

// WithSleep replaces the backoff wait. sleep must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(lp *Loop) { lp.sleep = sleep }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(lp *Loop) { lp.metrics = m } }

// WithExporter enables full-ladder exports on the builder's schedule.
func WithExporter(e record.Exporter) Option { return func(lp *Loop) { lp.exporter = e } }

// WithSampler replaces the default one-minute sampler.
func WithSampler(s *sampler.MinuteSampler) Option { return func(lp *Loop) { lp.sampler = s } }

// WithOnReconnect registers a hook called before each backoff wait that
// follows a generic failure. Timeouts retry without calling it.
func WithOnReconnect(fn func(ctx context.Context, cause error, d Decision)) Option {
	return func(lp *Loop) { lp.onReconnect = fn }
}

// WithOnExhausted registers a hook called once when the retry budget runs out.
func WithOnExhausted(fn func(ctx context.Context, cause error)) Option {
	return func(lp *Loop) { lp.onExhausted = fn }
}

// Loop is the collection state machine for one instrument.
type Loop struct {
	source   domain.LadderSource
	sink     domain.SampleSink
	builder  *record.Builder
	cfg      Config
	sampler  *sampler.MinuteSampler
	clock    domain.Clock
	sleep    func(ctx context.Context, d time.Duration) error
	exporter record.Exporter
	metrics  Metrics
	logger   *slog.Logger

	onReconnect func(ctx context.Context, cause error, d Decision)
	onExhausted func(ctx context.Context, cause error)

	failures int

	mu     sync.RWMutex
	status Status
}

// New returns a loop reading cfg.Instrument from source and writing records
// built by builder to sink.
func New(source domain.LadderSource, sink domain.SampleSink, builder *record.Builder, cfg Config, opts ...Option) *Loop {
	if len(cfg.Windows) == 0 {
		cfg.Windows = domain.DefaultBiasWindows()
	}
	if cfg.Policy == (RetryPolicy{}) {
		cfg.Policy = DefaultRetryPolicy()
	}
	l := &Loop{
		source:  source,
		sink:    sink,
		builder: builder,
		cfg:     cfg,
		sampler: sampler.New(time.Minute),
		clock:   domain.SystemClock{},
		sleep:   sleepCtx,
		metrics: nopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(
		slog.String("component", "collector"),
		slog.String("instrument", cfg.Instrument),
	)
	l.status = Status{Instrument: cfg.Instrument, State: StateDisconnected.String()}
	return l
}

// Run collects until ctx is cancelled or the retry budget is exhausted. It
// returns ctx.Err() on cancellation and an error wrapping
// domain.ErrRetriesExhausted when it gives up. It never returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("collector started",
		slog.Int("max_retries", l.cfg.Policy.MaxRetries),
		slog.Duration("retry_delay", l.cfg.Policy.RetryDelay),
		slog.Int("windows", len(l.cfg.Windows)),
	)
	for {
		if err := ctx.Err(); err != nil {
			return l.stop(err)
		}

		err := l.stream(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return l.stop(ctxErr)
		}

		class := Classify(ctx, err)
		l.metrics.ObserveFailure(class.String())
		d := l.cfg.Policy.Next(l.failures, class)
		l.failures = d.Failures

		if d.Terminate {
			l.setState(StateTerminated, func(s *Status) {
				s.Failures = d.Failures
				s.LastError = err.Error()
			})
			l.logger.Error("retry budget exhausted",
				slog.Int("failures", d.Failures),
				slog.String("error", err.Error()),
			)
			if l.onExhausted != nil {
				l.onExhausted(ctx, err)
			}
			return fmt.Errorf("collector: %s: %w: %w", l.cfg.Instrument, domain.ErrRetriesExhausted, err)
		}

		l.setState(StateBackoffWait, func(s *Status) {
			s.Failures = d.Failures
			s.LastBackoff = d.Wait
			s.LastError = err.Error()
		})
		l.metrics.ObserveBackoff(d.Wait)
		l.logger.Warn("collector failure, reconnecting",
			slog.String("class", class.String()),
			slog.Int("failures", d.Failures),
			slog.Duration("backoff", d.Wait),
			slog.String("error", err.Error()),
		)
		if l.onReconnect != nil && class == FailureGeneric {
			l.onReconnect(ctx, err, d)
		}
		if err := l.sleep(ctx, d.Wait); err != nil {
			return l.stop(err)
		}
	}
}

// stream opens one session and processes snapshots until something fails.
// The session is always closed before it returns.
func (l *Loop) stream(ctx context.Context) error {
	l.setState(StateConnecting, nil)
	sess, err := l.source.Open(ctx, l.cfg.Instrument)
	if err != nil {
		return fmt.Errorf("collector: open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			l.logger.Debug("session close", slog.String("error", cerr.Error()))
		}
		l.setState(StateDisconnected, nil)
	}()

	l.setState(StateStreaming, nil)
	l.logger.Info("session open")
	for {
		snap, err := sess.Next(ctx)
		if err != nil {
			return fmt.Errorf("collector: next snapshot: %w", err)
		}
		if err := l.process(ctx, snap); err != nil {
			return err
		}
	}
}

// process handles one snapshot. Malformed snapshots fail whether or not their
// interval is already sampled. Valid snapshots outside a fresh interval are
// dropped. A persist failure rolls the sampler back so the interval can be
// sampled again after reconnecting; the retry reuses the interval's record ID.
func (l *Loop) process(ctx context.Context, snap domain.LadderSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	now := l.clock.Now()
	if !l.sampler.Admit(now) {
		return nil
	}
	bucket, _ := l.sampler.Last()

	m := bias.Compute(snap, l.cfg.Windows)
	rec := l.builder.Build(snap, m, now, bucket)
	if err := l.sink.Insert(ctx, rec); err != nil {
		l.sampler.Rollback()
		return fmt.Errorf("collector: persist sample: %w", err)
	}

	l.failures = 0
	next, hasNext := l.builder.NextExport(now)
	l.setState(StateStreaming, func(s *Status) {
		s.Failures = 0
		s.LastError = ""
		s.LastSampleAt = rec.SampledAt
		s.SamplesPersisted++
		s.NextExportAt = nil
		if l.exporter != nil && hasNext {
			s.NextExportAt = &next
		}
	})
	l.metrics.ObserveSample(rec)
	l.logSample(rec)

	if l.exporter != nil && l.builder.ShouldExport(now) {
		l.export(ctx, snap, now)
	}
	return nil
}

// export writes a full-ladder export. It gives up after half a sampling
// interval.
func (l *Loop) export(ctx context.Context, snap domain.LadderSnapshot, at time.Time) {
	name := record.ExportName(at)
	data, err := record.EncodeLadder(snap)
	if err == nil {
		ectx, cancel := context.WithTimeout(ctx, l.sampler.Interval()/2)
		err = l.exporter.Export(ectx, name, data)
		cancel()
	}
	l.metrics.ObserveExport(err == nil)
	if err != nil {
		l.logger.Warn("ladder export failed", slog.String("name", name), slog.String("error", err.Error()))
		return
	}
	l.logger.Info("ladder exported", slog.String("name", name), slog.Int("bytes", len(data)))
}

func (l *Loop) logSample(rec domain.SampleRecord) {
	m := rec.Metrics
	attrs := []any{
		slog.String("mid", m.MidPrice.String()),
		slog.Int("total_asks", m.TotalAskDepth),
		slog.Int("total_bids", m.TotalBidDepth),
	}
	for _, w := range m.Windows {
		attrs = append(attrs, slog.Float64("bb"+w.Window.Name, w.Bias))
	}
	l.logger.Info("book bias sampled", attrs...)
}

func (l *Loop) stop(err error) error {
	l.setState(StateTerminated, nil)
	l.logger.Info("collector stopped", slog.String("reason", err.Error()))
	return err
}

func (l *Loop) setState(s State, update func(*Status)) {
	l.mu.Lock()
	l.status.State = s.String()
	if update != nil {
		update(&l.status)
	}
	l.mu.Unlock()
	l.metrics.SetState(s.String())
}

// Status returns a copy of the current loop status. Safe for concurrent use.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
