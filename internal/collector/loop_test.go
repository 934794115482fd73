package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/domain"
	"github.com/alanyoungcy/bookbias/internal/record"
	"github.com/alanyoungcy/bookbias/internal/sampler"
)

// --- fakes ---------------------------------------------------------------

type step struct {
	snap domain.LadderSnapshot
	err  error
}

type fakeSession struct {
	steps   []step
	i       int
	onDrain func()

	mu     sync.Mutex
	closes int
}

func (s *fakeSession) Next(ctx context.Context) (domain.LadderSnapshot, error) {
	if s.i >= len(s.steps) {
		if s.onDrain != nil {
			s.onDrain()
		}
		<-ctx.Done()
		return domain.LadderSnapshot{}, ctx.Err()
	}
	st := s.steps[s.i]
	s.i++
	return st.snap, st.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeSource hands out scripted results in order. Once the script is used
// up it keeps returning openErr.
type fakeSource struct {
	script  []any // *fakeSession or error
	openErr error
	opens   int
}

func (f *fakeSource) Open(context.Context, string) (domain.LadderSession, error) {
	f.opens++
	if len(f.script) == 0 {
		return nil, f.openErr
	}
	next := f.script[0]
	f.script = f.script[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*fakeSession), nil
}

// fakeSink keys records by ID the way the sample table does. commitThenFail
// stores the record and still reports an error, like a lost commit ack.
type fakeSink struct {
	fail           int
	commitThenFail int
	records        []domain.SampleRecord
	attempts       []domain.SampleRecord
}

func (s *fakeSink) Insert(_ context.Context, rec domain.SampleRecord) error {
	s.attempts = append(s.attempts, rec)
	if s.fail > 0 {
		s.fail--
		return errors.New("db unavailable")
	}
	if !s.has(rec) {
		s.records = append(s.records, rec)
	}
	if s.commitThenFail > 0 {
		s.commitThenFail--
		return errors.New("commit ack lost")
	}
	return nil
}

func (s *fakeSink) has(rec domain.SampleRecord) bool {
	for _, r := range s.records {
		if r.ID == rec.ID {
			return true
		}
	}
	return false
}

type sleepRecorder struct {
	waits []time.Duration
	after func(n int)
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	if r.after != nil {
		r.after(len(r.waits))
	}
	return ctx.Err()
}

// sequenceClock returns each time in turn and then repeats the last one.
type sequenceClock struct {
	times []time.Time
	i     int
}

func (c *sequenceClock) Now() time.Time {
	t := c.times[min(c.i, len(c.times)-1)]
	c.i++
	return t
}

// blockingExporter waits for ctx and records whether it carried a deadline.
type blockingExporter struct {
	calls       int
	hadDeadline bool
}

func (e *blockingExporter) Export(ctx context.Context, _ string, _ []byte) error {
	e.calls++
	_, e.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

type exportRecorder struct{ names []string }

func (e *exportRecorder) Export(_ context.Context, name string, _ []byte) error {
	e.names = append(e.names, name)
	return nil
}

func lvl(price, qty string) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(price), Quantity: decimal.RequireFromString(qty)}
}

func goodSnapshot() domain.LadderSnapshot {
	return domain.LadderSnapshot{
		Asks: []domain.PriceLevel{lvl("100", "1"), lvl("101", "2")},
		Bids: []domain.PriceLevel{lvl("99", "1"), lvl("98", "2")},
	}
}

var noon = time.Date(2023, 12, 12, 12, 0, 0, 0, time.UTC)

func newLoop(src domain.LadderSource, sink domain.SampleSink, opts ...Option) *Loop {
	cfg := Config{
		Instrument: "BTCUSDT",
		Policy:     RetryPolicy{MaxRetries: 5, RetryDelay: time.Second},
	}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(src, sink, record.NewBuilder("btc", nil), cfg, opts...)
}

// --- tests ---------------------------------------------------------------

func TestRun_ExhaustsAfterFiveBackoffs(t *testing.T) {
	src := &fakeSource{openErr: errors.New("connection refused")}
	rec := &sleepRecorder{}
	var exhausted int
	l := newLoop(src, &fakeSink{},
		WithSleep(rec.sleep),
		WithOnExhausted(func(context.Context, error) { exhausted++ }),
	)

	err := l.Run(context.Background())
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run() = %v, want ErrRetriesExhausted", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, rec.waits[i], want[i])
		}
	}
	if src.opens != 6 {
		t.Errorf("opens = %d, want 6", src.opens)
	}
	if exhausted != 1 {
		t.Errorf("OnExhausted called %d times, want 1", exhausted)
	}
	if st := l.Status(); st.State != "terminated" || st.Failures != 6 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestRun_TimeoutDoesNotConsumeBudget(t *testing.T) {
	src := &fakeSource{
		script:  []any{domain.ErrTimeout},
		openErr: errors.New("boom"),
	}
	rec := &sleepRecorder{}
	l := newLoop(src, &fakeSink{}, WithSleep(rec.sleep))

	err := l.Run(context.Background())
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run() = %v, want ErrRetriesExhausted", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, rec.waits[i], want[i])
		}
	}
}

func TestRun_CancelDuringBackoffClosesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{steps: []step{{err: errors.New("reset by peer")}}}
	src := &fakeSource{script: []any{sess}}
	rec := &sleepRecorder{after: func(int) { cancel() }}
	l := newLoop(src, &fakeSink{}, WithSleep(rec.sleep))

	err := l.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if errors.Is(err, domain.ErrRetriesExhausted) {
		t.Error("cancellation reported as exhaustion")
	}
	if sess.closeCount() != 1 {
		t.Errorf("session closed %d times, want 1", sess.closeCount())
	}
	if len(rec.waits) != 1 {
		t.Errorf("waits = %v, want one", rec.waits)
	}
}

func TestRun_CancelWhileStreaming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &fakeSession{onDrain: cancel}
	src := &fakeSource{script: []any{sess}}
	rec := &sleepRecorder{}
	l := newLoop(src, &fakeSink{}, WithSleep(rec.sleep))

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if sess.closeCount() != 1 {
		t.Errorf("session closed %d times, want 1", sess.closeCount())
	}
	if len(rec.waits) != 0 {
		t.Errorf("waits = %v, want none", rec.waits)
	}
}

func TestRun_OneRecordPerMinute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := time.Date(2023, 12, 12, 10, 0, 0, 0, time.UTC)
	clock := &sequenceClock{times: []time.Time{
		base,
		base.Add(10 * time.Second),
		base.Add(59 * time.Second),
		base.Add(time.Minute),
	}}
	steps := make([]step, 4)
	for i := range steps {
		steps[i] = step{snap: goodSnapshot()}
	}
	sess := &fakeSession{steps: steps, onDrain: cancel}
	sink := &fakeSink{}
	l := newLoop(&fakeSource{script: []any{sess}}, sink, WithClock(clock))

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(sink.records) != 2 {
		t.Fatalf("records = %d, want 2", len(sink.records))
	}
	if !sink.records[0].SampledAt.Equal(base) || !sink.records[1].SampledAt.Equal(base.Add(time.Minute)) {
		t.Errorf("sampled at %s and %s", sink.records[0].SampledAt, sink.records[1].SampledAt)
	}

	m := sink.records[0].Metrics
	if !m.MidPrice.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("MidPrice = %s, want 99.5", m.MidPrice)
	}
	w1, ok := m.Window("1")
	if !ok || !w1.AskQty.Equal(decimal.NewFromInt(1)) || !w1.BidQty.Equal(decimal.NewFromInt(1)) || w1.Bias != 0 {
		t.Errorf("window 1 = %+v", w1)
	}
	w4, ok := m.Window("4")
	if !ok || !w4.AskQty.Equal(decimal.NewFromInt(3)) || !w4.BidQty.Equal(decimal.NewFromInt(3)) || w4.Bias != 0 {
		t.Errorf("window 4 = %+v", w4)
	}
	if st := l.Status(); st.SamplesPersisted != 2 {
		t.Errorf("SamplesPersisted = %d, want 2", st.SamplesPersisted)
	}
}

func TestRun_SinkFailureReconnectsAndRetriesMinute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeSession{steps: []step{{snap: goodSnapshot()}}}
	second := &fakeSession{steps: []step{{snap: goodSnapshot()}}, onDrain: cancel}
	sink := &fakeSink{fail: 1}
	rec := &sleepRecorder{}
	l := newLoop(&fakeSource{script: []any{first, second}}, sink,
		WithSleep(rec.sleep),
		WithClock(domain.FixedClock{T: noon.Add(5 * time.Second)}),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if first.closeCount() != 1 {
		t.Errorf("first session closed %d times, want 1", first.closeCount())
	}
	if len(sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(sink.records))
	}
	if len(rec.waits) != 1 || rec.waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s]", rec.waits)
	}
	if st := l.Status(); st.Failures != 0 {
		t.Errorf("Failures = %d after successful sample, want 0", st.Failures)
	}
}

func TestRun_MalformedSnapshotIsGenericFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := domain.LadderSnapshot{Asks: []domain.PriceLevel{lvl("100", "1")}}
	first := &fakeSession{steps: []step{{snap: bad}}}
	second := &fakeSession{steps: []step{{snap: goodSnapshot()}}, onDrain: cancel}
	sink := &fakeSink{}
	rec := &sleepRecorder{}
	l := newLoop(&fakeSource{script: []any{first, second}}, sink,
		WithSleep(rec.sleep),
		WithClock(domain.FixedClock{T: noon}),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s]", rec.waits)
	}
	if len(sink.records) != 1 {
		t.Errorf("records = %d, want 1 (minute retried after rollback)", len(sink.records))
	}
}

func TestRun_SuccessResetsBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	healthy := &fakeSession{steps: []step{{snap: goodSnapshot()}, {err: io.EOF}}}
	src := &fakeSource{
		script:  []any{boom, boom, boom, boom, boom, healthy},
		openErr: boom,
	}
	rec := &sleepRecorder{after: func(n int) {
		if n == 6 {
			cancel()
		}
	}}
	var reconnects int
	l := newLoop(src, &fakeSink{},
		WithSleep(rec.sleep),
		WithClock(domain.FixedClock{T: noon}),
		WithOnReconnect(func(context.Context, error, Decision) { reconnects++ }),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 2 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rec.waits, want)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("wait[%d] = %s, want %s", i, rec.waits[i], want[i])
		}
	}
	if reconnects != 6 {
		t.Errorf("OnReconnect called %d times, want 6", reconnects)
	}
}

func TestRun_ExportsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := record.ParseSchedule(record.DefaultExportCron)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	clock := &sequenceClock{times: []time.Time{noon.Add(3 * time.Second), noon.Add(time.Minute)}}
	sess := &fakeSession{steps: []step{{snap: goodSnapshot()}, {snap: goodSnapshot()}}, onDrain: cancel}
	exp := &exportRecorder{}
	l := New(&fakeSource{script: []any{sess}}, &fakeSink{}, record.NewBuilder("btc", &sched),
		Config{Instrument: "BTCUSDT", Policy: DefaultRetryPolicy()},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock),
		WithExporter(exp),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(exp.names) != 1 || exp.names[0] != "order_book_20231212_120003.json" {
		t.Errorf("exports = %v", exp.names)
	}
}

func TestRun_CommittedInsertRetriedKeepsOneRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeSession{steps: []step{{snap: goodSnapshot()}}}
	second := &fakeSession{steps: []step{{snap: goodSnapshot()}}, onDrain: cancel}
	sink := &fakeSink{commitThenFail: 1}
	l := newLoop(&fakeSource{script: []any{first, second}}, sink,
		WithSleep((&sleepRecorder{}).sleep),
		WithClock(domain.FixedClock{T: noon.Add(5 * time.Second)}),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(sink.attempts) != 2 {
		t.Fatalf("insert attempts = %d, want 2", len(sink.attempts))
	}
	if sink.attempts[0].ID != sink.attempts[1].ID {
		t.Errorf("retry used ID %s, first attempt %s", sink.attempts[1].ID, sink.attempts[0].ID)
	}
	if len(sink.records) != 1 {
		t.Errorf("records for minute 12:00 = %d, want 1", len(sink.records))
	}
}

func TestRun_MalformedSnapshotInSampledMinuteFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := domain.LadderSnapshot{Bids: []domain.PriceLevel{lvl("99", "1")}}
	first := &fakeSession{steps: []step{{snap: goodSnapshot()}, {snap: bad}}}
	second := &fakeSession{onDrain: cancel}
	sink := &fakeSink{}
	rec := &sleepRecorder{}
	var causes []error
	l := newLoop(&fakeSource{script: []any{first, second}}, sink,
		WithSleep(rec.sleep),
		WithClock(domain.FixedClock{T: noon}),
		WithOnReconnect(func(_ context.Context, cause error, _ Decision) { causes = append(causes, cause) }),
	)

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(sink.records) != 1 {
		t.Errorf("records = %d, want 1", len(sink.records))
	}
	if len(causes) != 1 || !errors.Is(causes[0], domain.ErrMalformedSnapshot) {
		t.Errorf("reconnect causes = %v, want one ErrMalformedSnapshot", causes)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s]", rec.waits)
	}
}

func TestRun_TimeoutSkipsReconnectHook(t *testing.T) {
	src := &fakeSource{
		script:  []any{domain.ErrTimeout, domain.ErrTimeout},
		openErr: errors.New("boom"),
	}
	var reconnects int
	l := newLoop(src, &fakeSink{},
		WithSleep((&sleepRecorder{}).sleep),
		WithOnReconnect(func(context.Context, error, Decision) { reconnects++ }),
	)

	if err := l.Run(context.Background()); !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run() = %v, want ErrRetriesExhausted", err)
	}
	if reconnects != 5 {
		t.Errorf("OnReconnect called %d times, want 5 (generic failures only)", reconnects)
	}
}

func TestRun_StalledExportDoesNotBlockSampling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := record.ParseSchedule(record.DefaultExportCron)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	clock := &sequenceClock{times: []time.Time{noon, noon.Add(time.Minute)}}
	sess := &fakeSession{steps: []step{{snap: goodSnapshot()}, {snap: goodSnapshot()}}, onDrain: cancel}
	sink := &fakeSink{}
	exp := &blockingExporter{}
	l := New(&fakeSource{script: []any{sess}}, sink, record.NewBuilder("btc", &sched),
		Config{Instrument: "BTCUSDT"},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock),
		WithSampler(sampler.New(20*time.Millisecond)),
		WithExporter(exp),
	)

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run blocked on a stalled export")
	}
	if exp.calls != 1 || !exp.hadDeadline {
		t.Errorf("export calls = %d, deadline = %v; want 1 call with a deadline", exp.calls, exp.hadDeadline)
	}
	if len(sink.records) != 2 {
		t.Errorf("records = %d, want 2", len(sink.records))
	}
	st := l.Status()
	want := time.Date(2023, 12, 13, 0, 0, 0, 0, time.UTC)
	if st.NextExportAt == nil || !st.NextExportAt.Equal(want) {
		t.Errorf("NextExportAt = %v, want %s", st.NextExportAt, want)
	}
}

func TestNew_ZeroPolicyUsesDefault(t *testing.T) {
	l := New(&fakeSource{}, &fakeSink{}, record.NewBuilder("btc", nil), Config{Instrument: "BTCUSDT"})
	if l.cfg.Policy != DefaultRetryPolicy() {
		t.Errorf("Policy = %+v, want %+v", l.cfg.Policy, DefaultRetryPolicy())
	}
}
