package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
	"cluster_go/internal/execution"
	"cluster_go/internal/risk"
)

type fakeEvents struct {
	batch []domain.PositionEvent
}

func (f *fakeEvents) RecentEvents(_ context.Context, _ time.Duration) ([]domain.PositionEvent, error) {
	out := f.batch
	f.batch = nil
	return out, nil
}

type fakeCandleSrc struct {
	bars []domain.Candle
}

func (f *fakeCandleSrc) Candles(n int) []domain.Candle {
	if len(f.bars) <= n {
		return f.bars
	}
	return f.bars[len(f.bars)-n:]
}

type fakeZones struct {
	zones []domain.NoTradeZone
}

func (f *fakeZones) Zones() []domain.NoTradeZone { return f.zones }

type fakeSink struct {
	writes []any
}

func (f *fakeSink) Write(v any) error {
	f.writes = append(f.writes, v)
	return nil
}

func newTestRunner(engines []*Engine, mock *execution.Mock, journal *fakeJournal, events *fakeEvents, zones *fakeZones) (*Runner, *fakeSink) {
	deps := testDeps(mock, journal)
	sink := &fakeSink{}
	cfg := RunnerConfig{
		PollInterval:  time.Second,
		EventLookback: time.Minute,
		CandleHistory: 100,
		Limits: risk.LossLimits{
			PerEngine: decimal.NewFromInt(100),
			Total:     decimal.NewFromInt(250),
		},
		LossLocation: time.UTC,
	}
	r := NewRunner(cfg, engines, deps, events, &fakeCandleSrc{bars: risingCandles()}, zones, sink, nil)
	return r, sink
}

func TestRunner_ZoneGate(t *testing.T) {
	ctx := context.Background()
	mock := execution.NewMock()
	journal := newFakeJournal()
	deps := testDeps(mock, journal)
	e := New(entryConfig(), deps.Log)
	e.positions["pos1"] = &domain.OpenPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300}
	mock.Open = append(mock.Open, domain.BrokerPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300})

	zones := &fakeZones{zones: []domain.NoTradeZone{{
		Start: testNow.Add(-time.Minute), End: testNow.Add(time.Hour), Reason: "nfp",
	}}}
	events := &fakeEvents{batch: sellCrowd(testNow)}
	r, sink := newTestRunner([]*Engine{e}, mock, journal, events, zones)

	r.tick(ctx, testNow)

	if mock.Closed["pos1"] != domain.CloseReasonZoneFlat {
		t.Errorf("close reason = %v, want zone flatten", mock.Closed)
	}
	if len(mock.Placed) != 0 {
		t.Error("no entries while a zone is active")
	}
	if !r.inZone {
		t.Error("runner must record the active zone")
	}
	if len(sink.writes) != 1 {
		t.Errorf("snapshots = %d, want 1", len(sink.writes))
	}

	// Zone over: trading resumes and the still-buffered crowd can fire.
	zones.zones = nil
	events.batch = sellCrowd(testNow.Add(2 * time.Second))
	r.tick(ctx, testNow.Add(2*time.Second))
	if r.inZone {
		t.Error("zone flag must clear")
	}
	if len(mock.Placed) != 1 {
		t.Errorf("placed = %d after zone ended, want 1", len(mock.Placed))
	}
}

func TestRunner_ZoneFlattenRetried(t *testing.T) {
	ctx := context.Background()
	mock := execution.NewMock()
	journal := newFakeJournal()
	deps := testDeps(mock, journal)
	e := New(entryConfig(), deps.Log)
	e.positions["pos1"] = &domain.OpenPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300}
	mock.Open = append(mock.Open, domain.BrokerPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300})
	mock.CloseErr = domain.NewNetworkError("close", context.DeadlineExceeded)

	zones := &fakeZones{zones: []domain.NoTradeZone{{
		Start: testNow.Add(-time.Minute), End: testNow.Add(time.Hour), Reason: "nfp",
	}}}
	r, _ := newTestRunner([]*Engine{e}, mock, journal, &fakeEvents{}, zones)

	r.tick(ctx, testNow)
	if _, ok := mock.Closed["pos1"]; ok {
		t.Fatal("first close was arranged to fail")
	}
	if !e.HasExposure() {
		t.Fatal("failed close must keep the position tracked")
	}

	// The zone is still active on the next tick, so the flatten is retried.
	r.tick(ctx, testNow.Add(time.Second))
	if mock.Closed["pos1"] != domain.CloseReasonZoneFlat {
		t.Errorf("close reason = %v, want zone flatten on retry", mock.Closed)
	}
	if e.HasExposure() {
		t.Error("position must be released after the retried close")
	}
}

func TestRunner_LossFlattenRetried(t *testing.T) {
	ctx := context.Background()
	mock := execution.NewMock()
	journal := newFakeJournal()
	journal.realized[101] = decimal.NewFromInt(-150)
	deps := testDeps(mock, journal)
	e := New(entryConfig(), deps.Log)
	e.positions["pos1"] = &domain.OpenPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300}
	mock.Open = append(mock.Open, domain.BrokerPosition{Ticket: "pos1", EngineID: 101, Side: domain.SideBuy, EntryPrice: 2300})
	mock.CloseErr = domain.NewNetworkError("close", context.DeadlineExceeded)

	r, _ := newTestRunner([]*Engine{e}, mock, journal, &fakeEvents{}, &fakeZones{})

	r.tick(ctx, testNow)
	if !testNow.Before(e.disabledUntil) {
		t.Fatal("breached engine must be disabled")
	}
	if _, ok := mock.Closed["pos1"]; ok {
		t.Fatal("first close was arranged to fail")
	}

	// Already disabled, but the breach still stands and the position is
	// still held, so the next tick flattens again.
	r.tick(ctx, testNow.Add(time.Second))
	if mock.Closed["pos1"] != domain.CloseReasonLossLimit {
		t.Errorf("close reason = %v, want loss limit on retry", mock.Closed)
	}
	if e.HasExposure() {
		t.Error("position must be released after the retried close")
	}
}

func TestRunner_LossGates(t *testing.T) {
	ctx := context.Background()

	t.Run("per-engine breach disables only that engine", func(t *testing.T) {
		mock := execution.NewMock()
		journal := newFakeJournal()
		journal.realized[101] = decimal.NewFromInt(-150)
		deps := testDeps(mock, journal)

		hit := New(entryConfig(), deps.Log)
		okCfg := entryConfig()
		okCfg.ID = 102
		okEng := New(okCfg, deps.Log)

		events := &fakeEvents{batch: sellCrowd(testNow)}
		r, _ := newTestRunner([]*Engine{hit, okEng}, mock, journal, events, &fakeZones{})

		r.tick(ctx, testNow)

		if !testNow.Before(hit.disabledUntil) {
			t.Error("breached engine must be disabled")
		}
		if testNow.Before(okEng.disabledUntil) {
			t.Error("healthy engine must stay enabled")
		}
		// Only the healthy engine placed.
		if len(mock.Placed) != 1 || mock.Placed[0].EngineID != 102 {
			t.Errorf("placed = %+v, want one order for engine 102", mock.Placed)
		}
	})

	t.Run("aggregate breach halts everything until the next day", func(t *testing.T) {
		mock := execution.NewMock()
		journal := newFakeJournal()
		journal.realized[101] = decimal.NewFromInt(-150)
		journal.realized[102] = decimal.NewFromInt(-150)
		deps := testDeps(mock, journal)

		e1 := New(entryConfig(), deps.Log)
		cfg2 := entryConfig()
		cfg2.ID = 102
		e2 := New(cfg2, deps.Log)

		events := &fakeEvents{batch: sellCrowd(testNow)}
		r, _ := newTestRunner([]*Engine{e1, e2}, mock, journal, events, &fakeZones{})

		r.tick(ctx, testNow)

		if !testNow.Before(r.haltedUntil) {
			t.Fatal("expected aggregate halt")
		}
		want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
		if !r.haltedUntil.Equal(want) {
			t.Errorf("halted until %v, want next UTC midnight", r.haltedUntil)
		}
		if len(mock.Placed) != 0 {
			t.Errorf("placed = %d while halted, want 0", len(mock.Placed))
		}

		// Still halted on the next tick.
		events.batch = sellCrowd(testNow.Add(time.Minute))
		r.tick(ctx, testNow.Add(time.Minute))
		if len(mock.Placed) != 0 {
			t.Error("halt must persist across ticks")
		}

		// Past the boundary the halt lifts (journal per-day query is the
		// fake's static value here, so clear it to simulate the reset).
		journal.realized = map[int]decimal.Decimal{}
		nextDay := want.Add(time.Hour)
		events.batch = sellCrowd(nextDay)
		r.tick(ctx, nextDay)
		if len(mock.Placed) == 0 {
			t.Error("entries must resume after the daily reset")
		}
	})
}

func TestRunner_SnapshotShape(t *testing.T) {
	ctx := context.Background()
	mock := execution.NewMock()
	journal := newFakeJournal()
	deps := testDeps(mock, journal)
	e := New(entryConfig(), deps.Log)
	r, sink := newTestRunner([]*Engine{e}, mock, journal, &fakeEvents{}, &fakeZones{})

	r.tick(ctx, testNow)

	if len(sink.writes) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(sink.writes))
	}
	snap, ok := sink.writes[0].(BookSnapshot)
	if !ok {
		t.Fatalf("snapshot type %T", sink.writes[0])
	}
	if len(snap.Engines) != 1 || snap.Engines[0].ID != 101 {
		t.Errorf("snapshot = %+v", snap)
	}
}
