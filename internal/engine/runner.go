package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cluster_go/internal/domain"
	"cluster_go/internal/infra"
	"cluster_go/internal/risk"
)

// ZoneProvider serves the current no-trade zone list. Implementations may
// reload from disk behind the call.
type ZoneProvider interface {
	Zones() []domain.NoTradeZone
}

// SnapshotSink persists the periodic state dump.
type SnapshotSink interface {
	Write(v any) error
}

// RunnerConfig is the loop-level configuration.
type RunnerConfig struct {
	PollInterval   time.Duration
	EventLookback  time.Duration
	CandleHistory  int
	HeartbeatEvery time.Duration
	Session        risk.Session
	Limits         risk.LossLimits
	LossLocation   *time.Location
}

// Runner drives every engine through the per-tick sequence from one
// goroutine. No engine state is touched from anywhere else.
type Runner struct {
	cfg     RunnerConfig
	engines []*Engine
	deps    Deps
	events  domain.EventSource
	candles domain.CandleSource
	zones   ZoneProvider
	sink    SnapshotSink
	breaker *infra.CircuitBreaker
	log     *slog.Logger

	inZone        bool
	haltedUntil   time.Time
	lastHeartbeat time.Time
}

// NewRunner wires the loop. sink and zones may be nil.
func NewRunner(cfg RunnerConfig, engines []*Engine, deps Deps, events domain.EventSource, candles domain.CandleSource, zones ZoneProvider, sink SnapshotSink, breaker *infra.CircuitBreaker) *Runner {
	if cfg.CandleHistory <= 0 {
		cfg.CandleHistory = 200
	}
	if cfg.LossLocation == nil {
		cfg.LossLocation = time.UTC
	}
	return &Runner{
		cfg:     cfg,
		engines: engines,
		deps:    deps,
		events:  events,
		candles: candles,
		zones:   zones,
		sink:    sink,
		breaker: breaker,
		log:     deps.Log,
	}
}

// Run blocks until ctx is cancelled, then flattens nothing and returns: open
// positions are deliberately left to their stops on shutdown.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info("runner started", slog.Int("engines", len(r.engines)))

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in tick loop", slog.Any("panic", rec))
			r.dumpState("panic_dump.json")
			panic(fmt.Sprintf("halted: %v", rec))
		}
	}()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("runner stopping")
			return
		case now := <-ticker.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Runner) tick(ctx context.Context, now time.Time) {
	candles := r.candles.Candles(r.cfg.CandleHistory)
	last := domain.LastClose(candles)

	acct, err := r.guardedAccount(ctx)
	if err != nil {
		r.log.Warn("account unavailable, tick skipped", slog.Any("error", err))
		r.writeSnapshot(now)
		return
	}
	eq, _ := acct.Equity.Float64()
	r.deps.Metrics.SetEquity(eq)

	for _, e := range r.engines {
		if err := e.Reconcile(ctx, r.deps, last, now); err != nil {
			r.log.Error("reconcile failed", slog.Int("engine", e.cfg.ID), slog.Any("error", err))
		}
	}

	if r.zoneGate(ctx, last, now) {
		r.writeSnapshot(now)
		return
	}

	losses := r.collectLosses(now)
	r.heartbeat(acct, losses, now)
	if r.lossGate(ctx, losses, last, now) {
		r.writeSnapshot(now)
		return
	}

	events := r.guardedEvents(ctx)
	sessionOpen := r.cfg.Session.Open(now)
	for _, e := range r.engines {
		if err := e.EntryStep(ctx, r.deps, events, candles, acct, sessionOpen, now); err != nil {
			r.log.Error("entry step failed", slog.Int("engine", e.cfg.ID), slog.Any("error", err))
		}
	}
	for _, e := range r.engines {
		e.ManagePositions(ctx, r.deps, candles, now)
	}
	r.writeSnapshot(now)
}

// zoneGate flattens everything when a zone opens and keeps trading suspended
// while one is active. A flatten that failed part-way is retried every tick
// until the engine holds nothing. Returns true while suspended.
func (r *Runner) zoneGate(ctx context.Context, last float64, now time.Time) bool {
	var zones []domain.NoTradeZone
	if r.zones != nil {
		zones = r.zones.Zones()
	}
	z := domain.ActiveZone(zones, now)
	if z == nil {
		if r.inZone {
			r.inZone = false
			r.log.Info("no-trade zone ended, trading resumed")
		}
		return false
	}
	if !r.inZone {
		r.inZone = true
		r.log.Warn("no-trade zone active, flattening",
			slog.String("reason", z.Reason),
			slog.Time("until", z.End))
		for _, e := range r.engines {
			e.FlushWindow()
		}
	}
	for _, e := range r.engines {
		if e.HasExposure() {
			e.Flatten(ctx, r.deps, last, domain.CloseReasonZoneFlat, now)
		}
	}
	return true
}

func (r *Runner) collectLosses(now time.Time) []risk.EngineLoss {
	dayStart := risk.DayStart(now, r.cfg.LossLocation)
	losses := make([]risk.EngineLoss, 0, len(r.engines))
	for _, e := range r.engines {
		realized, err := r.deps.Journal.RealizedSince(e.cfg.ID, dayStart)
		if err != nil {
			r.log.Error("realized pnl query failed", slog.Int("engine", e.cfg.ID), slog.Any("error", err))
		}
		losses = append(losses, risk.EngineLoss{
			EngineID: e.cfg.ID,
			Realized: realized,
			Floating: e.FloatingPnL(),
		})
	}
	return losses
}

// lossGate applies both daily-loss layers. Returns true while the aggregate
// halt is in force.
func (r *Runner) lossGate(ctx context.Context, losses []risk.EngineLoss, last float64, now time.Time) bool {
	verdict := risk.Evaluate(r.cfg.Limits, losses)
	reset := risk.NextDayStart(now, r.cfg.LossLocation)

	for _, id := range verdict.BreachedEngines {
		e := r.engineByID(id)
		if e == nil {
			continue
		}
		if !now.Before(e.disabledUntil) {
			r.log.Warn("engine daily loss limit hit",
				slog.Int("engine", id),
				slog.Time("disabled_until", reset))
			e.DisableUntil(reset)
		}
		// Retry while the breach stands and anything is still held.
		if e.HasExposure() {
			e.Flatten(ctx, r.deps, last, domain.CloseReasonLossLimit, now)
		}
	}

	if verdict.TotalBreached {
		if !now.Before(r.haltedUntil) {
			r.log.Error("aggregate daily loss limit hit, halting all engines",
				slog.String("net", verdict.TotalNet.String()),
				slog.Time("halted_until", reset))
			r.haltedUntil = reset
		}
		for _, e := range r.engines {
			if e.HasExposure() {
				e.Flatten(ctx, r.deps, last, domain.CloseReasonLossLimit, now)
			}
		}
	}

	halted := now.Before(r.haltedUntil)
	r.deps.Metrics.SetHalted(halted)
	return halted
}

func (r *Runner) heartbeat(acct domain.Account, losses []risk.EngineLoss, now time.Time) {
	if r.cfg.HeartbeatEvery <= 0 || now.Sub(r.lastHeartbeat) < r.cfg.HeartbeatEvery {
		return
	}
	r.lastHeartbeat = now
	attrs := []any{
		slog.String("equity", acct.Equity.String()),
		slog.String("balance", acct.Balance.String()),
	}
	for _, l := range losses {
		attrs = append(attrs, slog.Group(fmt.Sprintf("engine_%d", l.EngineID),
			slog.String("realized", l.Realized.String()),
			slog.String("floating", l.Floating.String())))
	}
	r.log.Info("heartbeat", attrs...)
}

func (r *Runner) guardedAccount(ctx context.Context) (domain.Account, error) {
	if r.breaker != nil && !r.breaker.Allow() {
		r.deps.Metrics.SetBreakerOpen(true)
		return domain.Account{}, fmt.Errorf("connectivity breaker open")
	}
	acct, err := r.deps.Exec.Account(ctx)
	r.recordOutcome(err)
	if err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

func (r *Runner) guardedEvents(ctx context.Context) []domain.PositionEvent {
	if r.breaker != nil && !r.breaker.Allow() {
		r.deps.Metrics.SetBreakerOpen(true)
		return nil
	}
	events, err := r.events.RecentEvents(ctx, r.cfg.EventLookback)
	r.recordOutcome(err)
	if err != nil {
		r.deps.Metrics.FeedError()
		r.log.Warn("event poll failed", slog.Any("error", err))
		return nil
	}
	return events
}

func (r *Runner) recordOutcome(err error) {
	if r.breaker == nil {
		return
	}
	if err != nil && domain.IsRetriable(err) {
		r.breaker.Failure()
	} else if err == nil {
		r.breaker.Success()
	}
	r.deps.Metrics.SetBreakerOpen(r.breaker.State() == infra.BreakerOpen)
}

func (r *Runner) engineByID(id int) *Engine {
	for _, e := range r.engines {
		if e.cfg.ID == id {
			return e
		}
	}
	return nil
}

// BookSnapshot is the full state dump written each tick.
type BookSnapshot struct {
	At          time.Time `json:"at"`
	InZone      bool      `json:"in_zone"`
	HaltedUntil time.Time `json:"halted_until,omitempty"`
	Engines     []State   `json:"engines"`
}

func (r *Runner) snapshot(now time.Time) BookSnapshot {
	s := BookSnapshot{At: now, InZone: r.inZone, HaltedUntil: r.haltedUntil}
	for _, e := range r.engines {
		s.Engines = append(s.Engines, e.Snapshot())
	}
	return s
}

func (r *Runner) writeSnapshot(now time.Time) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Write(r.snapshot(now)); err != nil {
		r.log.Error("state snapshot write failed", slog.Any("error", err))
	}
}

// dumpState writes the book to a file for post-mortem after a panic.
func (r *Runner) dumpState(filename string) {
	b, err := json.MarshalIndent(r.snapshot(time.Now()), "", "  ")
	if err != nil {
		r.log.Error("marshal state dump", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		r.log.Error("write state dump", slog.Any("error", err))
	}
}
