// Package engine owns the order lifecycle and position management for each
// configured engine, and the Runner that drives all of them from a single
// goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"cluster_go/internal/cluster"
	"cluster_go/internal/domain"
	"cluster_go/internal/indicator"
	"cluster_go/internal/infra"
	"cluster_go/internal/risk"
	"cluster_go/internal/strategy"
)

// Deps are the collaborators shared by every engine. Metrics may be nil.
type Deps struct {
	Exec    domain.Execution
	Journal domain.TradeJournal
	Metrics *infra.Metrics
	Log     *slog.Logger
}

// Engine is one strategy instance: its own cluster window, at most one
// pending order, its tracked positions and its cooldown/disable clocks.
// All methods must be called from the runner goroutine.
type Engine struct {
	cfg *domain.EngineConfig
	det *cluster.Detector
	log *slog.Logger

	pending   *domain.PendingOrder
	positions map[string]*domain.OpenPosition
	profits   map[string]float64 // last seen floating profit per ticket

	cooldownUntil time.Time
	disabledUntil time.Time
}

// New builds an engine from its validated config.
func New(cfg *domain.EngineConfig, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		det:       cluster.NewDetector(cfg),
		log:       log.With(slog.String("engine", cfg.Name), slog.Int("id", cfg.ID)),
		positions: make(map[string]*domain.OpenPosition),
		profits:   make(map[string]float64),
	}
}

// Config returns the engine's immutable config.
func (e *Engine) Config() *domain.EngineConfig { return e.cfg }

// DisableUntil blocks new entries until t. Used by the daily-loss breaker.
func (e *Engine) DisableUntil(t time.Time) { e.disabledUntil = t }

// Reconcile diffs tracked state against the executor: detects fills,
// externally closed positions, vanished pending orders, and adopts positions
// the executor reports that we do not know (restart recovery). It also
// expires the pending order past its TTL. lastPrice is used only for
// close-reason inference and may be 0.
func (e *Engine) Reconcile(ctx context.Context, deps Deps, lastPrice float64, now time.Time) error {
	brokerPending, err := deps.Exec.PendingOrders(ctx, e.cfg.ID)
	if err != nil {
		return fmt.Errorf("reconcile pending: %w", err)
	}
	brokerOpen, err := deps.Exec.OpenPositions(ctx, e.cfg.ID)
	if err != nil {
		return fmt.Errorf("reconcile positions: %w", err)
	}

	pendingByTicket := make(map[string]domain.BrokerOrder, len(brokerPending))
	for _, o := range brokerPending {
		pendingByTicket[o.Ticket] = o
	}
	openByTicket := make(map[string]domain.BrokerPosition, len(brokerOpen))
	for _, p := range brokerOpen {
		openByTicket[p.Ticket] = p
		e.profits[p.Ticket] = p.Profit
	}

	if e.pending != nil {
		e.reconcilePending(ctx, deps, pendingByTicket, openByTicket, now)
	}

	for ticket, pos := range e.positions {
		if _, ok := openByTicket[ticket]; ok {
			continue
		}
		reason := inferCloseReason(pos, lastPrice)
		e.journalClose(deps, pos, lastPrice, reason, now)
		delete(e.positions, ticket)
		delete(e.profits, ticket)
	}

	for ticket, bp := range openByTicket {
		if _, ok := e.positions[ticket]; ok {
			continue
		}
		e.adopt(bp)
	}
	return nil
}

func (e *Engine) reconcilePending(ctx context.Context, deps Deps, pendingByTicket map[string]domain.BrokerOrder, openByTicket map[string]domain.BrokerPosition, now time.Time) {
	ord := e.pending
	if bp, ok := openByTicket[ord.Ticket]; ok {
		// Filled. Keep the placement snapshot around long enough to log
		// fill quality against the actual entry.
		pos := &domain.OpenPosition{
			Ticket:     bp.Ticket,
			EngineID:   e.cfg.ID,
			Side:       ord.Side,
			Mode:       ord.Mode,
			EntryPrice: bp.EntryPrice,
			InitialSL:  ord.StopLoss,
			CurrentSL:  ord.StopLoss,
			TakeProfit: ord.TakeProfit,
			Lots:       bp.Lots,
			OpenedAt:   bp.OpenedAt,
		}
		e.positions[bp.Ticket] = pos
		e.det.Flush()
		e.cooldownUntil = now.Add(e.cfg.Cooldown())
		e.pending = nil
		e.log.Info("pending filled",
			slog.String("ticket", bp.Ticket),
			slog.String("side", string(ord.Side)),
			slog.String("mode", string(ord.Mode)),
			slog.Float64("entry", bp.EntryPrice),
			slog.Float64("vs_market_at_place", bp.EntryPrice-ord.MarketAtPlace),
			slog.Float64("vs_limit", bp.EntryPrice-ord.LimitPrice))
		deps.Metrics.OrderFilled(string(ord.Side))
		return
	}
	if _, ok := pendingByTicket[ord.Ticket]; !ok {
		// Gone without filling: cancelled out of band.
		e.pending = nil
		e.cooldownUntil = now.Add(e.cfg.CooldownAfterExpiry())
		e.log.Warn("pending vanished", slog.String("ticket", ord.Ticket))
		return
	}
	if ord.Expired(now) {
		if err := deps.Exec.CancelPending(ctx, ord.Ticket, domain.CancelReasonExpired); err != nil {
			e.log.Error("cancel expired pending", slog.String("ticket", ord.Ticket), slog.Any("error", err))
			return
		}
		e.pending = nil
		e.cooldownUntil = now.Add(e.cfg.CooldownAfterExpiry())
		e.log.Info("pending expired", slog.String("ticket", ord.Ticket))
		deps.Metrics.OrderExpired(string(ord.Side))
	}
}

func (e *Engine) adopt(bp domain.BrokerPosition) {
	pos := &domain.OpenPosition{
		Ticket:     bp.Ticket,
		EngineID:   e.cfg.ID,
		Side:       bp.Side,
		Mode:       domain.ModeUnknown,
		EntryPrice: bp.EntryPrice,
		InitialSL:  bp.StopLoss,
		CurrentSL:  bp.StopLoss,
		TakeProfit: bp.TakeProfit,
		Lots:       bp.Lots,
		OpenedAt:   bp.OpenedAt,
	}
	e.positions[bp.Ticket] = pos
	e.log.Warn("adopted untracked position",
		slog.String("ticket", bp.Ticket),
		slog.String("side", string(bp.Side)),
		slog.Float64("entry", bp.EntryPrice))
}

// EntryStep feeds the new event batch to the detector and, when a signal
// fires and every gate passes, sizes and places one limit order.
//
// The detector always ingests the batch so the window stays current while
// the engine is gated; a signal fired while gated is dropped.
func (e *Engine) EntryStep(ctx context.Context, deps Deps, events []domain.PositionEvent, candles []domain.Candle, acct domain.Account, sessionOpen bool, now time.Time) error {
	sig := e.det.Observe(events)
	if sig == nil {
		return nil
	}
	deps.Metrics.ClusterFired(string(sig.Side))
	e.log.Info("cluster fired",
		slog.String("side", string(sig.Side)),
		slog.Int("unique", len(sig.Traders)),
		slog.Int("events", sig.Events),
		slog.Time("anchor", sig.At))

	if reason := e.entryGate(sessionOpen, now); reason != "" {
		e.log.Debug("signal gated", slog.String("reason", reason))
		return nil
	}

	snap := indicator.Compute(candles, e.cfg, now)
	if snap.LastPrice <= 0 {
		e.log.Warn("no market data, signal dropped")
		return nil
	}
	dec := strategy.Decide(sig.Side, snap, e.cfg)
	deps.Metrics.DecisionMade(string(dec.Mode))
	e.log.Info("direction decided",
		slog.String("side", string(dec.Side)),
		slog.String("mode", string(dec.Mode)),
		slog.String("reason", dec.Reason),
		slog.Float64("rsi", snap.RSI),
		slog.Float64("vwap", snap.VWAP),
		slog.Float64("price", snap.LastPrice))

	slDist := e.cfg.SLDistance
	if snap.ATROK && e.cfg.ATREntryMult > 0 {
		slDist = e.cfg.ATREntryMult * snap.ATR
	}
	if slDist <= 0 {
		e.log.Warn("no usable stop distance, signal dropped")
		return nil
	}

	lots, err := risk.LotSize(e.cfg, acct, deps.Exec.Spec(), slDist)
	if err != nil {
		e.log.Error("lot sizing failed", slog.Any("error", err))
		return nil
	}

	req := buildOrder(e.cfg, dec, snap.LastPrice, slDist, lots)
	ticket, err := deps.Exec.PlaceLimit(ctx, req)
	if err != nil {
		return fmt.Errorf("place limit: %w", err)
	}
	e.pending = &domain.PendingOrder{
		Ticket:        ticket,
		EngineID:      e.cfg.ID,
		Side:          req.Side,
		Mode:          req.Mode,
		LimitPrice:    req.LimitPrice,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Lots:          req.Lots,
		MarketAtPlace: snap.LastPrice,
		PlacedAt:      now,
		ExpiresAt:     now.Add(e.cfg.PendingTTL()),
	}
	deps.Metrics.OrderPlaced(string(req.Side))
	e.log.Info("limit placed",
		slog.String("ticket", ticket),
		slog.String("side", string(req.Side)),
		slog.Float64("limit", req.LimitPrice),
		slog.Float64("sl", req.StopLoss),
		slog.Float64("tp", req.TakeProfit),
		slog.Float64("lots", req.Lots))
	return nil
}

// entryGate returns the name of the first failing gate, or "".
func (e *Engine) entryGate(sessionOpen bool, now time.Time) string {
	switch {
	case !e.cfg.Enabled:
		return "disabled"
	case now.Before(e.disabledUntil):
		return "loss_disabled"
	case len(e.positions) >= e.cfg.MaxPositions:
		return "capacity"
	case e.pending != nil:
		return "pending_exclusive"
	case now.Before(e.cooldownUntil):
		return "cooldown"
	case !sessionOpen:
		return "session"
	}
	return ""
}

func buildOrder(cfg *domain.EngineConfig, dec strategy.Decision, last, slDist, lots float64) domain.OrderRequest {
	var limit, sl, tp float64
	if dec.Side == domain.SideBuy {
		limit = last - cfg.LimitOffset
		sl = limit - slDist
		if cfg.UseTP && cfg.TPr > 0 {
			tp = limit + cfg.TPr*slDist
		}
	} else {
		limit = last + cfg.LimitOffset
		sl = limit + slDist
		if cfg.UseTP && cfg.TPr > 0 {
			tp = limit - cfg.TPr*slDist
		}
	}
	return domain.OrderRequest{
		EngineID:   cfg.ID,
		Side:       dec.Side,
		Mode:       dec.Mode,
		LimitPrice: limit,
		StopLoss:   sl,
		TakeProfit: tp,
		Lots:       lots,
		Comment:    cfg.Name,
	}
}

// ManagePositions runs the time exit, then breakeven, then the chandelier
// trail over every tracked position. The stop only ever ratchets toward lower
// risk and at most one modify is issued per position per tick.
func (e *Engine) ManagePositions(ctx context.Context, deps Deps, candles []domain.Candle, now time.Time) {
	last := domain.LastClose(candles)
	if last <= 0 {
		return
	}
	for _, pos := range e.positions {
		if e.maybeTimeExit(ctx, deps, pos, last, now) {
			continue
		}
		cand, label, ok := e.stopCandidate(pos, candles, last)
		if !ok || !pos.Improves(cand) {
			continue
		}
		if err := deps.Exec.ModifyStop(ctx, pos.Ticket, cand); err != nil {
			e.log.Error("modify stop", slog.String("ticket", pos.Ticket), slog.Any("error", err))
			continue
		}
		e.log.Info("stop moved",
			slog.String("ticket", pos.Ticket),
			slog.String("step", label),
			slog.Float64("from", pos.CurrentSL),
			slog.Float64("to", cand))
		pos.CurrentSL = cand
		if label == "breakeven" {
			pos.Breakeven = true
		}
		deps.Metrics.StopMoved(label)
	}
}

// stopCandidate evaluates breakeven and the chandelier trail in one pass and
// returns the best of the two, so a tick where both trigger issues a single
// modify to the final level. Candidates that would cross the market are
// discarded.
func (e *Engine) stopCandidate(pos *domain.OpenPosition, candles []domain.Candle, last float64) (float64, string, bool) {
	r := pos.OpenR(last)

	var cand float64
	var label string
	var have bool

	if e.cfg.BreakevenR > 0 && !pos.Breakeven && pos.InitialRisk() > 0 && r >= e.cfg.BreakevenR {
		if pos.Improves(pos.EntryPrice) {
			cand, label, have = pos.EntryPrice, "breakeven", true
		} else {
			// Stop already beyond entry; mark done so the trail takes over.
			pos.Breakeven = true
		}
	}

	if e.cfg.ATRTrailMult > 0 && r >= e.cfg.TrailStartR {
		if trail, ok := e.trailLevel(pos, candles, last); ok {
			tighter := trail > cand
			if pos.Side == domain.SideSell {
				tighter = trail < cand
			}
			if !have || tighter {
				cand, label, have = trail, "trail", true
			}
		}
	}
	return cand, label, have
}

// trailLevel computes the chandelier stop for the position's side.
func (e *Engine) trailLevel(pos *domain.OpenPosition, candles []domain.Candle, last float64) (float64, bool) {
	atr, ok := indicator.ATR(candles, e.cfg.ATRPeriod)
	if !ok {
		return 0, false
	}
	if pos.Side == domain.SideBuy {
		hh, ok := indicator.HighestHigh(candles, e.cfg.TrailLookback)
		if !ok {
			return 0, false
		}
		cand := hh - atr*e.cfg.ATRTrailMult
		if cand >= last {
			return 0, false
		}
		return cand, true
	}
	ll, ok := indicator.LowestLow(candles, e.cfg.TrailLookback)
	if !ok {
		return 0, false
	}
	cand := ll + atr*e.cfg.ATRTrailMult
	if cand <= last {
		return 0, false
	}
	return cand, true
}

func (e *Engine) maybeTimeExit(ctx context.Context, deps Deps, pos *domain.OpenPosition, last float64, now time.Time) bool {
	hold := e.cfg.MaxHold()
	if hold <= 0 || now.Sub(pos.OpenedAt) < hold {
		return false
	}
	if err := deps.Exec.ClosePosition(ctx, pos.Ticket, domain.CloseReasonTimeExit); err != nil {
		e.log.Error("time exit close", slog.String("ticket", pos.Ticket), slog.Any("error", err))
		return false
	}
	e.journalClose(deps, pos, last, domain.CloseReasonTimeExit, now)
	delete(e.positions, pos.Ticket)
	delete(e.profits, pos.Ticket)
	return true
}

// HasExposure reports whether the engine still holds a pending order or any
// open position.
func (e *Engine) HasExposure() bool {
	return e.pending != nil || len(e.positions) > 0
}

// FlushWindow clears the engine's cluster window.
func (e *Engine) FlushWindow() { e.det.Flush() }

// Flatten cancels the pending order, closes every position with the given
// reason and flushes the cluster window. Failed cancels and closes keep their
// records so the caller can retry on a later tick.
func (e *Engine) Flatten(ctx context.Context, deps Deps, lastPrice float64, reason string, now time.Time) {
	if e.pending != nil {
		if err := deps.Exec.CancelPending(ctx, e.pending.Ticket, reason); err != nil {
			e.log.Error("flatten cancel", slog.String("ticket", e.pending.Ticket), slog.Any("error", err))
		} else {
			e.pending = nil
		}
	}
	for ticket, pos := range e.positions {
		if err := deps.Exec.ClosePosition(ctx, ticket, reason); err != nil {
			e.log.Error("flatten close", slog.String("ticket", ticket), slog.Any("error", err))
			continue
		}
		e.journalClose(deps, pos, lastPrice, reason, now)
		delete(e.positions, ticket)
		delete(e.profits, ticket)
	}
	e.det.Flush()
}

func (e *Engine) journalClose(deps Deps, pos *domain.OpenPosition, lastPrice float64, reason string, now time.Time) {
	profit := decimal.NewFromFloat(e.profits[pos.Ticket])
	trade := domain.ClosedTrade{
		Ticket:     pos.Ticket,
		EngineID:   e.cfg.ID,
		EngineName: e.cfg.Name,
		Side:       pos.Side,
		Mode:       pos.Mode,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  lastPrice,
		Lots:       pos.Lots,
		Profit:     profit,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	}
	if err := deps.Journal.RecordClose(trade); err != nil {
		e.log.Error("journal close", slog.String("ticket", pos.Ticket), slog.Any("error", err))
	}
	deps.Metrics.PositionClosed(reason)
	e.log.Info("position closed",
		slog.String("ticket", pos.Ticket),
		slog.String("reason", reason),
		slog.String("profit", profit.String()))
}

// inferCloseReason guesses why the executor closed a position we tracked,
// from where price sits relative to the stop and target.
func inferCloseReason(pos *domain.OpenPosition, last float64) string {
	if last <= 0 {
		return domain.CloseReasonExternal
	}
	tol := 0.1 * pos.InitialRisk()
	if tol < 0 {
		tol = 0
	}
	if pos.Side == domain.SideBuy {
		if pos.CurrentSL > 0 && last <= pos.CurrentSL+tol {
			return domain.CloseReasonStopLoss
		}
		if pos.TakeProfit > 0 && last >= pos.TakeProfit-tol {
			return domain.CloseReasonTakeProfit
		}
	} else {
		if pos.CurrentSL > 0 && last >= pos.CurrentSL-tol {
			return domain.CloseReasonStopLoss
		}
		if pos.TakeProfit > 0 && last <= pos.TakeProfit+tol {
			return domain.CloseReasonTakeProfit
		}
	}
	return domain.CloseReasonExternal
}

// FloatingPnL sums the last seen open profit across tracked positions.
func (e *Engine) FloatingPnL() decimal.Decimal {
	sum := decimal.Zero
	for ticket := range e.positions {
		sum = sum.Add(decimal.NewFromFloat(e.profits[ticket]))
	}
	return sum
}

// State is the engine's snapshot for the periodic state dump.
type State struct {
	Name          string                 `json:"name"`
	ID            int                    `json:"id"`
	Pending       *domain.PendingOrder   `json:"pending,omitempty"`
	Positions     []*domain.OpenPosition `json:"positions,omitempty"`
	CooldownUntil time.Time              `json:"cooldown_until"`
	DisabledUntil time.Time              `json:"disabled_until"`
	BuyUnique     int                    `json:"buy_unique"`
	SellUnique    int                    `json:"sell_unique"`
	WindowEvents  int                    `json:"window_events"`
}

// Snapshot returns a copy of the engine's externally interesting state.
func (e *Engine) Snapshot() State {
	s := State{
		Name:          e.cfg.Name,
		ID:            e.cfg.ID,
		Pending:       e.pending,
		CooldownUntil: e.cooldownUntil,
		DisabledUntil: e.disabledUntil,
	}
	s.BuyUnique, s.SellUnique, s.WindowEvents = e.det.Stats()
	for _, p := range e.positions {
		cp := *p
		s.Positions = append(s.Positions, &cp)
	}
	return s
}
