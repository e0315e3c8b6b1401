// Package execution provides the order gateways: a paper executor that
// simulates fills against the candle stream, and a scriptable mock for
// tests. The live gateway interface they implement lives in domain.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
)

// Paper simulates a broker against the candle stream. Limit orders fill when
// a bar trades through the limit price; stops and targets are swept against
// each new bar. Money is tracked in decimals.
//
// Sweeps run lazily on every query, once per new bar. A position opened by a
// bar is not swept against that same bar, so an entry can never stop out on
// the candle that filled it.
type Paper struct {
	mu      sync.Mutex
	spec    domain.SymbolSpec
	candles domain.CandleSource

	balance   decimal.Decimal
	pending   map[string]*paperOrder
	open      map[string]*paperPosition
	lastSwept time.Time
}

type paperOrder struct {
	domain.BrokerOrder
	mode domain.TradeMode
}

type paperPosition struct {
	domain.BrokerPosition
}

// NewPaper builds a paper executor with the given starting balance.
func NewPaper(spec domain.SymbolSpec, candles domain.CandleSource, startBalance decimal.Decimal) *Paper {
	return &Paper{
		spec:    spec,
		candles: candles,
		balance: startBalance,
		pending: make(map[string]*paperOrder),
		open:    make(map[string]*paperPosition),
	}
}

func (p *Paper) Spec() domain.SymbolSpec { return p.spec }

func (p *Paper) PlaceLimit(_ context.Context, req domain.OrderRequest) (string, error) {
	if req.Lots <= 0 || req.LimitPrice <= 0 {
		return "", fmt.Errorf("%w: lots=%v limit=%v", domain.ErrOrderRejected, req.Lots, req.LimitPrice)
	}
	if !req.Side.Valid() {
		return "", fmt.Errorf("%w: side %q", domain.ErrOrderRejected, req.Side)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()

	ticket := uuid.NewString()
	p.pending[ticket] = &paperOrder{
		BrokerOrder: domain.BrokerOrder{
			Ticket:     ticket,
			EngineID:   req.EngineID,
			Side:       req.Side,
			LimitPrice: req.LimitPrice,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
			Lots:       req.Lots,
			PlacedAt:   p.lastSwept,
		},
		mode: req.Mode,
	}
	return ticket, nil
}

func (p *Paper) ModifyStop(_ context.Context, ticket string, newSL float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	pos, ok := p.open[ticket]
	if !ok {
		return fmt.Errorf("modify %s: %w", ticket, domain.ErrUnknownTicket)
	}
	pos.StopLoss = newSL
	return nil
}

func (p *Paper) ClosePosition(_ context.Context, ticket, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	pos, ok := p.open[ticket]
	if !ok {
		return fmt.Errorf("close %s: %w", ticket, domain.ErrUnknownTicket)
	}
	p.realizeLocked(pos, p.lastPriceLocked())
	delete(p.open, ticket)
	return nil
}

func (p *Paper) CancelPending(_ context.Context, ticket, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[ticket]; !ok {
		return fmt.Errorf("cancel %s: %w", ticket, domain.ErrUnknownTicket)
	}
	delete(p.pending, ticket)
	return nil
}

func (p *Paper) OpenPositions(_ context.Context, engineID int) ([]domain.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	last := p.lastPriceLocked()
	var out []domain.BrokerPosition
	for _, pos := range p.open {
		if pos.EngineID != engineID {
			continue
		}
		bp := pos.BrokerPosition
		bp.Profit = p.profit(&bp, last)
		out = append(out, bp)
	}
	return out, nil
}

func (p *Paper) PendingOrders(_ context.Context, engineID int) ([]domain.BrokerOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	var out []domain.BrokerOrder
	for _, o := range p.pending {
		if o.EngineID == engineID {
			out = append(out, o.BrokerOrder)
		}
	}
	return out, nil
}

func (p *Paper) Account(_ context.Context) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	last := p.lastPriceLocked()
	equity := p.balance
	for _, pos := range p.open {
		equity = equity.Add(decimal.NewFromFloat(p.profit(&pos.BrokerPosition, last)))
	}
	return domain.Account{Equity: equity, Balance: p.balance}, nil
}

// sweepLocked advances the simulation over any bars that arrived since the
// last call: existing positions first (stop, then target on the same bar
// resolves pessimistically to the stop), then pending fills.
func (p *Paper) sweepLocked() {
	candles := p.candles.Candles(64)
	for _, c := range candles {
		if !c.OpenTime.After(p.lastSwept) {
			continue
		}
		p.sweepPositions(c)
		p.fillPending(c)
		p.lastSwept = c.OpenTime
	}
}

func (p *Paper) sweepPositions(c domain.Candle) {
	for ticket, pos := range p.open {
		if pos.OpenedAt.Equal(c.OpenTime) {
			continue
		}
		exit, hit := exitPrice(&pos.BrokerPosition, c)
		if !hit {
			continue
		}
		p.realizeLocked(pos, exit)
		delete(p.open, ticket)
	}
}

func exitPrice(pos *domain.BrokerPosition, c domain.Candle) (float64, bool) {
	if pos.Side == domain.SideBuy {
		if pos.StopLoss > 0 && c.Low <= pos.StopLoss {
			return pos.StopLoss, true
		}
		if pos.TakeProfit > 0 && c.High >= pos.TakeProfit {
			return pos.TakeProfit, true
		}
		return 0, false
	}
	if pos.StopLoss > 0 && c.High >= pos.StopLoss {
		return pos.StopLoss, true
	}
	if pos.TakeProfit > 0 && c.Low <= pos.TakeProfit {
		return pos.TakeProfit, true
	}
	return 0, false
}

func (p *Paper) fillPending(c domain.Candle) {
	for ticket, o := range p.pending {
		filled := (o.Side == domain.SideBuy && c.Low <= o.LimitPrice) ||
			(o.Side == domain.SideSell && c.High >= o.LimitPrice)
		if !filled {
			continue
		}
		p.open[ticket] = &paperPosition{BrokerPosition: domain.BrokerPosition{
			Ticket:     ticket,
			EngineID:   o.EngineID,
			Side:       o.Side,
			EntryPrice: o.LimitPrice,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Lots:       o.Lots,
			OpenedAt:   c.OpenTime,
		}}
		delete(p.pending, ticket)
	}
}

func (p *Paper) realizeLocked(pos *paperPosition, exit float64) {
	p.balance = p.balance.Add(decimal.NewFromFloat(p.profit(&pos.BrokerPosition, exit)))
}

func (p *Paper) profit(pos *domain.BrokerPosition, price float64) float64 {
	if price <= 0 {
		return 0
	}
	diff := price - pos.EntryPrice
	if pos.Side == domain.SideSell {
		diff = -diff
	}
	return diff * pos.Lots * p.spec.ContractSize
}

func (p *Paper) lastPriceLocked() float64 {
	return domain.LastClose(p.candles.Candles(1))
}
