package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
)

// Mock is a hand-rolled Execution fake for tests. State is plain exported
// fields the test arranges and inspects; every mutating call is recorded.
type Mock struct {
	SymbolSpec domain.SymbolSpec
	Acct       domain.Account

	Pending []domain.BrokerOrder
	Open    []domain.BrokerPosition

	Placed    []domain.OrderRequest
	Cancelled []string
	Closed    map[string]string // ticket -> reason
	Modified  map[string]float64

	PlaceErr  error
	ModifyErr error
	CloseErr  error // consumed by the next ClosePosition call
	QueryErr  error

	nextTicket int
}

// NewMock returns a mock with a funded account.
func NewMock() *Mock {
	return &Mock{
		SymbolSpec: domain.SymbolSpec{Symbol: "XAUUSD", ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01},
		Acct: domain.Account{
			Equity:  decimal.NewFromInt(10000),
			Balance: decimal.NewFromInt(10000),
		},
		Closed:   make(map[string]string),
		Modified: make(map[string]float64),
	}
}

func (m *Mock) Spec() domain.SymbolSpec { return m.SymbolSpec }

func (m *Mock) PlaceLimit(_ context.Context, req domain.OrderRequest) (string, error) {
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.Placed = append(m.Placed, req)
	m.nextTicket++
	ticket := ticketName(m.nextTicket)
	m.Pending = append(m.Pending, domain.BrokerOrder{
		Ticket:     ticket,
		EngineID:   req.EngineID,
		Side:       req.Side,
		LimitPrice: req.LimitPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Lots:       req.Lots,
	})
	return ticket, nil
}

func (m *Mock) ModifyStop(_ context.Context, ticket string, newSL float64) error {
	if m.ModifyErr != nil {
		return m.ModifyErr
	}
	m.Modified[ticket] = newSL
	for i := range m.Open {
		if m.Open[i].Ticket == ticket {
			m.Open[i].StopLoss = newSL
		}
	}
	return nil
}

func (m *Mock) ClosePosition(_ context.Context, ticket, reason string) error {
	if m.CloseErr != nil {
		err := m.CloseErr
		m.CloseErr = nil
		return err
	}
	m.Closed[ticket] = reason
	for i := range m.Open {
		if m.Open[i].Ticket == ticket {
			m.Open = append(m.Open[:i], m.Open[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Mock) CancelPending(_ context.Context, ticket, _ string) error {
	m.Cancelled = append(m.Cancelled, ticket)
	for i := range m.Pending {
		if m.Pending[i].Ticket == ticket {
			m.Pending = append(m.Pending[:i], m.Pending[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Mock) OpenPositions(_ context.Context, engineID int) ([]domain.BrokerPosition, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []domain.BrokerPosition
	for _, p := range m.Open {
		if p.EngineID == engineID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Mock) PendingOrders(_ context.Context, engineID int) ([]domain.BrokerOrder, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	var out []domain.BrokerOrder
	for _, o := range m.Pending {
		if o.EngineID == engineID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Mock) Account(_ context.Context) (domain.Account, error) {
	if m.QueryErr != nil {
		return domain.Account{}, m.QueryErr
	}
	return m.Acct, nil
}

// Fill converts a pending order into an open position at the given entry,
// the way a broker report would show it.
func (m *Mock) Fill(ticket string, entry float64, profit float64) {
	for i, o := range m.Pending {
		if o.Ticket != ticket {
			continue
		}
		m.Pending = append(m.Pending[:i], m.Pending[i+1:]...)
		m.Open = append(m.Open, domain.BrokerPosition{
			Ticket:     o.Ticket,
			EngineID:   o.EngineID,
			Side:       o.Side,
			EntryPrice: entry,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Lots:       o.Lots,
			Profit:     profit,
		})
		return
	}
}

// Drop removes a position as if the broker closed it out of band.
func (m *Mock) Drop(ticket string) {
	for i := range m.Open {
		if m.Open[i].Ticket == ticket {
			m.Open = append(m.Open[:i], m.Open[i+1:]...)
			return
		}
	}
}

func ticketName(n int) string {
	return fmt.Sprintf("t%d", n)
}
