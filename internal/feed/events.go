// Package feed brings the outside world in: the trader-event poller that
// watches third-party position opens, and the websocket candle stream.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cluster_go/internal/domain"
)

// PollerConfig configures the trader-event source.
type PollerConfig struct {
	BaseURL    string
	Token      string
	Groups     []string
	Symbol     string
	Timeout    time.Duration
	SeenMaxAge time.Duration
}

// Poller fetches open-position reports over REST and turns the ones it has
// not seen before into PositionEvents. De-duplication is by broker order ID
// with age-based expiry, bootstrapped at startup so orders that already
// existed never fire a cluster.
type Poller struct {
	cfg  PollerConfig
	http *http.Client
	seen *seenCache
	log  *slog.Logger
}

// NewPoller builds the poller. Timeout and SeenMaxAge get defaults when zero.
func NewPoller(cfg PollerConfig, log *slog.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SeenMaxAge <= 0 {
		cfg.SeenMaxAge = 30 * time.Minute
	}
	return &Poller{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		seen: newSeenCache(cfg.SeenMaxAge),
		log:  log,
	}
}

// positionRow is one position in the upstream report.
type positionRow struct {
	OrderID    string  `json:"order_id"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Side       string  `json:"side"`
	Amount     float64 `json:"amount"`
	OpenPrice  float64 `json:"open_price"`
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
	OpenTimeMs int64   `json:"open_time_ms"`
}

// Bootstrap marks everything currently reported as already seen, without
// emitting events.
func (p *Poller) Bootstrap(ctx context.Context) error {
	rows, err := p.fetch(ctx, p.cfg.SeenMaxAge)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	now := time.Now()
	for _, row := range rows {
		p.seen.add(row.OrderID, now)
	}
	p.log.Info("event feed bootstrapped", slog.Int("preexisting", len(rows)))
	return nil
}

// RecentEvents returns the position opens within lookback that have not been
// reported before.
func (p *Poller) RecentEvents(ctx context.Context, lookback time.Duration) ([]domain.PositionEvent, error) {
	rows, err := p.fetch(ctx, lookback)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p.seen.sweep(now)

	var out []domain.PositionEvent
	for _, row := range rows {
		if row.Action != "" && row.Action != "open" {
			continue
		}
		if p.cfg.Symbol != "" && row.Symbol != p.cfg.Symbol {
			continue
		}
		if row.OrderID == "" || p.seen.has(row.OrderID) {
			continue
		}
		side, ok := rowSide(row)
		if !ok {
			p.log.Warn("event with undecidable side dropped", slog.String("order", row.OrderID))
			continue
		}
		p.seen.add(row.OrderID, now)
		out = append(out, domain.PositionEvent{
			OrderID:  row.OrderID,
			TraderID: row.UserID,
			Side:     side,
			Symbol:   row.Symbol,
			Lots:     row.Amount,
			Price:    row.OpenPrice,
			OpenedAt: time.UnixMilli(row.OpenTimeMs).UTC(),
		})
	}
	return out, nil
}

func (p *Poller) fetch(ctx context.Context, lookback time.Duration) ([]positionRow, error) {
	payload, _ := json.Marshal(map[string]any{
		"groups":           p.cfg.Groups,
		"lookback_seconds": int(lookback.Seconds()),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/positions/open", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("poll", fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewFatalNetworkError("poll", fmt.Errorf("auth rejected: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewNetworkError("poll", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("poll", err)
	}
	var rows []positionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, domain.NewNetworkError("poll", fmt.Errorf("bad payload: %w", err))
	}
	return rows, nil
}

// rowSide takes the reported side when present, otherwise infers it from
// where the stop sits relative to the open price.
func rowSide(row positionRow) (domain.Side, bool) {
	switch row.Side {
	case "buy", "BUY":
		return domain.SideBuy, true
	case "sell", "SELL":
		return domain.SideSell, true
	}
	if row.StopLoss > 0 && row.OpenPrice > 0 {
		if row.StopLoss < row.OpenPrice {
			return domain.SideBuy, true
		}
		return domain.SideSell, true
	}
	if row.TakeProfit > 0 && row.OpenPrice > 0 {
		if row.TakeProfit > row.OpenPrice {
			return domain.SideBuy, true
		}
		return domain.SideSell, true
	}
	return "", false
}

// seenCache is the order-ID de-dup set with age expiry.
type seenCache struct {
	mu     sync.Mutex
	maxAge time.Duration
	ids    map[string]time.Time
}

func newSeenCache(maxAge time.Duration) *seenCache {
	return &seenCache{maxAge: maxAge, ids: make(map[string]time.Time)}
}

func (c *seenCache) add(id string, at time.Time) {
	c.mu.Lock()
	c.ids[id] = at
	c.mu.Unlock()
}

func (c *seenCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

func (c *seenCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, at := range c.ids {
		if now.Sub(at) > c.maxAge {
			delete(c.ids, id)
		}
	}
}
