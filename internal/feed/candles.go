package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cluster_go/internal/domain"
	"cluster_go/internal/infra"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxRetries       = 10
	maxBars          = 1440 // one day of minutes
)

// tradeMessage is one tick from the price feed.
type tradeMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Qty    float64 `json:"qty"`
	TsMs   int64   `json:"ts"`
}

// CandleStream keeps a websocket to the tick feed and aggregates trades into
// minute candles. Candles returns completed bars only; the forming bar is
// invisible until its minute rolls over.
type CandleStream struct {
	url    string
	symbol string
	log    *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	barMu   sync.RWMutex
	bars    []domain.Candle
	forming *domain.Candle
}

// NewCandleStream builds a stream for one symbol.
func NewCandleStream(url, symbol string, log *slog.Logger) *CandleStream {
	return &CandleStream{url: url, symbol: symbol, log: log}
}

// Connect starts the connection loop. Reconnects with exponential backoff
// until ctx is cancelled or Disconnect is called.
func (s *CandleStream) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

func (s *CandleStream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.log.Warn("candle stream connect failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.Backoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			s.readLoop(ctx)
		}
	}
}

func (s *CandleStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return err
	}
	s.log.Info("candle stream connected", slog.String("symbol", s.symbol))
	return nil
}

func (s *CandleStream) subscribe() error {
	msg := map[string]any{
		"op":      "subscribe",
		"channel": "trades",
		"symbols": []string{s.symbol},
	}
	b, _ := json.Marshal(msg)
	return s.threadSafeWrite(websocket.TextMessage, b)
}

func (s *CandleStream) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *CandleStream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		if s.conn == nil {
			s.mu.RUnlock()
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.mu.RUnlock()

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		s.handleMessage(msg)
	}
}

func (s *CandleStream) handleMessage(msg []byte) {
	var trade tradeMessage
	if json.Unmarshal(msg, &trade) != nil || trade.Type != "trade" || trade.Symbol != s.symbol {
		return
	}
	if trade.Price <= 0 {
		return
	}
	s.Ingest(trade.Price, trade.Qty, time.UnixMilli(trade.TsMs).UTC())
}

// Ingest folds one trade into the bar series. Exported so a backfill or a
// replay can feed the same path the socket does.
func (s *CandleStream) Ingest(price, qty float64, at time.Time) {
	minute := at.Truncate(time.Minute)

	s.barMu.Lock()
	defer s.barMu.Unlock()

	if s.forming != nil && minute.After(s.forming.OpenTime) {
		s.bars = append(s.bars, *s.forming)
		if len(s.bars) > maxBars {
			s.bars = append(s.bars[:0], s.bars[len(s.bars)-maxBars:]...)
		}
		s.forming = nil
	}
	if s.forming == nil {
		s.forming = &domain.Candle{
			OpenTime: minute,
			Open:     price, High: price, Low: price, Close: price,
			Volume: qty,
		}
		return
	}
	if minute.Before(s.forming.OpenTime) {
		return // stale tick
	}
	if price > s.forming.High {
		s.forming.High = price
	}
	if price < s.forming.Low {
		s.forming.Low = price
	}
	s.forming.Close = price
	s.forming.Volume += qty
}

// Candles returns the newest n completed bars, ascending.
func (s *CandleStream) Candles(n int) []domain.Candle {
	s.barMu.RLock()
	defer s.barMu.RUnlock()
	if n <= 0 || len(s.bars) == 0 {
		return nil
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	out := make([]domain.Candle, n)
	copy(out, s.bars[len(s.bars)-n:])
	return out
}

// IsConnected reports the socket state.
func (s *CandleStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *CandleStream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

// Disconnect stops the loop and closes the socket.
func (s *CandleStream) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
