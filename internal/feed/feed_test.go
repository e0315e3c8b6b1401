package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cluster_go/internal/domain"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feedServer(t *testing.T, rows *[]positionRow) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tkn" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(*rows)
	}))
}

func TestPoller(t *testing.T) {
	ctx := context.Background()
	openMs := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC).UnixMilli()

	rows := []positionRow{
		{OrderID: "o1", UserID: "alice", Symbol: "XAUUSD", Action: "open", Side: "sell", Amount: 0.5, OpenPrice: 2310, OpenTimeMs: openMs},
		{OrderID: "o2", UserID: "bob", Symbol: "XAUUSD", Action: "open", OpenPrice: 2310, StopLoss: 2315, OpenTimeMs: openMs},
		{OrderID: "o3", UserID: "carol", Symbol: "EURUSD", Action: "open", Side: "buy", OpenTimeMs: openMs},
		{OrderID: "o4", UserID: "dave", Symbol: "XAUUSD", Action: "close", Side: "buy", OpenTimeMs: openMs},
		{OrderID: "o5", UserID: "erin", Symbol: "XAUUSD", Action: "open", OpenPrice: 0, OpenTimeMs: openMs},
	}
	srv := feedServer(t, &rows)
	defer srv.Close()

	newTestPoller := func() *Poller {
		return NewPoller(PollerConfig{
			BaseURL: srv.URL,
			Token:   "tkn",
			Groups:  []string{"g1"},
			Symbol:  "XAUUSD",
		}, discardLog())
	}

	t.Run("filters and infers sides", func(t *testing.T) {
		p := newTestPoller()
		events, err := p.RecentEvents(ctx, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		// o1 explicit sell, o2 inferred sell (stop above open); o3 wrong
		// symbol, o4 not an open, o5 undecidable.
		if len(events) != 2 {
			t.Fatalf("events = %d, want 2: %+v", len(events), events)
		}
		if events[0].Side != domain.SideSell || events[1].Side != domain.SideSell {
			t.Errorf("sides = %v/%v, want sell/sell", events[0].Side, events[1].Side)
		}
		if events[0].TraderID != "alice" || events[1].TraderID != "bob" {
			t.Errorf("traders = %v/%v", events[0].TraderID, events[1].TraderID)
		}
		if !events[0].OpenedAt.Equal(time.UnixMilli(openMs).UTC()) {
			t.Errorf("opened at %v", events[0].OpenedAt)
		}
	})

	t.Run("repeat polls are de-duplicated", func(t *testing.T) {
		p := newTestPoller()
		first, err := p.RecentEvents(ctx, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if len(first) == 0 {
			t.Fatal("expected events on the first poll")
		}
		second, err := p.RecentEvents(ctx, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if len(second) != 0 {
			t.Errorf("second poll = %d events, want 0", len(second))
		}
	})

	t.Run("bootstrap suppresses preexisting orders", func(t *testing.T) {
		p := newTestPoller()
		if err := p.Bootstrap(ctx); err != nil {
			t.Fatal(err)
		}
		events, err := p.RecentEvents(ctx, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 0 {
			t.Errorf("events = %d after bootstrap, want 0", len(events))
		}
	})

	t.Run("auth failure is not retriable", func(t *testing.T) {
		p := NewPoller(PollerConfig{BaseURL: srv.URL, Token: "wrong", Symbol: "XAUUSD"}, discardLog())
		_, err := p.RecentEvents(ctx, time.Minute)
		if err == nil {
			t.Fatal("expected auth error")
		}
		if domain.IsRetriable(err) {
			t.Error("401 must not be retriable")
		}
	})

	t.Run("unreachable feed is retriable", func(t *testing.T) {
		p := NewPoller(PollerConfig{BaseURL: "http://127.0.0.1:1", Token: "tkn", Timeout: 100 * time.Millisecond}, discardLog())
		_, err := p.RecentEvents(ctx, time.Minute)
		if err == nil {
			t.Fatal("expected connection error")
		}
		if !domain.IsRetriable(err) {
			t.Error("connection refusal must be retriable")
		}
	})
}

func TestRowSide(t *testing.T) {
	cases := []struct {
		name string
		row  positionRow
		want domain.Side
		ok   bool
	}{
		{"explicit buy", positionRow{Side: "BUY"}, domain.SideBuy, true},
		{"stop below open is a buy", positionRow{OpenPrice: 2300, StopLoss: 2295}, domain.SideBuy, true},
		{"stop above open is a sell", positionRow{OpenPrice: 2300, StopLoss: 2305}, domain.SideSell, true},
		{"target above open is a buy", positionRow{OpenPrice: 2300, TakeProfit: 2310}, domain.SideBuy, true},
		{"target below open is a sell", positionRow{OpenPrice: 2300, TakeProfit: 2290}, domain.SideSell, true},
		{"nothing to infer from", positionRow{OpenPrice: 2300}, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := rowSide(c.row)
			if ok != c.ok || got != c.want {
				t.Errorf("rowSide(%+v) = %v,%v want %v,%v", c.row, got, ok, c.want, c.ok)
			}
		})
	}
}

func TestCandleStream_Ingest(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := NewCandleStream("ws://unused", "XAUUSD", discardLog())

	t.Run("forming bar is invisible", func(t *testing.T) {
		s.Ingest(2300, 1, base.Add(5*time.Second))
		s.Ingest(2302, 1, base.Add(20*time.Second))
		if got := s.Candles(10); len(got) != 0 {
			t.Fatalf("candles = %d, want 0 while the bar is forming", len(got))
		}
	})

	t.Run("minute rollover completes the bar", func(t *testing.T) {
		s.Ingest(2299, 2, base.Add(40*time.Second))
		s.Ingest(2301, 1, base.Add(70*time.Second)) // next minute
		got := s.Candles(10)
		if len(got) != 1 {
			t.Fatalf("candles = %d, want 1", len(got))
		}
		bar := got[0]
		if !bar.OpenTime.Equal(base) {
			t.Errorf("open time = %v", bar.OpenTime)
		}
		if bar.Open != 2300 || bar.High != 2302 || bar.Low != 2299 || bar.Close != 2299 {
			t.Errorf("ohlc = %v/%v/%v/%v", bar.Open, bar.High, bar.Low, bar.Close)
		}
		if bar.Volume != 4 {
			t.Errorf("volume = %v, want 4", bar.Volume)
		}
	})

	t.Run("stale ticks are dropped", func(t *testing.T) {
		s.Ingest(1, 1, base.Add(30*time.Second)) // a minute behind the forming bar
		got := s.Candles(10)
		if len(got) != 1 {
			t.Fatalf("candles = %d, want 1 still", len(got))
		}
	})

	t.Run("newest n ascending", func(t *testing.T) {
		s.Ingest(2305, 1, base.Add(130*time.Second))
		s.Ingest(2306, 1, base.Add(190*time.Second))
		got := s.Candles(2)
		if len(got) != 2 {
			t.Fatalf("candles = %d, want 2", len(got))
		}
		if !got[0].OpenTime.Before(got[1].OpenTime) {
			t.Error("bars must be ascending")
		}
	})
}
