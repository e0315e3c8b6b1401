package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
)

func setupTestJournal(t *testing.T) *Journal {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open test journal: %v", err)
	}
	return j
}

func closedTrade(engineID int, profit string, closedAt time.Time) domain.ClosedTrade {
	return domain.ClosedTrade{
		Ticket:     "t1",
		EngineID:   engineID,
		EngineName: "test",
		Side:       domain.SideBuy,
		Mode:       domain.ModeInverse,
		EntryPrice: 2310.5,
		ExitPrice:  2315.5,
		Lots:       0.1,
		Profit:     decimal.RequireFromString(profit),
		Reason:     domain.CloseReasonStopLoss,
		OpenedAt:   closedAt.Add(-10 * time.Minute),
		ClosedAt:   closedAt,
	}
}

func TestJournalRealizedSince(t *testing.T) {
	j := setupTestJournal(t)

	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	trades := []domain.ClosedTrade{
		closedTrade(101, "-50", dayStart.Add(2*time.Hour)),
		closedTrade(101, "30.25", dayStart.Add(3*time.Hour)),
		closedTrade(102, "-20", dayStart.Add(4*time.Hour)),
		closedTrade(101, "-75", dayStart.Add(-1*time.Hour)), // previous day
	}
	for _, tr := range trades {
		if err := j.RecordClose(tr); err != nil {
			t.Fatalf("RecordClose failed: %v", err)
		}
	}

	got, err := j.RealizedSince(101, dayStart)
	if err != nil {
		t.Fatalf("RealizedSince failed: %v", err)
	}
	if want := decimal.RequireFromString("-19.75"); !got.Equal(want) {
		t.Errorf("engine 101 realized = %s, want %s", got, want)
	}

	got, err = j.RealizedSinceAll(dayStart)
	if err != nil {
		t.Fatalf("RealizedSinceAll failed: %v", err)
	}
	if want := decimal.RequireFromString("-39.75"); !got.Equal(want) {
		t.Errorf("total realized = %s, want %s", got, want)
	}

	// No trades for an unknown engine means zero, not an error.
	got, err = j.RealizedSince(999, dayStart)
	if err != nil {
		t.Fatalf("RealizedSince(999) failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("unknown engine realized = %s, want 0", got)
	}
}

func TestJournalTrades(t *testing.T) {
	j := setupTestJournal(t)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := j.RecordClose(closedTrade(101, "10", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := j.Trades(2)
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("trades = %d, want 2", len(recs))
	}
	if !recs[0].ClosedAt.After(recs[1].ClosedAt) {
		t.Error("expected newest trade first")
	}
}

func TestJournalState(t *testing.T) {
	j := setupTestJournal(t)

	if v, err := j.LoadState("halted_until"); err != nil || v != "" {
		t.Fatalf("LoadState on empty = %q, %v", v, err)
	}
	if err := j.SaveState("halted_until", "2026-03-03T00:00:00Z"); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	if err := j.SaveState("halted_until", "2026-03-04T00:00:00Z"); err != nil {
		t.Fatalf("SaveState overwrite failed: %v", err)
	}
	v, err := j.LoadState("halted_until")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if v != "2026-03-04T00:00:00Z" {
		t.Errorf("state = %q", v)
	}
}

func TestSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	s := NewSnapshotFile(path)

	type payload struct {
		At     time.Time `json:"at"`
		InZone bool      `json:"in_zone"`
	}

	var missing payload
	if err := s.Read(&missing); !os.IsNotExist(err) {
		t.Fatalf("Read before Write = %v, want not-exist", err)
	}

	want := payload{At: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), InZone: true}
	if err := s.Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var got payload
	if err := s.Read(&got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !got.At.Equal(want.At) || got.InZone != want.InZone {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
