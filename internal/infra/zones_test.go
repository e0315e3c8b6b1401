package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseZones(t *testing.T) {
	utc := time.UTC

	t.Run("valid rows", func(t *testing.T) {
		data := []byte(`[
			{"start_local": "2026-03-06 13:25", "end_local": "2026-03-06 14:05", "reason": "nfp"},
			{"start_local": "2026-03-18 18:55", "end_local": "2026-03-18 19:35", "reason": "fomc"}
		]`)
		zones, err := ParseZones(data, utc)
		if err != nil {
			t.Fatal(err)
		}
		if len(zones) != 2 {
			t.Fatalf("zones = %d, want 2", len(zones))
		}
		want := time.Date(2026, 3, 6, 13, 25, 0, 0, utc)
		if !zones[0].Start.Equal(want) {
			t.Errorf("start = %v, want %v", zones[0].Start, want)
		}
		if zones[1].Reason != "fomc" {
			t.Errorf("reason = %q", zones[1].Reason)
		}
	})

	t.Run("one bad timestamp empties the whole list", func(t *testing.T) {
		data := []byte(`[
			{"start_local": "2026-03-06 13:25", "end_local": "2026-03-06 14:05", "reason": "ok"},
			{"start_local": "not a time", "end_local": "2026-03-18 19:35", "reason": "bad"}
		]`)
		zones, err := ParseZones(data, utc)
		if err == nil {
			t.Fatal("expected parse error")
		}
		if len(zones) != 0 {
			t.Errorf("zones = %d, want none on error", len(zones))
		}
	})

	t.Run("non-array payload rejected", func(t *testing.T) {
		if _, err := ParseZones([]byte(`{"start_local": "x"}`), utc); err == nil {
			t.Error("expected error for object payload")
		}
	})
}

func TestZoneFile(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("missing file serves no zones", func(t *testing.T) {
		z := NewZoneFile(filepath.Join(t.TempDir(), "absent.json"), time.UTC, time.Minute, log)
		if got := z.Zones(); len(got) != 0 {
			t.Errorf("zones = %d, want 0", len(got))
		}
	})

	t.Run("reads and caches", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "zones.json")
		content := `[{"start_local": "2026-03-06 13:25", "end_local": "2026-03-06 14:05", "reason": "nfp"}]`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		z := NewZoneFile(path, time.UTC, time.Hour, log)
		if got := z.Zones(); len(got) != 1 {
			t.Fatalf("zones = %d, want 1", len(got))
		}
		// Within the reload interval the cached copy survives a file change.
		if err := os.WriteFile(path, []byte(`[]`), 0644); err != nil {
			t.Fatal(err)
		}
		if got := z.Zones(); len(got) != 1 {
			t.Errorf("zones = %d, want cached 1", len(got))
		}
	})

	t.Run("malformed file serves no zones", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "zones.json")
		if err := os.WriteFile(path, []byte(`{"nope": true}`), 0644); err != nil {
			t.Fatal(err)
		}
		z := NewZoneFile(path, time.UTC, time.Minute, log)
		if got := z.Zones(); len(got) != 0 {
			t.Errorf("zones = %d, want 0", len(got))
		}
	})

	t.Run("empty path serves no zones", func(t *testing.T) {
		z := NewZoneFile("", time.UTC, time.Minute, log)
		if got := z.Zones(); got != nil {
			t.Errorf("zones = %v, want nil", got)
		}
	})
}
