package infra

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"cluster_go/internal/domain"
)

// Zone timestamps are local wall clock without offset.
const zoneTimeLayout = "2006-01-02 15:04"

type zoneRow struct {
	StartLocal string `json:"start_local"`
	EndLocal   string `json:"end_local"`
	Reason     string `json:"reason"`
}

// ParseZones decodes a no-trade-zone file: a JSON array of rows with both
// timestamps parseable in loc. Any violation yields an empty list and the
// error, never a partial list.
func ParseZones(data []byte, loc *time.Location) ([]domain.NoTradeZone, error) {
	var rows []zoneRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	zones := make([]domain.NoTradeZone, 0, len(rows))
	for _, row := range rows {
		start, err := time.ParseInLocation(zoneTimeLayout, row.StartLocal, loc)
		if err != nil {
			return nil, err
		}
		end, err := time.ParseInLocation(zoneTimeLayout, row.EndLocal, loc)
		if err != nil {
			return nil, err
		}
		zones = append(zones, domain.NoTradeZone{Start: start, End: end, Reason: row.Reason})
	}
	return zones, nil
}

// ZoneFile serves zones from a JSON file, re-reading it at most once per
// reload interval. A missing or malformed file logs once per reload and
// serves an empty list; the zone schedule is advisory, not fatal.
type ZoneFile struct {
	path   string
	loc    *time.Location
	reload time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	zones    []domain.NoTradeZone
	lastRead time.Time
}

// NewZoneFile builds the provider. An empty path serves no zones.
func NewZoneFile(path string, loc *time.Location, reload time.Duration, log *slog.Logger) *ZoneFile {
	if reload <= 0 {
		reload = time.Minute
	}
	return &ZoneFile{path: path, loc: loc, reload: reload, log: log}
}

// Zones returns the current zone list.
func (z *ZoneFile) Zones() []domain.NoTradeZone {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.path == "" {
		return nil
	}
	now := time.Now()
	if now.Sub(z.lastRead) < z.reload {
		return z.zones
	}
	z.lastRead = now

	data, err := os.ReadFile(z.path)
	if err != nil {
		if !os.IsNotExist(err) {
			z.log.Warn("zone file unreadable", slog.Any("error", err))
		}
		z.zones = nil
		return nil
	}
	zones, err := ParseZones(data, z.loc)
	if err != nil {
		z.log.Warn("zone file malformed, serving no zones", slog.Any("error", err))
		z.zones = nil
		return nil
	}
	z.zones = zones
	return z.zones
}
