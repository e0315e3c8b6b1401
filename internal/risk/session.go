package risk

import (
	"fmt"
	"time"
)

// Session is a daily trading window in a fixed location. A window whose end
// is at or before its start wraps past midnight. Disabled sessions are
// always open.
type Session struct {
	enabled    bool
	start, end int // minutes since local midnight
	loc        *time.Location
}

// NewSession parses "HH:MM" bounds. loc must not be nil when enabled.
func NewSession(enabled bool, start, end string, loc *time.Location) (Session, error) {
	if !enabled {
		return Session{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Session{}, fmt.Errorf("session start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Session{}, fmt.Errorf("session end: %w", err)
	}
	return Session{enabled: true, start: s, end: e, loc: loc}, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range clock %q", s)
	}
	return h*60 + m, nil
}

// Open reports whether now falls inside the window. New entries outside the
// session are skipped; existing positions are left to their stops.
func (s Session) Open(now time.Time) bool {
	if !s.enabled {
		return true
	}
	local := now.In(s.loc)
	minute := local.Hour()*60 + local.Minute()
	if s.start <= s.end {
		return minute >= s.start && minute < s.end
	}
	// Wraps midnight.
	return minute >= s.start || minute < s.end
}
