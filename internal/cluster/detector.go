// Package cluster detects crowding: K or more unique traders opening the
// same side within a rolling T-second window.
package cluster

import (
	"sort"
	"time"

	"cluster_go/internal/domain"
)

// Signal is one fired cluster.
type Signal struct {
	Side    domain.Side
	At      time.Time // window anchor, the newest contributing event's open time
	Traders []string  // unique contributing trader IDs, insertion order
	Events  int       // total same-side events in the window
}

// Detector keeps one engine's rolling event window. Not safe for concurrent
// use; the engine goroutine owns it.
//
// The window is anchored to event time, not wall clock, so a late-delivered
// batch cannot stretch the window. A same-side signal within the refractory
// interval of the previous one is suppressed. When both sides qualify on the
// same observation, buy wins.
type Detector struct {
	window        time.Duration
	kUnique       int
	refractory    time.Duration
	evictOnSignal bool

	events   []domain.PositionEvent // ascending by OpenedAt
	lastFire map[domain.Side]time.Time
}

// NewDetector builds a detector from the engine's cluster settings.
func NewDetector(cfg *domain.EngineConfig) *Detector {
	return &Detector{
		window:        cfg.Window(),
		kUnique:       cfg.KUnique,
		refractory:    cfg.Refractory(),
		evictOnSignal: cfg.EvictOnSignal,
		lastFire:      make(map[domain.Side]time.Time),
	}
}

// Observe ingests a batch of new events and returns a fired signal, or nil.
// The batch may be empty and may contain events older than ones already seen.
func (d *Detector) Observe(batch []domain.PositionEvent) *Signal {
	for _, ev := range batch {
		if !ev.Side.Valid() {
			continue
		}
		d.events = append(d.events, ev)
	}
	if len(d.events) == 0 {
		return nil
	}
	sort.SliceStable(d.events, func(i, j int) bool {
		return d.events[i].OpenedAt.Before(d.events[j].OpenedAt)
	})

	anchor := d.events[len(d.events)-1].OpenedAt
	d.prune(anchor)

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		sig := d.evaluate(side, anchor)
		if sig != nil {
			return sig
		}
	}
	return nil
}

func (d *Detector) prune(anchor time.Time) {
	// The window is inclusive at both edges; an event exactly at
	// anchor-window still counts.
	cutoff := anchor.Add(-d.window)
	i := 0
	for i < len(d.events) && d.events[i].OpenedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.events = append(d.events[:0], d.events[i:]...)
	}
}

func (d *Detector) evaluate(side domain.Side, anchor time.Time) *Signal {
	seen := make(map[string]struct{})
	var traders []string
	count := 0
	for _, ev := range d.events {
		if ev.Side != side {
			continue
		}
		count++
		if _, dup := seen[ev.TraderID]; dup {
			continue
		}
		seen[ev.TraderID] = struct{}{}
		traders = append(traders, ev.TraderID)
	}
	if len(traders) < d.kUnique {
		return nil
	}
	if last, ok := d.lastFire[side]; ok && anchor.Sub(last) < d.refractory {
		return nil
	}
	d.lastFire[side] = anchor
	if d.evictOnSignal {
		d.evict(side)
	}
	return &Signal{Side: side, At: anchor, Traders: traders, Events: count}
}

func (d *Detector) evict(side domain.Side) {
	kept := d.events[:0]
	for _, ev := range d.events {
		if ev.Side != side {
			kept = append(kept, ev)
		}
	}
	d.events = kept
}

// Flush drops every buffered event. Called after a fill and when a no-trade
// zone opens, so only fresh crowds can re-trigger.
func (d *Detector) Flush() {
	d.events = d.events[:0]
}

// Stats returns the current unique-trader counts per side and the total
// buffered event count.
func (d *Detector) Stats() (buyUnique, sellUnique, total int) {
	buy := make(map[string]struct{})
	sell := make(map[string]struct{})
	for _, ev := range d.events {
		if ev.Side == domain.SideBuy {
			buy[ev.TraderID] = struct{}{}
		} else {
			sell[ev.TraderID] = struct{}{}
		}
	}
	return len(buy), len(sell), len(d.events)
}
