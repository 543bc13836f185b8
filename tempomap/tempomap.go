// Package tempomap builds the tick/time translation table for a MIDI
// file, accounting for mid-file tempo changes.
package tempomap

import "math"

// TempoEvent is a raw tempo change: an absolute tick and a BPM value.
type TempoEvent struct {
	Tick int64
	BPM  float64
}

// Entry is one tempo range. StartMs is the cumulative wall-clock start
// of the range, TickMs the per-tick duration inside it.
type Entry struct {
	Tick    int64
	TickMs  float64
	StartMs float64
	BPM     float64
}

// Table holds tempo ranges reverse-sorted by tick (descending), so the
// governing range for a position is the first match scanning from the
// head. Query functions depend on this ordering.
type Table struct {
	entries  []Entry
	division float64
}

// TickMs returns the millisecond duration of one tick at the given
// division (ticks per quarter) and tempo.
func TickMs(division, bpm float64) float64 {
	return 60000 / (bpm * division)
}

// Build computes the table from the file's tempo changes in tick order.
// If no change sits at tick 0 a synthetic anchor with the default tempo
// is inserted there; an existing tick-0 event is never duplicated.
func Build(tempoEvents []TempoEvent, division, defaultBPM float64) *Table {
	events := tempoEvents
	if len(events) == 0 || events[0].Tick > 0 {
		events = append([]TempoEvent{{Tick: 0, BPM: defaultBPM}}, events...)
	}

	entries := make([]Entry, len(events))
	for i, ev := range events {
		entries[i] = Entry{
			Tick:   ev.Tick,
			TickMs: TickMs(division, ev.BPM),
			BPM:    ev.BPM,
		}
		if i > 0 {
			prev := entries[i-1]
			entries[i].StartMs = prev.StartMs + prev.TickMs*float64(ev.Tick-prev.Tick)
		}
	}

	// reverse for optimal searching of a range with time/tick > marker
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return &Table{entries: entries, division: division}
}

func (t *Table) Division() float64 { return t.division }

// Entries returns the table in descending tick order.
func (t *Table) Entries() []Entry { return t.entries }

// TickForTime resolves a position in seconds to a tick. Positions at or
// before the first range start resolve to 0.
func (t *Table) TickForTime(seconds float64) int64 {
	ms := seconds * 1000
	for _, e := range t.entries {
		if ms > e.StartMs {
			within := int64(math.Floor((ms - e.StartMs) / e.TickMs))
			return within + e.Tick - 1
		}
	}
	return 0
}

// TimeForTick resolves a tick to elapsed milliseconds.
func (t *Table) TimeForTick(tick int64) float64 {
	for _, e := range t.entries {
		if tick > e.Tick {
			return e.StartMs + float64(tick-e.Tick)*e.TickMs
		}
	}
	return 0
}

// TempoAt returns the tempo governing a position in seconds. ok is
// false when the position precedes every range, in which case the
// caller must leave the current tempo unchanged.
func (t *Table) TempoAt(seconds float64) (bpm float64, ok bool) {
	ms := seconds * 1000
	for _, e := range t.entries {
		if ms > e.StartMs {
			return e.BPM, true
		}
	}
	return 0, false
}

// TempoAtTick is TempoAt addressed by tick.
func (t *Table) TempoAtTick(tick int64) (bpm float64, ok bool) {
	for _, e := range t.entries {
		if tick > e.Tick {
			return e.BPM, true
		}
	}
	return 0, false
}

// EntryBefore returns the last range starting strictly before tick.
func (t *Table) EntryBefore(tick int64) (Entry, bool) {
	for _, e := range t.entries {
		if e.Tick < tick {
			return e, true
		}
	}
	return Entry{}, false
}
