// Package pairing matches note-on events to their note-offs, computes
// sounding durations, and collapses chorded simultaneous notes into
// single fan-out records.
package pairing

import (
	"math"
	"sort"

	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/note"
	"github.com/lightshowd/lightshowd/tempomap"
)

// PairedNote is a note-on with its computed duration and the numbers of
// any coincident notes folded into it.
type PairedNote struct {
	Tick         int64
	NoteNumber   int
	NoteName     string
	LengthTicks  int64
	LengthMs     int64
	SameNotes    []string
	SameNoteNums []int

	paired    bool
	cancelled bool
}

// NoteNumbers returns the note number plus all coincident numbers, the
// full group a client should fire together.
func (p *PairedNote) NoteNumbers() []int {
	nums := make([]int, 0, len(p.SameNoteNums)+1)
	nums = append(nums, p.NoteNumber)
	nums = append(nums, p.SameNoteNums...)
	return nums
}

// ComputeNoteDurations runs once per loaded file over the raw event
// stream in original order. Note-ons are stacked most-recent-first; a
// note-off pairs with the first still-open note-on of the same name in
// that order, which for overlapping same-pitch retriggers is a
// deliberate non-FIFO match the duration fixtures depend on. Unpaired
// note-offs are discarded.
func ComputeNoteDurations(events []model.MidiEvent, table *tempomap.Table) []*PairedNote {
	var open []*PairedNote

	for _, ev := range events {
		switch ev.Name {
		case model.MidiNoteOn:
			open = append([]*PairedNote{{
				Tick:       ev.Tick,
				NoteNumber: ev.NoteNumber,
				NoteName:   ev.NoteName,
			}}, open...)

		case model.MidiNoteOff:
			var paired *PairedNote
			for _, on := range open {
				if !on.paired && on.NoteName == ev.NoteName {
					paired = on
					break
				}
			}
			if paired == nil {
				continue
			}
			paired.paired = true

			// tick 0 queries tempo at tick 1; a strict before-tick
			// lookup at 0 would otherwise never match.
			onTick := paired.Tick
			if onTick < 1 {
				onTick = 1
			}
			if entry, ok := table.EntryBefore(onTick); ok {
				tickMs := tempomap.TickMs(table.Division(), entry.BPM)
				paired.LengthTicks = ev.Tick - paired.Tick
				paired.LengthMs = int64(math.Floor(tickMs * float64(paired.LengthTicks)))
			}
		}
	}

	sort.Slice(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.LengthMs != b.LengthMs {
			return a.LengthMs < b.LengthMs
		}
		return a.NoteNumber < b.NoteNumber
	})

	mergeCoincident(open)

	out := make([]*PairedNote, 0, len(open))
	for _, p := range open {
		if !p.cancelled {
			out = append(out, p)
		}
	}
	return out
}

// mergeCoincident folds harmonically aligned notes with identical tick
// and duration onto a single surviving representative. MIDI files often
// spell a chord as many simultaneous identical-duration notes across
// octaves for full-range lighting; one event per group keeps client
// traffic down.
func mergeCoincident(notes []*PairedNote) {
	for _, ev := range notes {
		if ev.cancelled {
			continue
		}
		for _, ce := range notes {
			if ce == ev || ce.cancelled {
				continue
			}
			if ce.Tick == ev.Tick &&
				ce.LengthMs == ev.LengthMs &&
				ce.NoteName != ev.NoteName &&
				aligned(ce.NoteNumber, ev.NoteNumber) {
				ev.SameNotes = append(ev.SameNotes, ce.NoteName)
				ev.SameNoteNums = append(ev.SameNoteNums, note.Number(ce.NoteName))
				ce.cancelled = true
			}
		}
	}
}

// aligned applies the fixed half-octave grouping rule: same pitch
// class, and both semitone positions within the octave fall in the same
// half (<=5 vs >5).
func aligned(a, b int) bool {
	if a%12 != b%12 {
		return false
	}
	return (a%12 <= 5 && b%12 <= 5) || (a%12 > 5 && b%12 > 5)
}
