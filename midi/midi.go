package midi

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/note"
	"github.com/lightshowd/lightshowd/tempomap"
)

// DefaultBPM anchors the tempo table when a file carries no tempo
// event at tick 0.
const DefaultBPM = 120

func ReadMidiFile(filepath string) (s *smf.SMF, e error) {
	var blank smf.SMF
	var err error

	// handle panics
	// https://github.com/gomidi/midi/issues/20
	defer func() {
		if r, ok := recover().(string); ok {
			e = errors.New(r)
		}
	}()

	dat, err := os.ReadFile(filepath)

	if err != nil {
		errText := fmt.Sprintf("Error reading midi file... %s", err.Error())
		return &blank, errors.New(errText)
	}
	res, err := smf.ReadFrom(bytes.NewReader(dat))

	if err != nil {
		errText := fmt.Sprintf("Error parsing midi file... %s", err.Error())
		return &blank, errors.New(errText)
	}

	return res, nil
}

// ExtractEvents merges all tracks of a parsed file into one stream of
// absolute-tick events, preserving in-track order at equal ticks, and
// returns the stream with the file's division (ticks per quarter).
func ExtractEvents(mf *smf.SMF) ([]model.MidiEvent, float64) {
	division := float64(480)
	if mt, ok := mf.TimeFormat.(smf.MetricTicks); ok {
		division = float64(mt)
	}

	var merged []model.MidiEvent
	for trackNum, track := range mf.Tracks {
		var absTicks int64
		for _, ev := range track {
			absTicks += int64(ev.Delta)
			var channel, key, velocity uint8
			var bpm float64
			switch {
			case ev.Message.GetNoteOn(&channel, &key, &velocity):
				merged = append(merged, model.MidiEvent{
					Tick:       absTicks,
					Name:       model.MidiNoteOn,
					NoteName:   note.Name(int(key)),
					NoteNumber: int(key),
					Velocity:   int(velocity),
					Track:      trackNum,
				})
			case ev.Message.GetNoteOff(&channel, &key, &velocity):
				merged = append(merged, model.MidiEvent{
					Tick:       absTicks,
					Name:       model.MidiNoteOff,
					NoteName:   note.Name(int(key)),
					NoteNumber: int(key),
					Track:      trackNum,
				})
			case ev.Message.GetMetaTempo(&bpm):
				merged = append(merged, model.MidiEvent{
					Tick:  absTicks,
					Name:  model.MidiSetTempo,
					Tempo: bpm,
					Track: trackNum,
				})
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Tick < merged[j].Tick
	})

	return merged, division
}

// TempoEvents filters the Set Tempo changes out of a merged stream.
func TempoEvents(events []model.MidiEvent) []tempomap.TempoEvent {
	var out []tempomap.TempoEvent
	for _, ev := range events {
		if ev.Name == model.MidiSetTempo {
			out = append(out, tempomap.TempoEvent{Tick: ev.Tick, BPM: ev.Tempo})
		}
	}
	return out
}
