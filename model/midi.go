package model

type MidiEventName string

const (
	MidiNoteOn     MidiEventName = "Note on"
	MidiNoteOff    MidiEventName = "Note off"
	MidiSetTempo   MidiEventName = "Set Tempo"
	MidiEndOfTrack MidiEventName = "End of Track"
)

// MidiEvent is a raw event at an absolute tick position, extracted from
// a parsed MIDI file with all tracks merged into one ordered stream.
type MidiEvent struct {
	Tick       int64
	Name       MidiEventName
	NoteName   string
	NoteNumber int
	Velocity   int
	// Tempo is the BPM carried by Set Tempo events.
	Tempo float64
	Track int
}
