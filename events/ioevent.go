// Package events defines the broadcast event vocabulary and the
// in-process publish/subscribe bus shared by the player components.
package events

// IOEvent is a broadcast topic. The same vocabulary travels over the
// websocket fan-out channel and the in-process bus.
type IOEvent string

// Orchestrator -> all clients.
const (
	TrackLoad       IOEvent = "track:load"
	TrackStart      IOEvent = "track:start"
	TrackPause      IOEvent = "track:pause"
	TrackResume     IOEvent = "track:resume"
	TrackEnd        IOEvent = "track:end"
	TrackTimeChange IOEvent = "track:time"
	TrackSync       IOEvent = "track:sync"
	MapNotes        IOEvent = "client:mapnotes"
	ClientDisable   IOEvent = "client:disable"
)

// MIDI engine -> all clients.
const (
	NoteOn         IOEvent = "midi:noteon"
	NoteOff        IOEvent = "midi:noteoff"
	TempoChange    IOEvent = "midi:tempo"
	MidiFileLoaded IOEvent = "midi:loaded"
	MidiFileEnd    IOEvent = "midi:eof"
	MidiPlay       IOEvent = "midi:play"
)

// Clients -> orchestrator (role-gated).
const (
	ClientRegister IOEvent = "client:register"
	TrackSeek      IOEvent = "track:seek"
	TrackPlay      IOEvent = "track:play"
	TrackStop      IOEvent = "track:stop"
	TrackStatus    IOEvent = "track:status"
)

// Emitter is anything that can fan an event out to its audience: the
// websocket hub, the in-process Bus, or a single connection.
type Emitter interface {
	Emit(event IOEvent, args ...any)
}
