package midi

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/pairing"
	"github.com/lightshowd/lightshowd/tempomap"
)

type State int

const (
	StateIdle State = iota
	StateLoaded
	StatePlaying
	StatePaused
)

// loopSettleDelay sits between end-of-file and the rewind when looping
// a background track.
const loopSettleDelay = 500 * time.Millisecond

type pairKey struct {
	tick int64
	num  int
}

// Options configures an Engine for one playback session.
type Options struct {
	IO               events.Emitter
	Logger           *slog.Logger
	DisabledNotes    []string
	DimmableNotes    []string
	VelocityOverride int
}

// Engine drives a loaded MIDI file in real time, translating raw
// sequencer events into the outbound broadcast vocabulary.
type Engine struct {
	io               events.Emitter
	bus              *events.Bus
	logger           *slog.Logger
	disabled         map[string]bool
	velocityOverride int

	mu          sync.Mutex
	state       State
	closed      bool
	division    float64
	events      []model.MidiEvent
	table       *tempomap.Table
	pairs       []*pairing.PairedNote
	pairIndex   map[pairKey]*pairing.PairedNote
	pos         int
	currentTick int64
	tickMs      float64
	stop        chan struct{}
}

func NewEngine(opts Options) *Engine {
	disabled := make(map[string]bool, len(opts.DisabledNotes))
	for _, n := range opts.DisabledNotes {
		disabled[n] = true
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		io:               opts.IO,
		bus:              events.NewBus(),
		logger:           logger.With("group", "Midi"),
		disabled:         disabled,
		velocityOverride: opts.VelocityOverride,
		state:            StateIdle,
	}
}

// LoadFile parses the file and precomputes the tempo table and the
// note duration pairings the playback event stream depends on.
func (e *Engine) LoadFile(file string) error {
	mf, err := ReadMidiFile(file)
	if err != nil {
		return err
	}

	raw, division := ExtractEvents(mf)
	e.load(raw, division)
	e.io.Emit(events.MidiFileLoaded)
	e.logger.Debug("Midi file loaded.", "file", file)
	return nil
}

func (e *Engine) load(raw []model.MidiEvent, division float64) {
	table := tempomap.Build(TempoEvents(raw), division, DefaultBPM)
	pairs := pairing.ComputeNoteDurations(raw, table)

	index := make(map[pairKey]*pairing.PairedNote, len(pairs))
	for _, p := range pairs {
		index[pairKey{p.Tick, p.NoteNumber}] = p
	}

	entries := table.Entries()

	e.mu.Lock()
	e.events = raw
	e.division = division
	e.table = table
	e.pairs = pairs
	e.pairIndex = index
	e.pos = 0
	e.currentTick = 0
	// the last entry is the tick-0 range
	e.tickMs = entries[len(entries)-1].TickMs
	e.state = StateLoaded
	e.mu.Unlock()
}

// Play starts (or restarts) the sequencer from the current position and
// announces the corresponding wall-clock time so late-joining clients
// can resolve where playback is. With loop set, end-of-file rewinds to
// zero after a short settle delay and plays again.
func (e *Engine) Play(loop bool) {
	e.mu.Lock()
	if e.state == StateIdle || e.closed {
		e.mu.Unlock()
		return
	}
	if e.stop != nil {
		close(e.stop)
	}
	stop := make(chan struct{})
	e.stop = stop
	e.state = StatePlaying
	tick := e.currentTick
	table := e.table
	e.mu.Unlock()

	e.io.Emit(events.MidiPlay, table.TimeForTick(tick))

	if loop {
		e.bus.Once(events.MidiFileEnd, func(args ...any) {
			time.AfterFunc(loopSettleDelay, func() {
				e.mu.Lock()
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				e.Stop()
				e.Play(true)
				e.logger.Info("Looping MIDI track", "time", time.Now().Format(time.RFC3339))
			})
		})
	}

	go e.run(stop)
}

func (e *Engine) run(stop chan struct{}) {
	for {
		e.mu.Lock()
		if e.state != StatePlaying || e.stop != stop {
			e.mu.Unlock()
			return
		}
		if e.pos >= len(e.events) {
			e.rewindLocked()
			e.mu.Unlock()
			e.io.Emit(events.MidiFileEnd)
			e.bus.Emit(events.MidiFileEnd)
			return
		}
		ev := e.events[e.pos]
		wait := time.Duration(float64(ev.Tick-e.currentTick) * e.tickMs * float64(time.Millisecond))
		e.mu.Unlock()

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-stop:
				return
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}

		e.mu.Lock()
		if e.state != StatePlaying || e.stop != stop {
			e.mu.Unlock()
			return
		}
		e.currentTick = ev.Tick
		e.pos++
		if ev.Name == model.MidiSetTempo {
			e.tickMs = tempomap.TickMs(e.division, ev.Tempo)
		}
		e.mu.Unlock()

		e.emitEvent(ev)
	}
}

// emitEvent translates one raw sequencer event into the broadcast
// vocabulary. Note-ons with velocity 0 are reclassified as note-offs;
// a note-on without a precomputed pairing record is dropped without
// error (the off event was never found, e.g. a truncated file).
func (e *Engine) emitEvent(ev model.MidiEvent) {
	if ev.Name == model.MidiSetTempo {
		e.io.Emit(events.TempoChange, ev.Tempo)
		return
	}
	if ev.NoteNumber == 0 || ev.NoteName == "" {
		return
	}
	if e.disabled[ev.NoteName] {
		return
	}

	name := ev.Name
	if name == model.MidiNoteOn && ev.Velocity == 0 {
		name = model.MidiNoteOff
	}

	switch name {
	case model.MidiNoteOn:
		e.mu.Lock()
		p := e.pairIndex[pairKey{ev.Tick, ev.NoteNumber}]
		e.mu.Unlock()
		if p == nil {
			return
		}
		velocity := ev.Velocity
		if e.velocityOverride != 0 {
			velocity = e.velocityOverride
		}
		e.io.Emit(events.NoteOn, p.NoteNumbers(), p.LengthMs, velocity)
	case model.MidiNoteOff:
		e.io.Emit(events.NoteOff, []int{ev.NoteNumber})
	}
}

// Seek jumps to the tick matching the given time in seconds and, when a
// governing tempo exists there, re-applies it so a jump landing between
// tempo boundaries does not drift.
func (e *Engine) Seek(seconds float64) {
	e.mu.Lock()
	table := e.table
	e.mu.Unlock()
	if table == nil {
		return
	}
	tick := table.TickForTime(seconds)
	bpm, ok := table.TempoAt(seconds)
	if ok {
		e.logger.Debug("Seeking midi", "ticks", tick, "tempo", bpm)
	} else {
		e.logger.Debug("Seeking midi", "ticks", tick, "tempo", "<base tempo>")
	}
	e.seekTick(tick, bpm, ok)
}

// SeekByTick is Seek addressed in ticks, used for hub resync commands.
func (e *Engine) SeekByTick(tick int64) {
	e.mu.Lock()
	table := e.table
	e.mu.Unlock()
	if table == nil {
		return
	}
	bpm, ok := table.TempoAtTick(tick)
	e.logger.Debug("Seeking midi by tick", "ticks", tick, "tempo", bpm)
	e.seekTick(tick, bpm, ok)
}

func (e *Engine) seekTick(tick int64, bpm float64, haveTempo bool) {
	if tick < 0 {
		tick = 0
	}

	e.mu.Lock()
	e.currentTick = tick
	e.pos = sort.Search(len(e.events), func(i int) bool {
		return e.events[i].Tick >= tick
	})
	if haveTempo {
		e.tickMs = tempomap.TickMs(e.division, bpm)
	}
	playing := e.state == StatePlaying
	var stop chan struct{}
	if playing {
		// restart the runner so the pending timer does not replay a
		// pre-seek event
		close(e.stop)
		stop = make(chan struct{})
		e.stop = stop
	}
	e.mu.Unlock()

	if playing {
		go e.run(stop)
	}
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return
	}
	close(e.stop)
	e.stop = nil
	e.state = StatePaused
}

// Stop halts playback and resets the transport position; the file stays
// parsed and the engine returns to the loaded state.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return
	}
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.rewindLocked()
}

func (e *Engine) rewindLocked() {
	e.state = StateLoaded
	e.pos = 0
	e.currentTick = 0
	if e.table != nil {
		entries := e.table.Entries()
		e.tickMs = entries[len(entries)-1].TickMs
	}
	e.stop = nil
}

// Close stops the engine and marks it dead so any scheduled loop
// restart becomes a no-op. Called when the owning session ends.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.Stop()
}

// OnEndOfFile subscribes to the engine's end-of-file transition and
// returns the unsubscribe func.
func (e *Engine) OnEndOfFile(fn func()) func() {
	return e.bus.Subscribe(events.MidiFileEnd, func(args ...any) { fn() })
}

func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTick
}

func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StatePlaying
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Table exposes the tempo table of the loaded file.
func (e *Engine) Table() *tempomap.Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// Pairs exposes the precomputed note pairings of the loaded file.
func (e *Engine) Pairs() []*pairing.PairedNote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairs
}
