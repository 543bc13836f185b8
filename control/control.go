// Package control orchestrates track playback: it loads audio and MIDI
// assets, keeps them in sync, and emits show events for connected
// clients.
package control

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightshowd/lightshowd/audio"
	"github.com/lightshowd/lightshowd/constants"
	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/midi"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/note"
	"github.com/lightshowd/lightshowd/playlist"
	"github.com/lightshowd/lightshowd/space"
	"github.com/lightshowd/lightshowd/util"
)

// audioSeekOffset compensates for decoder spin-up after a seek so the
// first time signal lands close to the requested position.
const audioSeekOffset = 0.3

// Conn is a peer connection the center can address directly. The
// broadcast hub's client satisfies it.
type Conn interface {
	ID() string
	Addr() string
	Role() events.Role
	Emit(event events.IOEvent, args ...any)
}

// Options configure a Center. Zero timing fields get production
// defaults; tests shrink them.
type Options struct {
	Playlist *playlist.Playlist
	Spaces   *space.Cache
	IO       events.Emitter
	Logger   *slog.Logger

	SoxPath       string
	DisabledNotes []string

	LoadEmitCount       int
	LoadEmitDelay       time.Duration
	TrackEndResendDelay time.Duration
	SyncDelays          []time.Duration
	RegisterSettle      time.Duration
}

// LoadTrackOptions select what to load. Formats defaults to both audio
// and midi; leaf nodes pass midi only and let the hub own the audio.
type LoadTrackOptions struct {
	Track         *model.Track
	DisabledNotes []string
	Formats       []string
}

// Center is the playback orchestrator. One track is active at a time.
type Center struct {
	playlist *playlist.Playlist
	spaces   *space.Cache
	io       events.Emitter
	logger   *slog.Logger
	bus      *events.Bus

	soxPath             string
	loadEmitCount       int
	loadEmitDelay       time.Duration
	trackEndResendDelay time.Duration
	syncDelays          []time.Duration
	registerSettle      time.Duration

	mu            sync.Mutex
	sessionID     string
	currentTrack  *model.CurrentTrack
	audioFile     string
	audioFileType string
	midiFile      string
	midiPlayer    *midi.Engine
	audioPipe     *audio.Pipe
	disabledNotes []string
	activePlayer  string
	debouncers    map[string]func(func())
}

func New(opts Options) *Center {
	cc := &Center{
		playlist:            opts.Playlist,
		spaces:              opts.Spaces,
		io:                  opts.IO,
		logger:              opts.Logger,
		bus:                 events.NewBus(),
		soxPath:             opts.SoxPath,
		disabledNotes:       opts.DisabledNotes,
		loadEmitCount:       opts.LoadEmitCount,
		loadEmitDelay:       opts.LoadEmitDelay,
		trackEndResendDelay: opts.TrackEndResendDelay,
		syncDelays:          opts.SyncDelays,
		registerSettle:      opts.RegisterSettle,
		debouncers:          make(map[string]func(func())),
	}
	if cc.logger == nil {
		cc.logger = slog.Default()
	}
	if cc.soxPath == "" {
		cc.soxPath = constants.GetSoxPath()
	}
	if cc.loadEmitCount == 0 {
		cc.loadEmitCount = 3
	}
	if cc.loadEmitDelay == 0 {
		cc.loadEmitDelay = time.Second
	}
	if cc.trackEndResendDelay == 0 {
		cc.trackEndResendDelay = time.Second
	}
	if cc.syncDelays == nil {
		cc.syncDelays = []time.Duration{3 * time.Second, 6 * time.Second}
	}
	if cc.registerSettle == 0 {
		cc.registerSettle = 300 * time.Millisecond
	}
	return cc
}

// Bus exposes the center's internal event bus. Co-resident components
// such as the leaf uplink subscribe here instead of the websocket hub.
func (cc *Center) Bus() *events.Bus { return cc.bus }

// Playlist returns the playlist the center was built with.
func (cc *Center) Playlist() *playlist.Playlist { return cc.playlist }

// CurrentTrack returns a copy of the active track, or nil when idle.
func (cc *Center) CurrentTrack() *model.CurrentTrack {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.currentTrack == nil {
		return nil
	}
	snapshot := *cc.currentTrack
	return &snapshot
}

// SetDisabledNotes replaces the global suppression list. It takes
// effect on the next LoadTrack.
func (cc *Center) SetDisabledNotes(notes []string) {
	cc.mu.Lock()
	cc.disabledNotes = notes
	cc.mu.Unlock()
	cc.io.Emit(events.ClientDisable, strings.Join(notes, ","))
}

// DisabledNotes returns the current suppression list.
func (cc *Center) DisabledNotes() []string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return append([]string(nil), cc.disabledNotes...)
}

// SpaceClientIDs lists every lighting client configured in the spaces
// file, including clients nested under a parent element.
func (cc *Center) SpaceClientIDs() []string {
	if cc.spaces == nil {
		return nil
	}
	ids := make([]string, 0, len(cc.spaces.Clients))
	for _, sc := range cc.spaces.Clients {
		ids = append(ids, sc.ID)
	}
	return ids
}

// LoadTrack prepares a track for playback: it announces the load,
// resolves audio and MIDI files, pushes note mappings, and builds a
// fresh MIDI engine. Any previously loaded track is torn down first.
func (cc *Center) LoadTrack(opts LoadTrackOptions) error {
	track := opts.Track
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"audio", "midi"}
	}

	cc.mu.Lock()
	cc.clearCachesLocked()
	cc.sessionID = uuid.NewString()
	cc.currentTrack = &model.CurrentTrack{Track: *track}
	cc.mu.Unlock()

	// Repeated announcements give slow lighting clients a chance to
	// settle before mappings are pushed.
	for i := 0; i < cc.loadEmitCount; i++ {
		cc.io.Emit(events.TrackLoad, track.Name)
		time.Sleep(cc.loadEmitDelay)
	}

	var audioFile, midiFile, audioFileType string
	for _, format := range formats {
		switch format {
		case "audio":
			audioFile = cc.playlist.GetFilePath(track, "audio", track.Audio)
			if audioFile != "" {
				if strings.HasSuffix(audioFile, ".mp3") {
					audioFileType = "mp3"
				}
				cc.logger.Debug("Audio file loaded.", "file", audioFile)
			}
		case "midi":
			midiFile = cc.playlist.GetFilePath(track, "midi", "")
			if midiFile != "" {
				cc.logger.Debug("MIDI file loaded.", "file", midiFile)
			}
		}
	}

	if audioFile == "" && midiFile == "" {
		cc.mu.Lock()
		cc.currentTrack = nil
		cc.sessionID = uuid.NewString()
		cc.mu.Unlock()
		return fmt.Errorf("no files found for track %s", track.Name)
	}

	if midiFile != "" {
		cc.pushTrackMappings(track)

		disabled := opts.DisabledNotes
		if disabled == nil {
			disabled = cc.DisabledNotes()
		}
		engine := midi.NewEngine(midi.Options{
			IO:               cc.io,
			Logger:           cc.logger,
			DisabledNotes:    disabled,
			DimmableNotes:    note.Dimmable,
			VelocityOverride: track.VelocityOverride,
		})
		if err := engine.LoadFile(midiFile); err != nil {
			cc.mu.Lock()
			cc.currentTrack = nil
			cc.sessionID = uuid.NewString()
			cc.mu.Unlock()
			return fmt.Errorf("load midi for track %s: %w", track.Name, err)
		}
		cc.mu.Lock()
		cc.midiPlayer = engine
		cc.mu.Unlock()
	}

	cc.mu.Lock()
	cc.audioFile = audioFile
	cc.audioFileType = audioFileType
	cc.midiFile = midiFile
	cc.mu.Unlock()

	cc.playlist.SetCurrentTrack(track)
	cc.logger.Debug("Track loaded.", "track", track.Name)
	return nil
}

// pushTrackMappings emits MapNotes for every client the track maps
// explicitly, then default space mappings for the rest.
func (cc *Center) pushTrackMappings(track *model.Track) {
	mapped := make(map[string]bool)
	for _, clientID := range util.SortedKeys(track.NoteMappings) {
		mapping := track.NoteMappings[clientID]
		if mapping == nil {
			continue
		}
		mapped[clientID] = true

		notesString := mapping.Notes
		if mapping.Merge {
			var clientNotes string
			if cc.spaces != nil {
				if sc := cc.spaces.GetClient(clientID); sc != nil {
					clientNotes = note.NotesString(sc.Notes)
				}
			}
			notesString = note.MergeAligned(clientNotes, mapping.Notes)
		}
		noteNumbersString := note.NumbersStringFromCSV(notesString)

		cc.logger.Debug("Pushing track mapping.", "client", clientID, "notes", notesString)
		cc.io.Emit(events.MapNotes, clientID, notesString, noteNumbersString+",", nil)
	}

	if cc.spaces == nil {
		return
	}
	for _, sc := range cc.spaces.Clients {
		if mapped[sc.ID] {
			continue
		}
		resolved := cc.spaces.GetClient(sc.ID)
		if resolved == nil || len(resolved.Notes) == 0 {
			continue
		}
		notesString := note.NotesString(resolved.Notes)
		noteNumbersString := note.NumbersString(resolved.Notes)
		cc.io.Emit(events.MapNotes, resolved.ID, notesString, noteNumbersString+",", true)
	}
}

// PlayTrack starts the loaded track. With audio present the audio pipe
// is the clock source and MIDI starts on its first time signal;
// MIDI-only tracks start immediately.
func (cc *Center) PlayTrack() error {
	cc.mu.Lock()
	track := cc.currentTrack
	if track == nil {
		cc.mu.Unlock()
		return fmt.Errorf("no track loaded")
	}

	if cc.audioFile != "" {
		opts := audio.PlayOptions{Start: 0, Type: cc.audioFileType}
		cc.pipeAudioLocked(opts)
		cc.mu.Unlock()
		return nil
	}

	engine := cc.midiPlayer
	session := cc.sessionID
	background := track.Background
	if engine != nil && !background {
		engine.OnEndOfFile(func() {
			cc.mu.Lock()
			if cc.sessionID != session || cc.currentTrack == nil {
				cc.mu.Unlock()
				return
			}
			ended := cc.currentTrack.Track
			emitEnd := cc.endTrackLocked(&ended)
			cc.mu.Unlock()
			emitEnd()
		})
	}
	track.StartTime = time.Now().Format(time.RFC3339)
	file := track.File
	cc.mu.Unlock()

	if engine == nil {
		return fmt.Errorf("no playable source for track %s", file)
	}
	cc.logger.Debug("Playing MIDI only.", "track", file)
	if !background {
		cc.io.Emit(events.TrackStart, file)
	}
	engine.Play(background)
	return nil
}

// pipeAudioLocked spins up a sox pipeline for the current track. The
// caller holds cc.mu. The first time signal starts MIDI playback and
// schedules the sync checkpoints; every signal is rebroadcast as a
// TrackTimeChange.
func (cc *Center) pipeAudioLocked(opts audio.PlayOptions) {
	if cc.audioFile == "" {
		return
	}
	session := cc.sessionID
	track := cc.currentTrack
	file := cc.audioFile

	cc.logger.Debug("Creating audio pipeline.", "file", file)
	pipe := audio.NewPipe(cc.soxPath, opts, cc.logger)
	started := false

	pipe.OnTime(func(pos model.TimePosition) {
		cc.mu.Lock()
		if cc.sessionID != session {
			cc.mu.Unlock()
			return
		}
		first := !started
		started = true
		var engine *midi.Engine
		var startTime string
		if first {
			track.StartTime = time.Now().Format(time.RFC3339)
			startTime = track.StartTime
			engine = cc.midiPlayer
		}
		cc.mu.Unlock()

		if first {
			cc.io.Emit(events.TrackStart, track.File, startTime)
			if engine != nil {
				cc.logger.Debug("MIDI play started.")
				engine.Play(false)
				for _, delay := range cc.syncDelays {
					time.AfterFunc(delay, func() {
						cc.mu.Lock()
						ok := cc.sessionID == session && cc.midiPlayer != nil
						var tick int64
						if ok {
							tick = cc.midiPlayer.CurrentTick()
						}
						cc.mu.Unlock()
						if !ok {
							return
						}
						cc.io.Emit(events.TrackSync, model.SyncPoint{
							Tick:        tick,
							StartTime:   startTime,
							CurrentTime: time.Now().Format(time.RFC3339),
						})
					})
				}
			}
		}
		cc.io.Emit(events.TrackTimeChange, pos)
	})

	pipe.OnClose(func(err error) {
		cc.mu.Lock()
		if cc.sessionID != session {
			cc.mu.Unlock()
			return
		}
		if cc.midiPlayer != nil {
			cc.midiPlayer.Stop()
		}
		if err != nil {
			cc.logger.Error("Audio stream failed and MIDI play stopped.", "err", err)
		} else {
			cc.logger.Debug("Audio stream closed and MIDI play stopped.")
		}
		ended := track.Track
		emitEnd := cc.endTrackLocked(&ended)
		cc.mu.Unlock()
		emitEnd()
	})

	cc.audioPipe = pipe
	go func() {
		if err := pipe.Start(file); err != nil {
			cc.logger.Error("Could not start audio pipeline.", "err", err)
		}
	}()
}

// PauseTrack halts audio and MIDI. Audio cannot resume mid-stream, so
// the pipe is destroyed; ResumeTrack rebuilds it at the pause point.
func (cc *Center) PauseTrack() {
	cc.mu.Lock()
	if cc.audioPipe != nil {
		cc.audioPipe.Destroy()
		cc.audioPipe = nil
	}
	engine := cc.midiPlayer
	cc.mu.Unlock()

	if engine != nil {
		engine.Pause()
	}
	cc.logger.Debug("Track paused.")
	cc.io.Emit(events.TrackPause)
}

// ResumeTrack restarts playback at the given time in seconds.
func (cc *Center) ResumeTrack(seconds float64) {
	cc.mu.Lock()
	loaded := cc.currentTrack != nil
	cc.mu.Unlock()
	if !loaded {
		cc.logger.Error("Resume requested with no track loaded.")
		return
	}
	cc.SeekTrack(seconds)
}

// SeekTrack moves playback to the given time in seconds, re-piping
// audio when present and realigning MIDI to the same position.
func (cc *Center) SeekTrack(seconds float64) {
	cc.mu.Lock()
	if cc.currentTrack == nil {
		cc.mu.Unlock()
		return
	}
	cc.logger.Debug("Seeking.", "time", seconds)
	engine := cc.midiPlayer
	hasAudio := cc.audioFile != ""

	if engine != nil {
		engine.Seek(seconds)
	}
	if !hasAudio {
		cc.mu.Unlock()
		if engine != nil {
			engine.Play(false)
		}
		cc.io.Emit(events.TrackResume)
		return
	}

	if cc.audioPipe != nil {
		cc.audioPipe.Destroy()
		cc.audioPipe = nil
	}
	cc.pipeAudioLocked(audio.PlayOptions{Start: seconds + audioSeekOffset, Type: cc.audioFileType})
	cc.mu.Unlock()
	cc.io.Emit(events.TrackResume)
}

// SeekMidiByTick realigns a MIDI-only engine to an absolute tick.
// Leaf nodes use it to follow the hub's sync checkpoints.
func (cc *Center) SeekMidiByTick(tick int64) {
	cc.mu.Lock()
	engine := cc.midiPlayer
	loaded := cc.currentTrack != nil
	cc.mu.Unlock()
	if !loaded || engine == nil {
		return
	}
	engine.SeekByTick(tick)
	engine.Play(false)
	cc.io.Emit(events.TrackResume)
}

// StopTrack ends the current track. Stopping an already idle center is
// a no-op.
func (cc *Center) StopTrack() {
	cc.mu.Lock()
	var emitEnd func()
	if cc.currentTrack != nil {
		cc.logger.Debug("Stopping track.", "startedBy", cc.activePlayer)
		ended := cc.currentTrack.Track
		emitEnd = cc.endTrackLocked(&ended)
	}
	cc.activePlayer = ""
	if cc.audioPipe != nil {
		cc.audioPipe.Destroy()
		cc.audioPipe = nil
	}
	engine := cc.midiPlayer
	cc.mu.Unlock()

	if emitEnd != nil {
		emitEnd()
	}
	if engine != nil {
		engine.Stop()
	}
}

// endTrackLocked clears the active track and returns the TrackEnd
// broadcast to run once cc.mu is released. The end event is re-sent
// twice after a delay so clients that missed the first frame still
// blackout. Broadcasting while holding cc.mu can re-enter the lock:
// the hub drops a stalled client on a full send buffer, and that
// disconnect lands back in HandleDisconnect. Caller holds cc.mu.
func (cc *Center) endTrackLocked(track *model.Track) func() {
	cc.playlist.ClearCurrentTrack()
	cc.currentTrack = nil
	cc.sessionID = uuid.NewString()
	return func() {
		if !track.Background {
			cc.io.Emit(events.TrackEnd, track)
			resent := *track
			time.AfterFunc(cc.trackEndResendDelay, func() {
				cc.io.Emit(events.TrackEnd, &resent)
				cc.io.Emit(events.TrackEnd, &resent)
			})
		}
		cc.bus.Emit(events.TrackEnd, track)
	}
}

// clearCachesLocked tears down the previous track's resources. Caller
// holds cc.mu.
func (cc *Center) clearCachesLocked() {
	if cc.audioPipe != nil {
		cc.audioPipe.Destroy()
		cc.audioPipe = nil
	}
	if cc.midiPlayer != nil {
		cc.midiPlayer.Close()
		cc.midiPlayer = nil
	}
	cc.audioFile = ""
	cc.audioFileType = ""
	cc.midiFile = ""
	cc.currentTrack = nil
}
