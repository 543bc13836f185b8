package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/playlist"
	"github.com/lightshowd/lightshowd/space"
)

// testMidi is a minimal single-track file at 480 ticks per quarter:
// C4 on at tick 0, off at tick 96, end of track.
var testMidi = []byte{
	0x4D, 0x54, 0x68, 0x64, 0x00, 0x00, 0x00, 0x06, // MThd
	0x00, 0x00, 0x00, 0x01, 0x01, 0xE0, // format 0, 1 track, 480
	0x4D, 0x54, 0x72, 0x6B, 0x00, 0x00, 0x00, 0x0C, // MTrk, 12 bytes
	0x00, 0x90, 0x3C, 0x5A, // note on C4
	0x60, 0x80, 0x3C, 0x00, // note off C4 at +96
	0x00, 0xFF, 0x2F, 0x00, // end of track
}

const testSpaces = `[
  {
    "id": "yard",
    "boxes": [
      { "id": "deviceA", "channels": [{ "notes": ["C4"], "channel": 1 }] },
      { "id": "deviceB", "channels": [{ "notes": ["G4"], "channel": 1 }] }
    ]
  }
]`

type recorded struct {
	event events.IOEvent
	args  []any
}

type recorder struct {
	mu   sync.Mutex
	recs []recorded
}

func (r *recorder) Emit(event events.IOEvent, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, recorded{event: event, args: args})
}

func (r *recorder) count(event events.IOEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recs {
		if rec.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) mappingsFor(clientID string) [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]any
	for _, rec := range r.recs {
		if rec.event == events.MapNotes && len(rec.args) > 0 && rec.args[0] == clientID {
			out = append(out, rec.args)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestFixture(t *testing.T) (*playlist.Playlist, *space.Cache) {
	t.Helper()
	dir := t.TempDir()

	tracks := []*model.Track{
		{Name: "Test Track", File: "test"},
		{
			Name: "Mapped Track",
			File: "test",
			NoteMappings: map[string]*model.NoteMapping{
				"deviceA": {Notes: "C4,D4", Merge: true},
			},
		},
		{Name: "Ghost Track", File: "ghost"},
	}
	data, err := json.Marshal(tracks)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "playlist.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test.mid"), testMidi, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "spaces.json"), []byte(testSpaces), 0o644); err != nil {
		t.Fatal(err)
	}

	pl := playlist.New(dir, 0, nil)
	if _, err := pl.Load("playlist.json", playlist.LoadOptions{}); err != nil {
		t.Fatal(err)
	}
	spaces := space.New(dir, nil)
	if err := spaces.Load("spaces.json"); err != nil {
		t.Fatal(err)
	}
	return pl, spaces
}

func newTestCenter(t *testing.T) (*Center, *recorder, *playlist.Playlist) {
	t.Helper()
	pl, spaces := newTestFixture(t)

	rec := &recorder{}
	cc := New(Options{
		Playlist:            pl,
		Spaces:              spaces,
		IO:                  rec,
		LoadEmitDelay:       time.Millisecond,
		TrackEndResendDelay: 5 * time.Millisecond,
		SyncDelays:          []time.Duration{10 * time.Millisecond},
		RegisterSettle:      5 * time.Millisecond,
	})
	return cc, rec, pl
}

type fakeConn struct {
	id   string
	addr string
	role events.Role

	mu      sync.Mutex
	emitted []recorded
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) Addr() string      { return c.addr }
func (c *fakeConn) Role() events.Role { return c.role }

func (c *fakeConn) Emit(event events.IOEvent, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, recorded{event: event, args: args})
}

func TestLoadTrackAnnouncesThreeTimes(t *testing.T) {
	cc, rec, pl := newTestCenter(t)

	err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")})

	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(rec.count(events.TrackLoad), 3)
	assert.NotNil(cc.CurrentTrack())
	assert.Equal(pl.CurrentTrack().Name, "Test Track")
}

func TestLoadTrackFailsWithoutFiles(t *testing.T) {
	cc, _, pl := newTestCenter(t)

	err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Ghost Track")})

	assert := assert.New(t)
	assert.ErrorContains(err, "no files found")
	assert.Nil(cc.CurrentTrack())
}

func TestLoadTrackMergesMappingWithClientDefaults(t *testing.T) {
	cc, rec, pl := newTestCenter(t)

	err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Mapped Track")})

	assert := assert.New(t)
	assert.NoError(err)

	// deviceA's merge override unions with its default ["C4"]
	mappings := rec.mappingsFor("deviceA")
	assert.Len(mappings, 1)
	assert.Equal(mappings[0][1], "C4,D4")
	assert.Equal(mappings[0][2], "60,62,")

	// deviceB has no override and receives its space default
	mappings = rec.mappingsFor("deviceB")
	assert.Len(mappings, 1)
	assert.Equal(mappings[0][1], "G4")
}

func TestStopTrackEmitsBoundedTrackEndAndIsIdempotent(t *testing.T) {
	cc, rec, pl := newTestCenter(t)
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	cc.StopTrack()
	cc.StopTrack()

	assert := assert.New(t)
	assert.True(waitFor(t, time.Second, func() bool {
		return rec.count(events.TrackEnd) == 3
	}), "expected exactly 3 TrackEnd broadcasts, got %d", rec.count(events.TrackEnd))
	assert.Nil(cc.CurrentTrack())
}

func TestPlayTrackMidiOnlyLifecycle(t *testing.T) {
	cc, rec, pl := newTestCenter(t)
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	assert := assert.New(t)
	assert.NoError(cc.PlayTrack())
	assert.Equal(rec.count(events.TrackStart), 1)
	assert.NotEmpty(cc.CurrentTrack().StartTime)

	// the file ends on its own and the end broadcast is re-sent twice
	assert.True(waitFor(t, 3*time.Second, func() bool {
		return rec.count(events.TrackEnd) == 3
	}), "expected 3 TrackEnd broadcasts after end of file")
	assert.True(rec.count(events.NoteOn) >= 1)
	assert.Nil(cc.CurrentTrack())
}

func TestPlayTrackWithoutLoadFails(t *testing.T) {
	cc, _, _ := newTestCenter(t)
	assert.Error(t, cc.PlayTrack())
}

func TestTransportIsSingleController(t *testing.T) {
	cc, _, pl := newTestCenter(t)
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	playerA := &fakeConn{id: "a", addr: "10.0.0.1:100", role: events.RolePlayer}
	playerB := &fakeConn{id: "b", addr: "10.0.0.2:200", role: events.RolePlayer}

	cc.HandleMessage(playerA, events.TrackPlay, nil)
	// pause so the short fixture cannot run out mid-test
	cc.HandleMessage(playerA, events.TrackPause, nil)

	// another player cannot stop a show it does not control
	cc.HandleMessage(playerB, events.TrackStop, nil)
	assert.NotNil(t, cc.CurrentTrack())

	cc.HandleMessage(playerA, events.TrackStop, nil)
	assert.Nil(t, cc.CurrentTrack())

	// disconnecting the active player frees the transport
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}
	cc.HandleMessage(playerA, events.TrackPlay, nil)
	cc.HandleMessage(playerA, events.TrackPause, nil)
	cc.HandleDisconnect(playerA)
	cc.HandleMessage(playerB, events.TrackStop, nil)
	assert.Nil(t, cc.CurrentTrack())
}

func TestTransportCommandsIgnoredFromListeners(t *testing.T) {
	cc, _, pl := newTestCenter(t)
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	listener := &fakeConn{id: "l", addr: "10.0.0.3:300", role: events.RoleListener}
	cc.HandleMessage(listener, events.TrackStop, nil)
	assert.NotNil(t, cc.CurrentTrack())
}

func TestTrackStatusRepliesDirectly(t *testing.T) {
	cc, _, pl := newTestCenter(t)
	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	listener := &fakeConn{id: "l", addr: "10.0.0.3:300", role: events.RoleListener}
	cc.HandleMessage(listener, events.TrackStatus, nil)

	assert := assert.New(t)
	assert.Len(listener.emitted, 1)
	assert.Equal(listener.emitted[0].event, events.TrackStatus)
	status := listener.emitted[0].args[0].(*model.CurrentTrack)
	assert.Equal(status.Name, "Test Track")
}

func TestPassthroughRebroadcasts(t *testing.T) {
	cc, rec, _ := newTestCenter(t)

	relay := &fakeConn{id: "p", addr: "10.0.0.4:400", role: events.RolePassthrough}
	cc.HandleMessage(relay, events.NoteOn, []any{[]int{60}, 500, 90})

	assert.Equal(t, rec.count(events.NoteOn), 1)
}

func TestClientRegisterIsDebouncedPerClient(t *testing.T) {
	cc, rec, _ := newTestCenter(t)

	conn := &fakeConn{id: "c", addr: "10.0.0.5:500", role: events.RoleLight}
	cc.HandleMessage(conn, events.ClientRegister, []any{"deviceA"})
	cc.HandleMessage(conn, events.ClientRegister, []any{"deviceA"})
	cc.HandleMessage(conn, events.ClientRegister, []any{"deviceA"})

	assert := assert.New(t)
	assert.True(waitFor(t, time.Second, func() bool {
		return len(rec.mappingsFor("deviceA")) == 1
	}), "expected one debounced mapping push")

	time.Sleep(20 * time.Millisecond)
	mappings := rec.mappingsFor("deviceA")
	assert.Len(mappings, 1)
	// idle center: default space mapping, not playing
	assert.Equal(mappings[0][1], "C4")
	assert.Equal(mappings[0][3], 0)
}

// droppingEmitter records frames like recorder but simulates the hub
// dropping a stalled player mid-broadcast: the disconnect callback runs
// on the emitting goroutine, the same way Hub.remove invokes
// OnDisconnect when a full send buffer forces a close.
type droppingEmitter struct {
	recorder
	onTrackEnd func()
}

func (e *droppingEmitter) Emit(event events.IOEvent, args ...any) {
	e.recorder.Emit(event, args...)
	if event == events.TrackEnd && e.onTrackEnd != nil {
		e.onTrackEnd()
	}
}

func TestStopTrackSurvivesPlayerDropDuringEndBroadcast(t *testing.T) {
	pl, spaces := newTestFixture(t)
	io := &droppingEmitter{}
	cc := New(Options{
		Playlist:            pl,
		Spaces:              spaces,
		IO:                  io,
		LoadEmitDelay:       time.Millisecond,
		TrackEndResendDelay: 5 * time.Millisecond,
	})
	player := &fakeConn{id: "a", addr: "10.0.0.1:100", role: events.RolePlayer}
	io.onTrackEnd = func() { cc.HandleDisconnect(player) }

	if err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Test Track")}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		cc.StopTrack()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopTrack did not return while a player disconnect was being handled")
	}
	assert.Nil(t, cc.CurrentTrack())
}

func TestLoadTrackWithMergeMappingAndNoSpaces(t *testing.T) {
	pl, _ := newTestFixture(t)
	rec := &recorder{}
	cc := New(Options{
		Playlist:      pl,
		IO:            rec,
		LoadEmitDelay: time.Millisecond,
	})

	err := cc.LoadTrack(LoadTrackOptions{Track: pl.GetTrack("Mapped Track")})

	assert := assert.New(t)
	assert.NoError(err)

	// without a space layout the override stands alone
	mappings := rec.mappingsFor("deviceA")
	assert.Len(mappings, 1)
	assert.Equal(mappings[0][1], "C4,D4")
}

func TestTrackStatusSilentWhenIdle(t *testing.T) {
	cc, _, _ := newTestCenter(t)

	listener := &fakeConn{id: "l", addr: "10.0.0.3:300", role: events.RoleListener}
	cc.HandleMessage(listener, events.TrackStatus, nil)

	assert.Empty(t, listener.emitted)
}

func TestSetDisabledNotesBroadcasts(t *testing.T) {
	cc, rec, _ := newTestCenter(t)

	cc.SetDisabledNotes([]string{"C4", "D4"})

	assert := assert.New(t)
	assert.Equal(rec.count(events.ClientDisable), 1)
	assert.Equal(cc.DisabledNotes(), []string{"C4", "D4"})
}
