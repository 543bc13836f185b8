//go:build e2e
// +build e2e

package e2e_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/lightshowd/lightshowd/broadcast"
	"github.com/lightshowd/lightshowd/cmd"
	"github.com/lightshowd/lightshowd/control"
	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/playlist"
	"github.com/lightshowd/lightshowd/space"
)

// single-track MIDI fixture: C4 for one quarter at 480 ticks/quarter
var testMidi = []byte{
	0x4D, 0x54, 0x68, 0x64, 0x00, 0x00, 0x00, 0x06,
	0x00, 0x00, 0x00, 0x01, 0x01, 0xE0,
	0x4D, 0x54, 0x72, 0x6B, 0x00, 0x00, 0x00, 0x0C,
	0x00, 0x90, 0x3C, 0x5A,
	0x60, 0x80, 0x3C, 0x00,
	0x00, 0xFF, 0x2F, 0x00,
}

var server *httptest.Server

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "lightshowd-e2e")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	tracks := []*model.Track{{Name: "Test Track", File: "test"}}
	data, _ := json.Marshal(tracks)
	mustWrite(filepath.Join(dir, "playlist.json"), data)
	mustWrite(filepath.Join(dir, "test.mid"), testMidi)
	mustWrite(filepath.Join(dir, "spaces.json"), []byte(
		`[{"id":"yard","boxes":[{"id":"deviceA","channels":[{"notes":["C4"],"channel":1}]}]}]`))

	pl := playlist.New(dir, 0, nil)
	if _, err := pl.Load("playlist.json", playlist.LoadOptions{}); err != nil {
		panic(err)
	}
	spaces := space.New(dir, nil)
	if err := spaces.Load("spaces.json"); err != nil {
		panic(err)
	}

	hub := broadcast.NewHub(nil)
	cc := control.New(control.Options{
		Playlist:      pl,
		Spaces:        spaces,
		IO:            hub,
		LoadEmitDelay: time.Millisecond,
	})
	hub.OnConnect = func(c *broadcast.Client) { cc.HandleConnection(c) }
	hub.OnDisconnect = func(c *broadcast.Client) { cc.HandleDisconnect(c) }
	hub.OnMessage = func(c *broadcast.Client, msg broadcast.Message) {
		cc.HandleMessage(c, msg.Event, msg.Args)
	}

	server = httptest.NewServer(cmd.NewRouter(pl, cc, hub, nil))

	exitVal := m.Run()
	server.Close()
	os.Exit(exitVal)
}

func mustWrite(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
}

func TestPlaylistEndpointE2E(t *testing.T) {
	resp, err := http.Get(server.URL + "/api/playlist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	assert := assert.New(t)
	assert.Equal(resp.StatusCode, 200)

	var tracks []*model.Track
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &tracks); err != nil {
		t.Fatal(err)
	}
	assert.Len(tracks, 1)
	assert.Equal(tracks[0].Name, "Test Track")
}

func TestLoadUnknownTrackE2E(t *testing.T) {
	resp, err := http.Get(server.URL + "/api/control-center/track/load?track=nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	assert.Equal(t, resp.StatusCode, 404)
}

func TestLoadTrackBroadcastsToClientsE2E(t *testing.T) {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?id=deviceA"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp, err := http.Get(server.URL + "/api/control-center/track/load?track=Test+Track")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	defer func() {
		r, _ := http.Get(server.URL + "/api/control-center/track/stop")
		if r != nil {
			r.Body.Close()
		}
	}()

	assert := assert.New(t)
	assert.Equal(resp.StatusCode, 200)

	// the load announcement and the note mapping both arrive
	seen := map[events.IOEvent]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && (!seen[events.TrackLoad] || !seen[events.MapNotes]) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg broadcast.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		seen[msg.Event] = true
	}
	assert.True(seen[events.TrackLoad], "expected a track:load frame")
	assert.True(seen[events.MapNotes], "expected a client:mapnotes frame")
}

func TestDiagnosticsInjectionE2E(t *testing.T) {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?id=deviceA"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp, err := http.Get(server.URL + "/api/diagnostics/io?event=midi:noteon&note=C4&velocity=100&length=25")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	assert := assert.New(t)
	assert.Equal(resp.StatusCode, 200)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var msg broadcast.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Event != events.NoteOn {
			continue
		}
		assert.Equal(msg.Args[0], []any{float64(60)})
		assert.Equal(msg.Args[1], float64(25))
		assert.Equal(msg.Args[2], float64(100))
		return
	}
}
