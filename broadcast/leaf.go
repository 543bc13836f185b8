package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lightshowd/lightshowd/control"
	"github.com/lightshowd/lightshowd/events"
)

const leafRedialDelay = 5 * time.Second

// LeafClient connects a subordinate node to an upstream hub. It
// mirrors the hub's transport events onto the local control center,
// loading MIDI only; the hub owns the audio clock.
type LeafClient struct {
	addr   string
	cc     *control.Center
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	trackLoaded bool
}

func NewLeafClient(addr string, cc *control.Center, logger *slog.Logger) *LeafClient {
	l := &LeafClient{addr: leafURL(addr), cc: cc, logger: logger}
	// A local stop means the next TrackLoad from the hub is fresh.
	cc.Bus().Subscribe(events.TrackEnd, func(args ...any) {
		l.mu.Lock()
		l.trackLoaded = false
		l.mu.Unlock()
	})
	return l
}

func leafURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	if !strings.Contains(addr, "/ws") {
		addr = strings.TrimRight(addr, "/") + "/ws"
	}
	return addr + "?id=" + string(events.RoleLeaf)
}

// Run dials the hub and processes frames until ctx is cancelled,
// redialing on any connection failure.
func (l *LeafClient) Run(ctx context.Context) {
	for {
		if err := l.session(ctx); err != nil {
			l.logger.Error("Hub connection lost.", "addr", l.addr, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(leafRedialDelay):
		}
	}
}

func (l *LeafClient) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.addr, nil)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer conn.Close()

	l.logger.Info("Connected to hub.", "addr", l.addr)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			l.logger.Debug("Dropping malformed hub frame.", "err", err)
			continue
		}
		l.handle(msg)
	}
}

func (l *LeafClient) handle(msg Message) {
	switch msg.Event {
	case events.TrackLoad:
		l.mu.Lock()
		loaded := l.trackLoaded
		l.mu.Unlock()
		if loaded {
			return
		}
		name := events.ArgString(msg.Args, 0)
		track := l.cc.Playlist().GetTrack(name)
		if track == nil {
			l.logger.Error("Hub announced unknown track.", "track", name)
			return
		}
		if err := l.cc.LoadTrack(control.LoadTrackOptions{
			Track:   track,
			Formats: []string{"midi"},
		}); err != nil {
			l.logger.Error("Could not load track from hub.", "track", name, "err", err)
			return
		}
		l.mu.Lock()
		l.trackLoaded = true
		l.mu.Unlock()

	case events.TrackStart:
		if err := l.cc.PlayTrack(); err != nil {
			l.logger.Error("Could not start track from hub.", "err", err)
		}

	case events.TrackSync:
		l.cc.SeekMidiByTick(syncTick(msg.Args))

	case events.TrackEnd:
		l.cc.StopTrack()
	}
}

// syncTick pulls the tick out of a TrackSync payload, which arrives as
// a decoded JSON object.
func syncTick(args []any) int64 {
	if len(args) == 0 {
		return 0
	}
	obj, ok := args[0].(map[string]any)
	if !ok {
		return 0
	}
	tick, _ := obj["tick"].(float64)
	return int64(tick)
}
