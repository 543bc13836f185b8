package control

import (
	"github.com/bep/debounce"

	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/note"
)

// HandleConnection is wired to the hub's connect callback.
func (cc *Center) HandleConnection(c Conn) {
	switch c.Role() {
	case events.RolePlayer:
		cc.logger.Debug("Registering player.", "addr", c.Addr())
	case events.RoleListener:
		cc.logger.Debug("Registering listener.", "addr", c.Addr())
	case events.RoleLeaf:
		cc.logger.Info("Leaf node connected.", "addr", c.Addr())
	case events.RolePassthrough:
		cc.logger.Debug("Registering passthrough.", "addr", c.Addr())
	}
}

// HandleDisconnect releases transport control when the active player
// leaves.
func (cc *Center) HandleDisconnect(c Conn) {
	if c.Role() != events.RolePlayer {
		return
	}
	cc.mu.Lock()
	if cc.activePlayer == c.Addr() {
		cc.activePlayer = ""
		cc.logger.Debug("Active player disconnected.", "addr", c.Addr())
	}
	cc.mu.Unlock()
}

// HandleMessage dispatches an inbound event frame. Transport commands
// are restricted to player connections, and only one player may drive
// the transport at a time.
func (cc *Center) HandleMessage(c Conn, event events.IOEvent, args []any) {
	if c.Role() == events.RolePassthrough {
		cc.io.Emit(event, args...)
		return
	}

	switch event {
	case events.ClientRegister:
		if clientID := events.ArgString(args, 0); clientID != "" {
			cc.registerClient(clientID)
		}

	case events.TrackPlay:
		if c.Role() != events.RolePlayer || !cc.claimTransport(c) {
			return
		}
		if err := cc.PlayTrack(); err != nil {
			cc.logger.Error("Could not play track.", "err", err)
		}

	case events.TrackSeek:
		if c.Role() != events.RolePlayer || !cc.claimTransport(c) {
			return
		}
		cc.SeekTrack(events.ArgFloat(args, 0))

	case events.TrackPause:
		if c.Role() != events.RolePlayer || !cc.ownsTransport(c) {
			return
		}
		cc.PauseTrack()

	case events.TrackResume:
		if c.Role() != events.RolePlayer || !cc.ownsTransport(c) {
			return
		}
		cc.ResumeTrack(events.ArgFloat(args, 0))

	case events.TrackStop:
		if c.Role() != events.RolePlayer || !cc.ownsTransport(c) {
			return
		}
		cc.StopTrack()

	case events.TrackStatus:
		if c.Role() != events.RolePlayer && c.Role() != events.RoleListener {
			return
		}
		if status := cc.CurrentTrack(); status != nil {
			c.Emit(events.TrackStatus, status)
		}
	}
}

// claimTransport makes c the active player if the seat is free or
// already theirs.
func (cc *Center) claimTransport(c Conn) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.activePlayer == "" || cc.activePlayer == c.Addr() {
		cc.activePlayer = c.Addr()
		return true
	}
	return false
}

func (cc *Center) ownsTransport(c Conn) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.activePlayer == "" || cc.activePlayer == c.Addr()
}

// registerClient answers a lighting client's registration with its
// note mapping. Registrations are debounced per client so a
// reconnect storm produces one push.
func (cc *Center) registerClient(clientID string) {
	cc.mu.Lock()
	settle, ok := cc.debouncers[clientID]
	if !ok {
		settle = debounce.New(cc.registerSettle)
		cc.debouncers[clientID] = settle
	}
	cc.mu.Unlock()

	settle(func() { cc.pushClientMapping(clientID) })
}

func (cc *Center) pushClientMapping(clientID string) {
	cc.mu.Lock()
	isPlaying := 0
	var trackNotes string
	if cc.currentTrack != nil {
		isPlaying = 1
		if mapping := cc.currentTrack.NoteMappings[clientID]; mapping != nil {
			trackNotes = mapping.Notes
		}
	}
	cc.mu.Unlock()

	notesString := trackNotes
	var noteNumbersString string
	if notesString != "" {
		noteNumbersString = note.NumbersStringFromCSV(notesString)
	} else if cc.spaces != nil {
		if sc := cc.spaces.GetClient(clientID); sc != nil && len(sc.Notes) > 0 {
			notesString = note.NotesString(sc.Notes)
			noteNumbersString = note.NumbersString(sc.Notes)
		}
	}
	if notesString == "" {
		return
	}

	cc.logger.Debug("Mapping notes for client.", "client", clientID, "notes", notesString)
	cc.io.Emit(events.MapNotes, clientID, notesString, noteNumbersString+",", isPlaying)
}
