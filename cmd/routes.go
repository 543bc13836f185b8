package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lightshowd/lightshowd/broadcast"
	"github.com/lightshowd/lightshowd/constants"
	"github.com/lightshowd/lightshowd/control"
	"github.com/lightshowd/lightshowd/events"
	"github.com/lightshowd/lightshowd/model"
	"github.com/lightshowd/lightshowd/note"
	"github.com/lightshowd/lightshowd/playlist"
)

// NewRouter builds the full HTTP surface: the websocket endpoint plus
// the REST API used by the web player and dial-in integrations.
func NewRouter(pl *playlist.Playlist, cc *control.Center, hub *broadcast.Hub, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.ServeWS)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/playlist", func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		showDisabled := r.URL.Query().Get("showDisabled") == "true"

		if showDisabled || format != "" {
			tracks, err := pl.Load(constants.PlaylistFile, playlist.LoadOptions{
				ShowDisabled: showDisabled,
				Format:       format,
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, tracks)
			return
		}
		writeJSON(w, http.StatusOK, pl.Tracks())
	}).Methods(http.MethodGet)

	api.HandleFunc("/playlist/{track}/download", func(w http.ResponseWriter, r *http.Request) {
		track := pl.FindTrack(mux.Vars(r)["track"])
		if track == nil {
			writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "track not found"})
			return
		}
		path := pl.GetFilePath(track, "audio", "")
		if path == "" {
			writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "no audio for track"})
			return
		}
		http.ServeFile(w, r, path)
	}).Methods(http.MethodGet)

	api.HandleFunc("/control-center/track/load", func(w http.ResponseWriter, r *http.Request) {
		track := pl.GetTrack(r.URL.Query().Get("track"))
		if track == nil {
			writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "track not found"})
			return
		}
		var formats []string
		if format := r.URL.Query().Get("format"); format != "" {
			formats = []string{format}
		}
		if err := cc.LoadTrack(control.LoadTrackOptions{Track: track, Formats: formats}); err != nil {
			logger.Error("Track load failed.", "track", track.Name, "err", err)
			writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, cc.CurrentTrack())
	}).Methods(http.MethodGet)

	api.HandleFunc("/control-center/track/play", func(w http.ResponseWriter, r *http.Request) {
		track := pl.GetTrack(r.URL.Query().Get("track"))
		if track == nil {
			writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "track not found"})
			return
		}
		if !pl.CanPlayTrack(track) {
			writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: pl.CurrentMessage()})
			return
		}
		if err := cc.LoadTrack(control.LoadTrackOptions{Track: track}); err != nil {
			logger.Error("Track load failed.", "track", track.Name, "err", err)
			writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: err.Error()})
			return
		}
		if err := cc.PlayTrack(); err != nil {
			writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Now playing %q by %s", track.Name, track.Artist),
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/control-center/track/stop", func(w http.ResponseWriter, r *http.Request) {
		current := cc.CurrentTrack()
		if current == nil {
			writeJSON(w, http.StatusOK, map[string]string{"message": "No track is currently playing."})
			return
		}
		cc.StopTrack()
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Stopped %q by %s", current.Name, current.Artist),
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/control-center/disable-notes", func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("notes")
		var notes []string
		if raw != "" {
			notes = strings.Split(raw, ",")
		}
		cc.SetDisabledNotes(notes)
		writeJSON(w, http.StatusOK, map[string]string{"disabled": raw})
	}).Methods(http.MethodGet)

	api.HandleFunc("/diagnostics/io", diagnosticsHandler(cc, hub)).Methods(http.MethodGet)

	return router
}

// diagnosticsHandler injects raw events into the broadcast channel so
// lighting clients can be exercised without playing a track.
func diagnosticsHandler(cc *control.Center, hub *broadcast.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		event := events.IOEvent(q.Get("event"))
		value := q.Get("value")

		switch event {
		case events.MapNotes:
			clientID := q.Get("clientId")
			hub.Emit(events.MapNotes, clientID, value)
			writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID, "value": value})
			return

		case events.ClientDisable:
			if value == "*" {
				for _, id := range cc.SpaceClientIDs() {
					hub.Emit(event, id)
				}
			} else if value != "" {
				for _, id := range strings.Split(value, ",") {
					hub.Emit(event, id)
				}
			}
			writeJSON(w, http.StatusOK, map[string]string{"event": string(event), "value": value})
			return
		}

		if rawNotes := q.Get("note"); rawNotes != "" {
			notes := strings.Split(rawNotes, ",")
			noteNumbers := make([]int, len(notes))
			for i, n := range notes {
				noteNumbers[i] = note.Number(n)
			}
			length, _ := strconv.Atoi(q.Get("length"))
			velocity, _ := strconv.Atoi(q.Get("velocity"))
			hub.Emit(event, noteNumbers, length, velocity)
			writeJSON(w, http.StatusOK, map[string]any{
				"event":       event,
				"notes":       notes,
				"noteNumbers": noteNumbers,
				"length":      length,
				"velocity":    velocity,
			})
			return
		}

		var args []any
		if value != "" {
			args = append(args, value)
		}
		hub.Emit(event, args...)
		writeJSON(w, http.StatusOK, map[string]string{"event": string(event), "value": value})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
