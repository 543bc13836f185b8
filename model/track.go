package model

import "time"

// NoteMapping is a per-track override of a client's default note table.
// When Merge is set the override is unioned with the client's default
// mapping, index-aligned, with empty slots treated as absent.
type NoteMapping struct {
	Notes       string `json:"notes"`
	NoteNumbers string `json:"noteNumbers,omitempty"`
	Merge       bool   `json:"merge,omitempty"`
}

type Track struct {
	Name             string                  `json:"name"`
	Artist           string                  `json:"artist"`
	File             string                  `json:"file"`
	Disabled         bool                    `json:"disabled,omitempty"`
	NoteMappings     map[string]*NoteMapping `json:"noteMappings,omitempty"`
	VelocityOverride int                     `json:"velocityOverride,omitempty"`
	Audio            string                  `json:"audio,omitempty"`
	Midi             string                  `json:"midi,omitempty"`
	Background       bool                    `json:"background,omitempty"`
	Pad              float64                 `json:"pad,omitempty"`
}

// CurrentTrack is the track bound to the active playback session.
type CurrentTrack struct {
	Track
	StartTime string `json:"startTime,omitempty"`
}

// TrackLogRecord is in-memory play bookkeeping used for replay throttling.
type TrackLogRecord struct {
	Track
	Plays        int
	LastPlayTime time.Time
}

// TrackMetadata is the optional metadata sidecar record for a track file.
type TrackMetadata struct {
	Artist  string
	Title   string
	Release string
	Year    uint
}
