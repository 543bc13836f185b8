package model

// TimePosition is the decode pipeline's progress payload.
type TimePosition struct {
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
}

// SyncPoint is the drift-correction payload re-broadcast after playback
// start so late or drifted clients can realign without restarting.
type SyncPoint struct {
	Tick        int64  `json:"tick"`
	StartTime   string `json:"startTime"`
	CurrentTime string `json:"currentTime"`
}

type ErrorResponse struct {
	Error string `json:"detail"`
}
