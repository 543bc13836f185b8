package model

import (
	"encoding/json"
	"fmt"
)

// ChannelNotes routes a list of note names to a physical output channel.
type ChannelNotes struct {
	Notes   []string `json:"notes"`
	Channel int      `json:"channel"`
}

// Channels is either a bare channel count or a list of per-channel
// note routes, depending on how the space file was authored.
type Channels struct {
	Count  int
	Routes []ChannelNotes
}

func (c *Channels) UnmarshalJSON(data []byte) error {
	var count int
	if err := json.Unmarshal(data, &count); err == nil {
		c.Count = count
		return nil
	}

	var routes []ChannelNotes
	if err := json.Unmarshal(data, &routes); err != nil {
		return fmt.Errorf("channels must be a number or a channel list: %w", err)
	}
	c.Routes = routes
	return nil
}

func (c Channels) MarshalJSON() ([]byte, error) {
	if c.Routes != nil {
		return json.Marshal(c.Routes)
	}
	return json.Marshal(c.Count)
}

// MaxChannel returns the highest channel number covered by the table.
func (c Channels) MaxChannel() int {
	if c.Routes == nil {
		return c.Count
	}
	max := 0
	for _, r := range c.Routes {
		if r.Channel > max {
			max = r.Channel
		}
	}
	return max
}

// SpaceClient is a physical lighting node and its note-to-channel table.
// Notes is materialized lazily from Channels; each inner slice holds one
// note name per channel slot ("" for unassigned slots).
type SpaceClient struct {
	ID       string     `json:"id"`
	Type     string     `json:"type,omitempty"`
	Octave   string     `json:"octave,omitempty"`
	Channels Channels   `json:"channels"`
	Notes    [][]string `json:"notes,omitempty"`
}

type Space struct {
	ID        string         `json:"id"`
	BaseNotes []string       `json:"baseNotes,omitempty"`
	Boxes     []*SpaceClient `json:"boxes"`
	Width     float64        `json:"width,omitempty"`
	Height    float64        `json:"height,omitempty"`
}
