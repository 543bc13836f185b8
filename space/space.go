// Package space caches the physical layout files: which lighting node
// owns which notes, independent of any track.
package space

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lightshowd/lightshowd/model"
)

type Cache struct {
	Path   string
	logger *slog.Logger

	Spaces  []*model.Space
	Clients []*model.SpaceClient
}

func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{Path: path, logger: logger.With("group", "SpaceCache")}
}

// Load reads a space file and flattens all client nodes.
func (c *Cache) Load(file string) error {
	spacePath := filepath.Join(c.Path, file)

	data, err := os.ReadFile(spacePath)
	if err != nil {
		return fmt.Errorf("space file not found: %s: %w", spacePath, err)
	}
	var spaces []*model.Space
	if err := json.Unmarshal(data, &spaces); err != nil {
		return fmt.Errorf("invalid space file %s: %w", spacePath, err)
	}

	c.Spaces = spaces
	c.Clients = nil
	for _, s := range spaces {
		c.Clients = append(c.Clients, s.Boxes...)
	}
	c.logger.Info("Spaces loaded", "spaces", len(spaces), "clients", len(c.Clients))
	return nil
}

// GetClient returns a client node by id, materializing its note grid
// from the channel table on first use. Row i of the grid holds the
// i-th note of every channel, indexed by channel number; slots with no
// assignment stay empty.
func (c *Cache) GetClient(id string) *model.SpaceClient {
	var client *model.SpaceClient
	for _, cl := range c.Clients {
		if cl.ID == id {
			client = cl
			break
		}
	}
	if client == nil {
		return nil
	}
	if client.Notes != nil {
		return client
	}

	maxChannel := client.Channels.MaxChannel()
	var grid [][]string
	for _, route := range client.Channels.Routes {
		for i, n := range route.Notes {
			for len(grid) <= i {
				grid = append(grid, make([]string, maxChannel))
			}
			grid[i][route.Channel-1] = n
		}
	}

	client.Notes = grid
	return client
}
