package space

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const spaceFixture = `[
  {
    "id": "front-yard",
    "boxes": [
      {
        "id": "mega-tree",
        "channels": [
          { "notes": ["C4", "C5"], "channel": 1 },
          { "notes": ["D4", "D5"], "channel": 2 },
          { "notes": ["E4"], "channel": 4 }
        ]
      },
      { "id": "roofline", "channels": 8 }
    ]
  },
  {
    "id": "side-yard",
    "boxes": [
      {
        "id": "arches",
        "channels": [{ "notes": ["G4"], "channel": 1 }]
      }
    ]
  }
]`

func loadFixture(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "spaces.json"), []byte(spaceFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(dir, nil)
	if err := c.Load("spaces.json"); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLoadFlattensAllBoxes(t *testing.T) {
	c := loadFixture(t)

	assert := assert.New(t)
	assert.Len(c.Spaces, 2)
	assert.Len(c.Clients, 3)
}

func TestGetClientMaterializesNoteGrid(t *testing.T) {
	c := loadFixture(t)
	client := c.GetClient("mega-tree")

	assert := assert.New(t)
	assert.NotNil(client)
	// rows span the highest channel; unrouted slots stay empty
	assert.Equal(client.Notes, [][]string{
		{"C4", "D4", "", "E4"},
		{"C5", "D5", "", ""},
	})

	// the grid is cached on the client
	assert.Equal(c.GetClient("mega-tree").Notes, client.Notes)
}

func TestGetClientWithBareChannelCount(t *testing.T) {
	c := loadFixture(t)
	client := c.GetClient("roofline")

	assert := assert.New(t)
	assert.NotNil(client)
	assert.Empty(client.Notes)
	assert.Equal(client.Channels.MaxChannel(), 8)
}

func TestGetClientUnknownID(t *testing.T) {
	c := loadFixture(t)
	assert.Nil(t, c.GetClient("nope"))
}

func TestLoadMissingFile(t *testing.T) {
	c := New(t.TempDir(), nil)
	assert.Error(t, c.Load("spaces.json"))
}
