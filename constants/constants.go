package constants

import (
	"os"
	"strconv"
	"time"
)

// PlaylistFile is the default playlist manifest inside the tracks dir.
const PlaylistFile = "playlist.json"

func GetTracksPath() string {
	path := os.Getenv("TRACKS_PATH")
	if path != "" {
		return path
	}

	panic("TRACKS_PATH environment variable is not set!")
}

func GetSpacesPath() string {
	path := os.Getenv("SPACES_PATH")
	if path != "" {
		return path
	}
	return "./spaces"
}

func GetSpaceFile() string {
	file := os.Getenv("SPACE_FILE")
	if file != "" {
		return file
	}
	return "spaces.json"
}

func GetPort() string {
	port := os.Getenv("PORT")
	if port != "" {
		return port
	}
	return "3000"
}

// GetSoxPath returns the path of the sox `play` binary. The sibling
// `sox` and `lame` binaries are derived from it for file conversions.
func GetSoxPath() string {
	path := os.Getenv("SOX_PATH")
	if path != "" {
		return path
	}
	return "/usr/local/bin/play"
}

// GetLastPlayRange returns the per-track replay cooldown window.
func GetLastPlayRange() time.Duration {
	raw := os.Getenv("LAST_PLAY_RANGE")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		panic("LAST_PLAY_RANGE must be a number of seconds: " + err.Error())
	}
	return time.Duration(secs) * time.Second
}

// GetHubAddress returns the hub websocket address when this process
// runs as a leaf node, or "" to run standalone.
func GetHubAddress() string {
	return os.Getenv("HUB_ADDRESS")
}

func GetLogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level != "" {
		return level
	}
	return "info"
}

func GetMetadataTable() string {
	return os.Getenv("METADATA_TABLE")
}

func GetMetadataEndpoint() string {
	return os.Getenv("METADATA_ENDPOINT")
}

func GetFrequency() string {
	return os.Getenv("FREQUENCY")
}

func GetBand() string {
	band := os.Getenv("BAND")
	if band != "" {
		return band
	}
	return "FM"
}

func GetWelcomeMessage() string {
	return os.Getenv("MESSAGE_WELCOME")
}

func GetThankYouMessage() string {
	return os.Getenv("MESSAGE_THANK_YOU")
}
