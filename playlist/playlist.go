// Package playlist is the track repository: manifest loading, file
// path resolution (including conversion through the external sox
// utility), and play-history throttling.
package playlist

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lightshowd/lightshowd/constants"
	"github.com/lightshowd/lightshowd/model"
)

var trackNumberRe = regexp.MustCompile(`^[0-9]+$`)

// LoadOptions filters and shapes a playlist listing.
type LoadOptions struct {
	ShowDisabled bool
	// Format resolves audio paths preferring this extension ("wav" or
	// "mp3"); listings with a format are not retained as the active set.
	Format string
}

type Playlist struct {
	Path   string
	logger *slog.Logger

	mu            sync.Mutex
	tracks        []*model.Track
	current       *model.Track
	trackLog      map[string]*model.TrackLogRecord
	message       string
	lastPlayRange time.Duration
	soxPath       string
}

func New(path string, lastPlayRange time.Duration, logger *slog.Logger) *Playlist {
	if logger == nil {
		logger = slog.Default()
	}
	return &Playlist{
		Path:          path,
		logger:        logger.With("group", "Playlist"),
		trackLog:      make(map[string]*model.TrackLogRecord),
		lastPlayRange: lastPlayRange,
		soxPath:       constants.GetSoxPath(),
	}
}

// Load reads a playlist manifest and resolves each track's file paths
// relative to the playlist dir. Without a format option the result
// becomes the active track set.
func (p *Playlist) Load(file string, opts LoadOptions) ([]*model.Track, error) {
	if file == "" {
		file = constants.PlaylistFile
	}
	manifest := filepath.Join(p.Path, file)

	data, err := os.ReadFile(manifest)
	if err != nil {
		return nil, fmt.Errorf("playlist file not found: %s: %w", manifest, err)
	}

	var all []*model.Track
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("invalid playlist file %s: %w", manifest, err)
	}

	baseFolder := filepath.Base(p.Path)

	var tracks []*model.Track
	for _, t := range all {
		if t.Disabled && !opts.ShowDisabled {
			continue
		}
		if midiPath := p.GetFilePath(t, "midi", ""); midiPath != "" {
			t.Midi = relativeTo(midiPath, baseFolder)
		}
		if audioPath := p.GetFilePath(t, "audio", opts.Format); audioPath != "" {
			t.Audio = relativeTo(audioPath, baseFolder)
		}
		tracks = append(tracks, t)
	}

	if opts.Format == "" {
		p.mu.Lock()
		p.tracks = tracks
		p.mu.Unlock()
	}

	p.logger.Info("Playlist loaded", "tracks", len(tracks))
	return tracks, nil
}

func relativeTo(path, baseFolder string) string {
	marker := baseFolder + string(filepath.Separator)
	if i := strings.Index(path, marker); i >= 0 {
		return path[i+len(marker):]
	}
	return path
}

// Tracks returns the active track set.
func (p *Playlist) Tracks() []*model.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks
}

// GetTrack finds a track by exact (case-insensitive) name.
func (p *Playlist) GetTrack(name string) *model.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, t := range p.tracks {
		if strings.ToLower(t.Name) == needle {
			return t
		}
	}
	return nil
}

// FindTrack matches a track by 1-based number or name substring.
func (p *Playlist) FindTrack(query string) *model.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := strings.TrimSpace(query)
	if trackNumberRe.MatchString(q) {
		num, _ := strconv.Atoi(q)
		if num < 1 || num > len(p.tracks) {
			return nil
		}
		return p.tracks[num-1]
	}
	for _, t := range p.tracks {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(q)) {
			return t
		}
	}
	return nil
}

// CanPlayTrack reports whether a track may start now, honoring the
// one-at-a-time rule and the replay cooldown. On refusal the reason is
// retained for CurrentMessage.
func (p *Playlist) CanPlayTrack(track *model.Track) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.message = fmt.Sprintf("%s is currently playing on %s %s",
			p.current.Name, constants.GetFrequency(), constants.GetBand())
		return false
	}

	record := p.trackLog[track.File]
	if record == nil || record.LastPlayTime.IsZero() ||
		time.Since(record.LastPlayTime) > p.lastPlayRange {
		return true
	}

	p.message = "This track was recently played. Pick another?"
	return false
}

func (p *Playlist) SetCurrentTrack(track *model.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = track
	if p.trackLog[track.File] == nil {
		p.trackLog[track.File] = &model.TrackLogRecord{Track: *track}
	}
	p.message = constants.GetThankYouMessage()
}

// ClearCurrentTrack logs the finished play and releases the slot.
func (p *Playlist) ClearCurrentTrack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	record := p.trackLog[p.current.File]
	if record != nil {
		record.LastPlayTime = time.Now()
		record.Plays++
	}
	p.current = nil
}

func (p *Playlist) CurrentTrack() *model.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Playlist) CurrentMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.message
}

// GetFilePath resolves a track's media file of the given type ("audio"
// or "midi"), returning "" when none exists. Audio resolution prefers
// wav; a track present only as mp3 is converted to wav (with optional
// silence padding) through the sox utility, keeping the original mp3.
func (p *Playlist) GetFilePath(track *model.Track, fileType, preferredFormat string) string {
	basePath := filepath.Join(p.Path, track.File)

	switch fileType {
	case "midi":
		path := basePath + ".mid"
		if fileExists(path) {
			return path
		}
		return ""

	case "audio":
		if preferredFormat != "" {
			if path := basePath + "." + preferredFormat; fileExists(path) {
				return path
			}
		}
		if path := basePath + ".wav"; fileExists(path) {
			return path
		}

		mp3Path := basePath + ".mp3"
		origPath := basePath + ".orig.mp3"
		if !fileExists(origPath) && !fileExists(mp3Path) {
			return ""
		}
		if !fileExists(origPath) {
			if err := copyFile(mp3Path, origPath); err != nil {
				p.logger.Error("Could not preserve original MP3", "err", err)
				return ""
			}
		}

		p.logger.Info("Converting MP3 to WAV...", "track", track.Name)
		args := []string{origPath, basePath + ".wav"}
		if track.Pad > 0 {
			p.logger.Info("Adding padding...", "track", track.Name)
			args = append(args, "pad", strconv.FormatFloat(track.Pad, 'f', -1, 64))
		}
		if err := exec.Command(p.soxBinary("sox"), args...).Run(); err != nil {
			p.logger.Error("MP3 to WAV conversion failed", "err", err)
			return ""
		}

		// regenerate the mp3 from the padded wav
		if err := exec.Command(p.soxBinary("lame"), basePath+".wav", mp3Path).Run(); err != nil {
			p.logger.Error("WAV to MP3 conversion failed", "err", err)
		}
		p.logger.Info("Conversion complete", "track", track.Name)
		return basePath + ".wav"
	}

	return ""
}

// soxBinary maps the configured `play` path onto a sibling tool.
func (p *Playlist) soxBinary(tool string) string {
	return filepath.Join(filepath.Dir(p.soxPath), tool)
}

// TextMessage renders the dial-in playlist listing.
func (p *Playlist) TextMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := []string{
		constants.GetWelcomeMessage(),
		fmt.Sprintf("Text the song number to play and tune to %s %s.",
			constants.GetFrequency(), constants.GetBand()),
		"\n",
	}
	i := 0
	for _, t := range p.tracks {
		if t.Disabled {
			continue
		}
		i++
		parts = append(parts, fmt.Sprintf("%d. %s - %s", i, t.Name, t.Artist))
	}
	return strings.Join(parts, "\n")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
