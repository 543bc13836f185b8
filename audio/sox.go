// Package audio wraps the external sox `play` utility as a decode
// pipeline: the audio file is piped to the subprocess and the
// subprocess's progress output is parsed into time-position callbacks.
package audio

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/lightshowd/lightshowd/model"
)

// PlayOptions parameterizes one decode run.
type PlayOptions struct {
	// Start trims playback to begin this many seconds in.
	Start float64
	// End optionally trims playback to stop at this absolute position.
	End float64
	// Type is the input format, "wav" or "mp3".
	Type string
}

var metaProps = map[string]bool{
	"encoding":   true,
	"channels":   true,
	"samplerate": true,
	"replaygain": true,
	"duration":   true,
}

// Pipe is one sox subprocess feeding the sound device. Callbacks fire
// on the subprocess's reader goroutines; a destroyed pipe fires none.
type Pipe struct {
	soxPath string
	opts    PlayOptions
	logger  *slog.Logger

	onTime  func(model.TimePosition)
	onClose func(err error)

	mu          sync.Mutex
	cmd         *exec.Cmd
	file        *os.File
	destroyed   bool
	currentTime float64
	duration    float64
	meta        map[string]string
}

func NewPipe(soxPath string, opts PlayOptions, logger *slog.Logger) *Pipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipe{
		soxPath: soxPath,
		opts:    opts,
		logger:  logger.With("group", "AudioStream"),
		meta:    make(map[string]string),
	}
}

// OnTime registers the time-position callback. Must be set before Start.
func (p *Pipe) OnTime(fn func(model.TimePosition)) { p.onTime = fn }

// OnClose registers the subprocess-exit callback. Must be set before
// Start. err is nil on a clean end of stream.
func (p *Pipe) OnClose(fn func(err error)) { p.onClose = fn }

// Args returns the subprocess argument list for the configured options.
func (p *Pipe) Args() []string {
	var args []string
	if p.opts.Type == "mp3" {
		args = append(args, "-t", "mp3")
	}
	args = append(args, "-")
	if p.opts.Start > 0 || p.opts.End > 0 {
		args = append(args, "trim", formatSeconds(p.opts.Start))
		if p.opts.End > 0 {
			args = append(args, formatSeconds(p.opts.End))
		}
	}
	return args
}

// Start spawns the subprocess and begins piping the file into it.
func (p *Pipe) Start(file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}

	cmd := exec.Command(p.soxPath, p.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		f.Close()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.Close()
		return err
	}
	if err := cmd.Start(); err != nil {
		f.Close()
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.file = f
	p.mu.Unlock()

	go p.scanProgress(stderr)

	go func() {
		// a broken pipe here only means the subprocess went away first
		_, copyErr := io.Copy(stdin, f)
		stdin.Close()
		waitErr := cmd.Wait()

		p.mu.Lock()
		destroyed := p.destroyed
		p.mu.Unlock()
		if destroyed {
			return
		}

		err := waitErr
		if err == nil && copyErr != nil && !isBrokenPipe(copyErr) {
			err = copyErr
		}
		if p.onClose != nil {
			p.onClose(err)
		}
	}()

	return nil
}

// scanProgress parses the subprocess's status stream. Header lines
// carry metadata (duration in particular); progress lines rewrite the
// current position, e.g. "In:12.3% 00:00:02.00 [00:03:58.24] ...".
func (p *Pipe) scanProgress(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanStatusLines)

	for scanner.Scan() {
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}

		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			return
		}

		if !strings.HasPrefix(msg, "In:") {
			parts := strings.Split(strings.ReplaceAll(msg, "\n", ": "), ": ")
			for i, part := range parts {
				key := strings.ToLower(strings.TrimSpace(part))
				if metaProps[key] && i+1 < len(parts) {
					p.meta[key] = strings.TrimSpace(parts[i+1])
				}
			}
			if d, ok := p.meta["duration"]; ok {
				p.duration = timeStringToSeconds(strings.Fields(d)[0])
			}
		}

		fields := strings.Fields(msg)
		if len(fields) > 1 {
			p.currentTime = timeStringToSeconds(fields[1])
		}
		pos := model.TimePosition{Time: p.currentTime, Duration: p.duration}
		p.mu.Unlock()

		if p.onTime != nil {
			p.onTime(pos)
		}
	}
}

// Destroy kills the subprocess and suppresses further callbacks.
// Safe to call repeatedly.
func (p *Pipe) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	cmd := p.cmd
	f := p.file
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	if f != nil {
		f.Close()
	}
}

// CurrentTime returns the last parsed position in seconds.
func (p *Pipe) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentTime
}

// Duration returns the stream duration in seconds, when known.
func (p *Pipe) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// scanStatusLines splits on \r as well as \n; sox rewrites its progress
// line with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// timeStringToSeconds converts "00:04:02.24" style stamps to seconds.
func timeStringToSeconds(stamp string) float64 {
	parts := strings.Split(stamp, ":")
	var total float64
	for i := len(parts) - 1; i >= 0; i-- {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return total
		}
		factor := float64(60 * (len(parts) - 1 - i))
		if factor == 0 {
			factor = 1
		}
		total += v * factor
	}
	return total
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isBrokenPipe(err error) bool {
	return err != nil && strings.Contains(err.Error(), "broken pipe")
}
