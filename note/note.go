// Package note holds the pure note-name / note-number / CSV math shared
// by the playback engine, the spatial cache and the broadcast payloads.
package note

import (
	"regexp"
	"strconv"
	"strings"
)

// Flat spellings are canonical; sharps are normalized on the way in.
var names = []string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

var sharpNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Dimmable is the default set of notes eligible for dimming effects.
var Dimmable = []string{
	"C5", "D5", "E5", "F5", "Gb5", "G5", "A5", "B5",
	"C6", "E6", "F6", "Gb6", "G6", "A6", "B6",
}

var letterRe = regexp.MustCompile(`(?i)[a-g]+`)
var digitRe = regexp.MustCompile(`[0-9]`)

// Name returns the flat-spelled note name for a note number,
// e.g. Name(60) == "C4".
func Name(number int) string {
	octave := number/12 - 1
	return names[((number%12)+12)%12] + strconv.Itoa(octave)
}

// Number returns the note number for a name, e.g. Number("C4") == 60.
// An empty name maps to 0.
func Number(name string) int {
	if name == "" {
		return 0
	}
	octave, _ := strconv.Atoi(letterRe.ReplaceAllString(name, ""))
	idx := 0
	for i, n := range names {
		if strings.Contains(name, n) {
			idx = i
			break
		}
	}
	return octave*12 + 12 + idx
}

// FlatOrNatural normalizes a sharp spelling to its flat equivalent,
// leaving flats and naturals untouched.
func FlatOrNatural(name string) string {
	if !strings.ContainsAny(name, "#♯") {
		return name
	}
	base := strings.ReplaceAll(digitRe.ReplaceAllString(name, ""), "♯", "#")
	oct := digitRe.FindAllString(name, -1)
	for i, n := range sharpNames {
		if base == n {
			return names[i] + strings.Join(oct, "")
		}
	}
	return name
}

// NotesString joins a note grid into a flat CSV.
func NotesString(notes [][]string) string {
	var flat []string
	for _, row := range notes {
		flat = append(flat, row...)
	}
	return strings.Join(flat, ",")
}

// NumbersStringFromCSV converts a CSV of note names to a CSV of note
// numbers, preserving positions (empty slots stay empty).
func NumbersStringFromCSV(csv string) string {
	if csv == "" {
		return ""
	}
	parts := strings.Split(csv, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			continue
		}
		out[i] = strconv.Itoa(Number(p))
	}
	return strings.Join(out, ",")
}

// NumbersString converts a note grid to a flat CSV of note numbers.
func NumbersString(notes [][]string) string {
	return NumbersStringFromCSV(NotesString(notes))
}

// MergeAligned unions two CSV lists index by index: a populated source
// slot wins, an empty one falls through to the destination. The result
// spans the longer of the two lists.
func MergeAligned(dst, src string) string {
	dstParts := strings.Split(dst, ",")
	srcParts := strings.Split(src, ",")
	n := len(dstParts)
	if len(srcParts) > n {
		n = len(srcParts)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if i < len(dstParts) {
			out[i] = dstParts[i]
		}
		if i < len(srcParts) && srcParts[i] != "" {
			out[i] = srcParts[i]
		}
	}
	return strings.Join(out, ",")
}
