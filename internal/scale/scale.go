// Package scale provides ordered scale-degree tables (absolute MIDI pitches)
// for a key, a scale name and an octave root.
package scale

import (
	"errors"
	"fmt"
	"sync"
)

// Octaves is the number of octaves spanned by every table.
const Octaves = 2

var (
	ErrUnknownKey   = errors.New("unknown key")
	ErrUnknownScale = errors.New("unknown scale")
	ErrOutOfRange   = errors.New("scale table exceeds midi pitch range")
)

var keyNames = []string{"C", "C#", "Db", "D", "D#", "Eb", "E", "F", "F#", "Gb", "G", "G#", "Ab", "A", "A#", "Bb", "B"}

var keyOffsets = map[string]int{
	"C": 0, "C#": 1, "Db": 1, "D": 2, "D#": 3, "Eb": 3, "E": 4, "F": 5,
	"F#": 6, "Gb": 6, "G": 7, "G#": 8, "Ab": 8, "A": 9, "A#": 10, "Bb": 10, "B": 11,
}

var scaleNames = []string{"major", "minorM", "dorian", "phrygian", "lydian", "mixolydian", "majorBlues", "minorBlues"}

// Semitone steps from the tonic.
var intervals = map[string][]int{
	"major":      {0, 2, 4, 5, 7, 9, 11},
	"minorM":     {0, 2, 3, 5, 7, 9, 11},
	"dorian":     {0, 2, 3, 5, 7, 9, 10},
	"phrygian":   {0, 1, 3, 5, 7, 8, 10},
	"lydian":     {0, 2, 4, 6, 7, 9, 11},
	"mixolydian": {0, 2, 4, 5, 7, 9, 10},
	"majorBlues": {0, 2, 3, 4, 7, 9},
	"minorBlues": {0, 3, 5, 6, 7, 10},
}

type tableKey struct {
	key   string
	scale string
	root  int
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[tableKey][]int)
)

// Keys returns the supported key names in catalogue order.
func Keys() []string {
	return append([]string(nil), keyNames...)
}

// Names returns the supported scale names in catalogue order.
func Names() []string {
	return append([]string(nil), scaleNames...)
}

// DegreeModulus is the modulus the heuristic scorer uses for degree and
// interval classes: the size of the scale catalogue.
func DegreeModulus() int {
	return len(scaleNames)
}

// ValidKey reports whether key is in the catalogue.
func ValidKey(key string) bool {
	_, ok := keyOffsets[key]
	return ok
}

// ValidScale reports whether name is in the catalogue.
func ValidScale(name string) bool {
	_, ok := intervals[name]
	return ok
}

// Table returns the ordered absolute pitches of the scale starting at octave
// root (root 4 puts middle C at 60). The returned slice is shared; callers
// must not modify it.
func Table(key, name string, root int) ([]int, error) {
	k := tableKey{key: key, scale: name, root: root}

	cacheMu.RLock()
	table, ok := cache[k]
	cacheMu.RUnlock()
	if ok {
		return table, nil
	}

	offset, ok := keyOffsets[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	steps, ok := intervals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScale, name)
	}

	base := 12*(root+1) + offset
	table = make([]int, 0, len(steps)*Octaves)
	for octave := 0; octave < Octaves; octave++ {
		for _, step := range steps {
			pitch := base + 12*octave + step
			if pitch < 0 || pitch > 127 {
				return nil, fmt.Errorf("%w: key=%s scale=%s root=%d", ErrOutOfRange, key, name, root)
			}
			table = append(table, pitch)
		}
	}

	cacheMu.Lock()
	cache[k] = table
	cacheMu.Unlock()
	return table, nil
}
