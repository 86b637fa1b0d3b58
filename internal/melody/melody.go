// Package melody decodes genomes into note sequences.
//
// A genome is read as consecutive 4-bit groups, one per note slot. Each group
// is a little-endian integer: values below 8 select a scale degree, values of
// 8 and above are rests (unless rests are disabled, in which case the value is
// folded into the degree range first). A slot that selects the same degree as
// the previous event extends it instead of starting a new one. Rests count as
// degree 0 for this, while a rest itself always starts a new event.
package melody

import (
	"errors"
	"fmt"

	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/scale"
)

const (
	// BitsPerNote is the width of one bit group.
	BitsPerNote = 4
	// Velocity is the fixed velocity of sounding notes.
	Velocity = 127

	restThreshold = 1 << (BitsPerNote - 1)
)

var (
	ErrTrackMismatch = errors.New("melody track length mismatch")
	ErrGenomeLength  = errors.New("genome length does not match melody parameters")
)

// Params are the musical parameters needed to decode a genome.
type Params struct {
	Bars        int    `json:"bars" toml:"bars"`
	NotesPerBar int    `json:"notes_per_bar" toml:"notes_per_bar"`
	Steps       int    `json:"steps" toml:"steps"`
	AllowRests  bool   `json:"allow_rests" toml:"allow_rests"`
	Key         string `json:"key" toml:"key"`
	Scale       string `json:"scale" toml:"scale"`
	ScaleRoot   int    `json:"scale_root" toml:"scale_root"`
}

// GenomeLength is the number of bits a genome needs for these parameters.
func (p Params) GenomeLength() int {
	return p.Bars * p.NotesPerBar * BitsPerNote
}

// NoteLength is the duration of one note slot in quarter notes.
func (p Params) NoteLength() float64 {
	return 4 / float64(p.NotesPerBar)
}

func (p Params) Validate() error {
	if p.Bars <= 0 {
		return fmt.Errorf("bars must be > 0")
	}
	if p.NotesPerBar <= 0 {
		return fmt.Errorf("notes per bar must be > 0")
	}
	if p.Steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}
	if _, err := scale.Table(p.Key, p.Scale, p.ScaleRoot); err != nil {
		return err
	}
	return nil
}

// Melody is a decoded genome. Pitches holds one sequence per voice; every
// voice shares Velocities and Beats. Degrees holds the decoded scale-degree
// index of each event before transposition (0 for rests).
type Melody struct {
	Pitches    [][]int   `json:"pitches"`
	Velocities []int     `json:"velocities"`
	Beats      []float64 `json:"beats"`
	Degrees    []int     `json:"degrees"`
}

// Len is the number of events in each voice.
func (m Melody) Len() int {
	return len(m.Beats)
}

// Duration is the total length in quarter notes.
func (m Melody) Duration() float64 {
	total := 0.0
	for _, beat := range m.Beats {
		total += beat
	}
	return total
}

// Validate checks that every voice lines up with the velocity and beat tracks.
func (m Melody) Validate() error {
	if len(m.Velocities) != len(m.Beats) {
		return fmt.Errorf("%w: %d velocities, %d beats", ErrTrackMismatch, len(m.Velocities), len(m.Beats))
	}
	for i, voice := range m.Pitches {
		if len(voice) != len(m.Beats) {
			return fmt.Errorf("%w: voice %d has %d pitches, %d beats", ErrTrackMismatch, i, len(voice), len(m.Beats))
		}
	}
	return nil
}

// IntFromBits reads bits as a little-endian unsigned integer.
func IntFromBits(bits []uint8) int {
	value := 0
	for i, bit := range bits {
		if bit != 0 {
			value |= 1 << i
		}
	}
	return value
}

// Decode converts genome into a melody using the scale table for p.
func Decode(genome model.Genome, p Params) (Melody, error) {
	table, err := scale.Table(p.Key, p.Scale, p.ScaleRoot)
	if err != nil {
		return Melody{}, err
	}
	return DecodeWithTable(genome, p, table)
}

// DecodeWithTable is Decode with a caller-supplied scale table.
func DecodeWithTable(genome model.Genome, p Params, table []int) (Melody, error) {
	if p.NotesPerBar <= 0 || p.Bars <= 0 {
		return Melody{}, fmt.Errorf("invalid melody shape: bars=%d notes_per_bar=%d", p.Bars, p.NotesPerBar)
	}
	if len(genome) != p.GenomeLength() {
		return Melody{}, fmt.Errorf("%w: got %d bits, want %d", ErrGenomeLength, len(genome), p.GenomeLength())
	}
	if len(table) == 0 {
		return Melody{}, fmt.Errorf("empty scale table")
	}

	slots := p.Bars * p.NotesPerBar
	noteLength := p.NoteLength()

	degrees := make([]int, 0, slots)
	velocities := make([]int, 0, slots)
	beats := make([]float64, 0, slots)

	for i := 0; i < slots; i++ {
		value := IntFromBits(genome[i*BitsPerNote : (i+1)*BitsPerNote])
		if !p.AllowRests {
			value %= restThreshold
		}

		if value >= restThreshold {
			degrees = append(degrees, 0)
			velocities = append(velocities, 0)
			beats = append(beats, noteLength)
			continue
		}

		// A rest is emitted as degree 0, so degree 0 right after a rest
		// lengthens the rest.
		last := len(degrees) - 1
		if last >= 0 && degrees[last] == value {
			beats[last] += noteLength
			continue
		}
		degrees = append(degrees, value)
		velocities = append(velocities, Velocity)
		beats = append(beats, noteLength)
	}

	steps := p.Steps
	if steps <= 0 {
		steps = 1
	}
	pitches := make([][]int, steps)
	for step := range pitches {
		voice := make([]int, len(degrees))
		for i, degree := range degrees {
			voice[i] = table[(degree+step*2)%len(table)]
		}
		pitches[step] = voice
	}

	m := Melody{
		Pitches:    pitches,
		Velocities: velocities,
		Beats:      beats,
		Degrees:    degrees,
	}
	if err := m.Validate(); err != nil {
		return Melody{}, err
	}
	return m, nil
}
