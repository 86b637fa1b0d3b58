// Package midifile writes decoded melodies as Standard MIDI Files.
package midifile

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/tudstk/songwriter-copilot/internal/melody"
)

const (
	// TicksPerQuarter is the file resolution.
	TicksPerQuarter = 960
	// TrackName is written as the sequence name of the single track.
	TrackName = "Melody"

	channel = 0
)

type event struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// Encode writes m as a single-track SMF at the given tempo. Every sounding
// event starts a note in each voice; rests only advance time. Nothing is
// written when m fails validation.
func Encode(w io.Writer, m melody.Melody, bpm float64) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if bpm <= 0 {
		return fmt.Errorf("tempo must be > 0, got %v", bpm)
	}

	var events []event
	var elapsed float64
	for i, velocity := range m.Velocities {
		start := toTicks(elapsed)
		elapsed += m.Beats[i]
		if velocity <= 0 {
			continue
		}
		end := toTicks(elapsed)
		for _, voice := range m.Pitches {
			key := voice[i]
			if key < 0 || key > 127 {
				return fmt.Errorf("pitch %d at event %d is outside the MIDI range", key, i)
			}
			events = append(events,
				event{tick: start, msg: midi.NoteOn(channel, uint8(key), uint8(min(velocity, 127)))},
				event{tick: end, off: true, msg: midi.NoteOff(channel, uint8(key))},
			)
		}
	}
	// Note-offs sort ahead of note-ons on the same tick so repeated keys
	// retrigger cleanly.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(TrackName))
	tr.Add(0, smf.MetaTempo(bpm))
	var last uint32
	for _, ev := range events {
		tr.Add(ev.tick-last, ev.msg)
		last = ev.tick
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)
	if err := s.Add(tr); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// Bytes returns the encoded file.
func Bytes(m melody.Melody, bpm float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, m, bpm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes m to path, creating parent directories as needed.
func WriteFile(path string, m melody.Melody, bpm float64) error {
	data, err := Bytes(m, bpm)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func toTicks(quarters float64) uint32 {
	return uint32(math.Round(quarters * TicksPerQuarter))
}
