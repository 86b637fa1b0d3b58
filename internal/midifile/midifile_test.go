package midifile

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/model"
)

type note struct {
	key      uint8
	velocity uint8
	start    uint32
	end      uint32
}

func readNotes(t *testing.T, data []byte) ([]note, float64, string) {
	t.Helper()
	file, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("read midi: %v", err)
	}
	if ticks, ok := file.TimeFormat.(smf.MetricTicks); !ok || ticks.Ticks4th() != TicksPerQuarter {
		t.Fatalf("unexpected time format %v", file.TimeFormat)
	}
	if len(file.Tracks) != 1 {
		t.Fatalf("expected one track, got %d", len(file.Tracks))
	}

	var (
		notes []note
		bpm   float64
		name  string
		abs   uint32
	)
	open := map[uint8]int{}
	for _, ev := range file.Tracks[0] {
		abs += ev.Delta
		var tempo float64
		if ev.Message.GetMetaTempo(&tempo) {
			bpm = tempo
		}
		var text string
		if ev.Message.GetMetaTrackName(&text) {
			name = text
		}
		var ch, key, vel uint8
		msg := midi.Message(ev.Message)
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			open[key] = len(notes)
			notes = append(notes, note{key: key, velocity: vel, start: abs})
		case msg.GetNoteEnd(&ch, &key):
			notes[open[key]].end = abs
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].start != notes[j].start {
			return notes[i].start < notes[j].start
		}
		return notes[i].key < notes[j].key
	})
	return notes, bpm, name
}

func TestEncodeWritesVoicesAndSkipsRests(t *testing.T) {
	m := melody.Melody{
		Pitches:    [][]int{{60, 60, 64}, {64, 64, 67}},
		Velocities: []int{127, 0, 127},
		Beats:      []float64{1, 0.5, 2},
	}
	data, err := Bytes(m, 120)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	notes, bpm, name := readNotes(t, data)
	if math.Abs(bpm-120) > 1e-6 {
		t.Fatalf("expected tempo 120, got %f", bpm)
	}
	if name != TrackName {
		t.Fatalf("expected track name %q, got %q", TrackName, name)
	}
	want := []note{
		{key: 60, velocity: 127, start: 0, end: 960},
		{key: 64, velocity: 127, start: 0, end: 960},
		{key: 64, velocity: 127, start: 1440, end: 3360},
		{key: 67, velocity: 127, start: 1440, end: 3360},
	}
	if len(notes) != len(want) {
		t.Fatalf("expected %d notes, got %+v", len(want), notes)
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Fatalf("note %d: got %+v want %+v", i, notes[i], want[i])
		}
	}
}

func TestEncodeDecodedGenome(t *testing.T) {
	params := melody.Params{Bars: 1, NotesPerBar: 4, Steps: 1, AllowRests: false, Key: "C", Scale: "major", ScaleRoot: 4}
	// Degrees 1, 1, 2, 3 little-endian: the first two slots merge.
	genome, err := model.ParseGenome("1000 1000 0100 1100")
	if err != nil {
		t.Fatalf("parse genome: %v", err)
	}
	m, err := melody.Decode(genome, params)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := Bytes(m, 90)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	notes, _, _ := readNotes(t, data)
	want := []note{
		{key: 62, velocity: 127, start: 0, end: 1920},
		{key: 64, velocity: 127, start: 1920, end: 2880},
		{key: 65, velocity: 127, start: 2880, end: 3840},
	}
	if len(notes) != len(want) {
		t.Fatalf("expected %d notes, got %+v", len(want), notes)
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Fatalf("note %d: got %+v want %+v", i, notes[i], want[i])
		}
	}
}

func TestEncodeRejectsTrackMismatchWithoutWriting(t *testing.T) {
	m := melody.Melody{
		Pitches:    [][]int{{60, 62}},
		Velocities: []int{127},
		Beats:      []float64{1, 1},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m, 120); !errors.Is(err, melody.ErrTrackMismatch) {
		t.Fatalf("expected track mismatch, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buf.Len())
	}

	path := filepath.Join(t.TempDir(), "bad", "major-C-0.mid")
	if err := WriteFile(path, m, 120); !errors.Is(err, melody.ErrTrackMismatch) {
		t.Fatalf("expected track mismatch, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err=%v", err)
	}
}

func TestEncodeRejectsInvalidTempo(t *testing.T) {
	m := melody.Melody{Pitches: [][]int{{60}}, Velocities: []int{127}, Beats: []float64{1}}
	if _, err := Bytes(m, 0); err == nil {
		t.Fatal("expected tempo error")
	}
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	m := melody.Melody{Pitches: [][]int{{60}}, Velocities: []int{127}, Beats: []float64{4}}
	path := filepath.Join(t.TempDir(), "1718000000", "0", "major-C-0.mid")
	if err := WriteFile(path, m, 120); err != nil {
		t.Fatalf("write file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("MThd")) {
		t.Fatalf("expected SMF header, got %q", data[:4])
	}
}
