package preview

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tudstk/songwriter-copilot/internal/melody"
)

func testMelody() melody.Melody {
	return melody.Melody{
		Pitches:    [][]int{{60, 60, 67}, {64, 64, 71}},
		Velocities: []int{127, 0, 127},
		Beats:      []float64{1, 0.5, 0.5},
	}
}

func TestFrequency(t *testing.T) {
	if got := Frequency(69); got != 440 {
		t.Fatalf("A4 = %f, want 440", got)
	}
	if got := Frequency(57); math.Abs(got-220) > 1e-9 {
		t.Fatalf("A3 = %f, want 220", got)
	}
	if got := Frequency(60); math.Abs(got-261.6256) > 1e-3 {
		t.Fatalf("C4 = %f, want 261.626", got)
	}
}

func TestRenderLengthAndRange(t *testing.T) {
	opts := Options{SampleRate: 8000}
	s, total, err := Render(testMelody(), 120, opts)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// Two beats at 120 bpm is one second.
	if total != 8000 {
		t.Fatalf("expected 8000 samples, got %d", total)
	}

	buf := make([][2]float64, 333)
	streamed := 0
	silentRest := true
	for {
		n, ok := s.Stream(buf)
		for i := 0; i < n; i++ {
			pos := streamed + i
			for _, v := range buf[i] {
				if v < -1 || v > 1 {
					t.Fatalf("sample %d out of range: %f", pos, v)
				}
				// The rest spans samples [4000, 6000).
				if pos >= 4000 && pos < 6000 && v != 0 {
					silentRest = false
				}
			}
		}
		streamed += n
		if !ok {
			break
		}
	}
	if streamed != total {
		t.Fatalf("streamed %d samples, want %d", streamed, total)
	}
	if !silentRest {
		t.Fatal("expected the rest to be silent")
	}
}

func TestWAVEncodesHeaderAndData(t *testing.T) {
	data, err := WAV(testMelody(), 120, Options{SampleRate: 8000})
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("unexpected header %q", data[:12])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 8000 {
		t.Fatalf("expected sample rate 8000, got %d", rate)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 2 {
		t.Fatalf("expected stereo, got %d channels", channels)
	}
	// 8000 stereo frames of 16-bit samples after a 44-byte header.
	if want := 44 + 8000*4; len(data) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(data))
	}
}

func TestRenderRejectsInvalidInput(t *testing.T) {
	bad := testMelody()
	bad.Beats = bad.Beats[:2]
	if _, _, err := Render(bad, 120, Options{}); !errors.Is(err, melody.ErrTrackMismatch) {
		t.Fatalf("expected track mismatch, got %v", err)
	}
	if _, _, err := Render(testMelody(), 0, Options{}); err == nil {
		t.Fatal("expected tempo error")
	}
}

func TestWriteSeekerPatchesEarlierBytes(t *testing.T) {
	var w writeSeeker
	if _, err := w.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Seek(1, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if _, err := w.Write([]byte("XY")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if string(w.data) != "aXYdef" {
		t.Fatalf("unexpected buffer %q", w.data)
	}
	if _, err := w.Seek(-1, 0); err == nil {
		t.Fatal("expected negative seek error")
	}
}

func TestWriteFileMatchesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.wav")
	opts := Options{SampleRate: 8000}
	if err := WriteFile(path, testMelody(), 120, opts); err != nil {
		t.Fatalf("write file: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	inMemory, err := WAV(testMelody(), 120, opts)
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	if !bytes.Equal(onDisk, inMemory) {
		t.Fatal("file and in-memory encodings differ")
	}

	missing := filepath.Join(t.TempDir(), "never.wav")
	if err := WriteFile(missing, testMelody(), -1, opts); err == nil {
		t.Fatal("expected tempo error")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("expected no file on error, got %v", err)
	}
}
