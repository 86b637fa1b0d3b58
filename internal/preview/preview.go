// Package preview renders decoded melodies to WAV so they can be auditioned
// before they are rated.
package preview

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/wav"

	"github.com/tudstk/songwriter-copilot/internal/melody"
)

// Options tune the synthesized preview.
type Options struct {
	SampleRate int
	// Volume is a linear master gain in (0, 1].
	Volume  float64
	Attack  time.Duration
	Release time.Duration
}

func DefaultOptions() Options {
	return Options{
		SampleRate: 44100,
		Volume:     0.8,
		Attack:     5 * time.Millisecond,
		Release:    30 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SampleRate <= 0 {
		o.SampleRate = d.SampleRate
	}
	if o.Volume <= 0 || o.Volume > 1 {
		o.Volume = d.Volume
	}
	if o.Attack < 0 {
		o.Attack = 0
	}
	if o.Release < 0 {
		o.Release = 0
	}
	return o
}

// Format is the WAV format previews are encoded with.
func (o Options) Format() beep.Format {
	return beep.Format{SampleRate: beep.SampleRate(o.withDefaults().SampleRate), NumChannels: 2, Precision: 2}
}

// Frequency converts a MIDI key number to Hz in equal temperament.
func Frequency(key int) float64 {
	return 440 * math.Pow(2, float64(key-69)/12)
}

// Render returns a streamer that plays m at bpm: every voice of a sounding
// event is a sine tone, rests are silence. The second result is the total
// length in samples.
func Render(m melody.Melody, bpm float64, opts Options) (beep.Streamer, int, error) {
	if err := m.Validate(); err != nil {
		return nil, 0, err
	}
	if bpm <= 0 {
		return nil, 0, fmt.Errorf("tempo must be > 0, got %v", bpm)
	}
	opts = opts.withDefaults()
	rate := beep.SampleRate(opts.SampleRate)
	secondsPerBeat := 60 / bpm

	segments := make([]beep.Streamer, 0, len(m.Beats))
	total := 0
	for i, beat := range m.Beats {
		d := time.Duration(beat * secondsPerBeat * float64(time.Second))
		n := rate.N(d)
		total += n
		if m.Velocities[i] <= 0 || len(m.Pitches) == 0 {
			segments = append(segments, beep.Silence(n))
			continue
		}

		amplitude := float64(m.Velocities[i]) / 127 / float64(len(m.Pitches))
		voices := make([]beep.Streamer, 0, len(m.Pitches))
		for _, voice := range m.Pitches {
			tone := newTone(Frequency(voice[i]), amplitude, n, rate)
			voices = append(voices, newEnvelope(tone, n, rate.N(opts.Attack), rate.N(opts.Release)))
		}
		segments = append(segments, beep.Take(n, beep.Mix(voices...)))
	}

	return &effects.Volume{Streamer: beep.Seq(segments...), Base: 2, Volume: math.Log2(opts.Volume)}, total, nil
}

// WriteWAV renders m and encodes it as 16-bit stereo WAV.
func WriteWAV(w io.WriteSeeker, m melody.Melody, bpm float64, opts Options) error {
	s, _, err := Render(m, bpm, opts)
	if err != nil {
		return err
	}
	if err := wav.Encode(w, s, opts.Format()); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// WriteFile renders m to a WAV file at path, creating parent directories.
func WriteFile(path string, m melody.Melody, bpm float64, opts Options) error {
	if _, _, err := Render(m, bpm, opts); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, m, bpm, opts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WAV returns the encoded preview.
func WAV(m melody.Melody, bpm float64, opts Options) ([]byte, error) {
	var buf writeSeeker
	if err := WriteWAV(&buf, m, bpm, opts); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// tone is a fixed-length sine oscillator.
type tone struct {
	freq      float64
	amplitude float64
	phase     float64
	remaining int
	rate      beep.SampleRate
}

func newTone(freq, amplitude float64, samples int, rate beep.SampleRate) *tone {
	return &tone{freq: freq, amplitude: amplitude, remaining: samples, rate: rate}
}

func (t *tone) Stream(samples [][2]float64) (n int, ok bool) {
	if t.remaining <= 0 {
		return 0, false
	}
	for i := range samples {
		if t.remaining <= 0 {
			return i, true
		}
		val := t.amplitude * math.Sin(2*math.Pi*t.phase)
		samples[i][0] = val
		samples[i][1] = val

		t.phase += t.freq / float64(t.rate)
		t.phase -= math.Floor(t.phase)
		t.remaining--
	}
	return len(samples), true
}

func (t *tone) Err() error { return nil }

// envelope fades the first attack and last release samples of a note to
// avoid clicks between notes.
type envelope struct {
	streamer beep.Streamer
	position int
	total    int
	attack   int
	release  int
}

func newEnvelope(s beep.Streamer, total, attack, release int) *envelope {
	if attack+release > total {
		attack = total / 2
		release = total - attack
	}
	return &envelope{streamer: s, total: total, attack: attack, release: release}
}

func (e *envelope) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = e.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		vol := 1.0
		if e.attack > 0 && e.position < e.attack {
			vol = float64(e.position) / float64(e.attack)
		}
		if remaining := e.total - e.position; e.release > 0 && remaining < e.release {
			vol = float64(remaining) / float64(e.release)
		}
		samples[i][0] *= vol
		samples[i][1] *= vol
		e.position++
	}
	return n, ok
}

func (e *envelope) Err() error { return e.streamer.Err() }

// writeSeeker is an in-memory io.WriteSeeker; wav.Encode seeks back to patch
// the header sizes once the stream is drained.
type writeSeeker struct {
	data []byte
	pos  int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.data) {
		w.data = append(w.data, make([]byte, end-len(w.data))...)
	}
	n := copy(w.data[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(next)
	return next, nil
}
