package fitness

import (
	"strconv"
	"strings"

	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/scale"
)

// Breakdown lists the terms of the heuristic score.
type Breakdown struct {
	PitchRange        int     `json:"pitch_range"`
	ContourChanges    int     `json:"contour_changes"`
	RepetitionPenalty int     `json:"repetition_penalty"`
	ScaleConformance  int     `json:"scale_conformance"`
	RhythmicVariety   int     `json:"rhythmic_variety"`
	DiversityScore    int     `json:"diversity_score"`
	Score             float64 `json:"score"`
}

// Heuristic returns Analyze(m).Score.
func Heuristic(m melody.Melody) float64 {
	return Analyze(m).Score
}

// Analyze computes
//
//	range + contour changes - repetitions - out-of-scale degrees
//	+ distinct durations - diversity
//
// over all voices flattened in voice order. Diversity is the sum of the
// distinct halved contour steps, distinct interval classes, distinct pitches
// and distinct (voice, beat) pairs, so coherent melodies outscore novel ones.
func Analyze(m melody.Melody) Breakdown {
	modulus := scale.DegreeModulus()

	var notes []int
	for _, voice := range m.Pitches {
		notes = append(notes, voice...)
	}

	var b Breakdown
	if len(notes) > 0 {
		lo, hi := notes[0], notes[0]
		for _, n := range notes[1:] {
			lo = min(lo, n)
			hi = max(hi, n)
		}
		b.PitchRange = hi - lo
	}

	contours := make(map[int]struct{})
	intervals := make(map[int]struct{})
	for i := 1; i < len(notes); i++ {
		delta := notes[i] - notes[i-1]
		if delta != 0 {
			b.ContourChanges++
		} else {
			b.RepetitionPenalty++
		}
		contours[floorDiv(delta, 2)] = struct{}{}
		intervals[abs(delta)%modulus] = struct{}{}
	}

	for _, n := range notes {
		degree := n % modulus
		if degree < 0 || degree >= modulus {
			b.ScaleConformance++
		}
	}

	durations := make(map[float64]struct{}, len(m.Beats))
	for _, beat := range m.Beats {
		durations[beat] = struct{}{}
	}
	b.RhythmicVariety = len(durations)

	pitches := make(map[int]struct{}, len(notes))
	for _, n := range notes {
		pitches[n] = struct{}{}
	}

	// Voice s is paired with beat s, for as many pairs as both sides allow.
	patterns := make(map[string]struct{})
	for s := 0; s < len(m.Pitches) && s < len(m.Beats); s++ {
		patterns[patternKey(m.Pitches[s], m.Beats[s])] = struct{}{}
	}

	b.DiversityScore = len(contours) + len(intervals) + len(pitches) + len(patterns)
	b.Score = float64(b.PitchRange + b.ContourChanges - b.RepetitionPenalty - b.ScaleConformance + b.RhythmicVariety - b.DiversityScore)
	return b
}

func patternKey(voice []int, beat float64) string {
	var sb strings.Builder
	for i, p := range voice {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(p))
	}
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatFloat(beat, 'g', -1, 64))
	return sb.String()
}

// floorDiv rounds toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
