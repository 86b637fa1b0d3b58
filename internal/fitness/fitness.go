// Package fitness scores genomes, either with a deterministic melodic
// heuristic or by draining human ratings from a rating store.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tudstk/songwriter-copilot/internal/melody"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
)

const (
	ModeAutomated = "automated"
	ModeRating    = "rating"
)

var ErrNoRatingStore = errors.New("rating mode requires a rating store")

// Context carries everything an evaluator needs besides the genome.
type Context struct {
	Params  melody.Params
	Ratings ratings.Store
}

// Evaluator scores one genome.
type Evaluator interface {
	Name() string
	Score(ctx context.Context, genome model.Genome, fc Context) (float64, error)
	// Stateful reports whether Score has side effects. Stateful evaluators
	// are always called sequentially, in population order.
	Stateful() bool
}

// FromMode returns the evaluator for a fitness mode name. The one-letter
// forms used by the interactive prompt are accepted too.
func FromMode(mode string) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeAutomated, "a":
		return Automated{}, nil
	case ModeRating, "r":
		return Rating{}, nil
	default:
		return nil, fmt.Errorf("unsupported fitness mode: %s", mode)
	}
}

// NormalizeMode maps accepted aliases onto ModeAutomated or ModeRating.
func NormalizeMode(mode string) (string, error) {
	evaluator, err := FromMode(mode)
	if err != nil {
		return "", err
	}
	return evaluator.Name(), nil
}

// Automated scores the decoded melody with Heuristic.
type Automated struct{}

func (Automated) Name() string {
	return ModeAutomated
}

func (Automated) Stateful() bool {
	return false
}

func (Automated) Score(_ context.Context, genome model.Genome, fc Context) (float64, error) {
	m, err := melody.Decode(genome, fc.Params)
	if err != nil {
		return 0, err
	}
	return Heuristic(m), nil
}

// Rating consumes the pending rating with the lowest artifact index. An empty
// store scores 0; the genome itself is not inspected.
type Rating struct{}

func (Rating) Name() string {
	return ModeRating
}

func (Rating) Stateful() bool {
	return true
}

func (Rating) Score(ctx context.Context, _ model.Genome, fc Context) (float64, error) {
	if fc.Ratings == nil {
		return 0, ErrNoRatingStore
	}
	entry, ok, err := fc.Ratings.Consume(ctx)
	if err != nil {
		return 0, fmt.Errorf("consume rating: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return float64(entry.Rating), nil
}
