package platform

import (
	"context"
	"sync"
	"time"

	"github.com/tudstk/songwriter-copilot/internal/config"
	"github.com/tudstk/songwriter-copilot/internal/evo"
	"github.com/tudstk/songwriter-copilot/internal/model"
	"github.com/tudstk/songwriter-copilot/internal/ratings"
)

// Session is one live evolution run. Generations are produced one at a time
// through Studio.Advance.
type Session struct {
	ID        string
	Dir       string
	Config    config.Run
	Ratings   ratings.Store
	CreatedAt time.Time

	mu          sync.Mutex
	driver      *evo.Driver
	generations int
	bestFitness float64
	last        *model.Generation
}

// Summary is a read-only view of a session.
type Summary struct {
	RunID          string                       `json:"run_id"`
	Directory      string                       `json:"directory"`
	CreatedAtUTC   time.Time                    `json:"created_at_utc"`
	Config         config.Run                   `json:"config"`
	Generations    int                          `json:"generations"`
	NextGeneration int                          `json:"next_generation"`
	BestFitness    float64                      `json:"best_fitness"`
	PendingRatings int                          `json:"pending_ratings"`
	Last           *model.GenerationDiagnostics `json:"last,omitempty"`
}

func (s *Session) Summary(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	summary := Summary{
		RunID:          s.ID,
		Directory:      s.Dir,
		CreatedAtUTC:   s.CreatedAt,
		Config:         s.Config,
		Generations:    s.generations,
		NextGeneration: s.driver.NextID(),
		BestFitness:    s.bestFitness,
	}
	if s.last != nil {
		diag := s.last.Diagnostics
		summary.Last = &diag
	}
	s.mu.Unlock()

	pending, err := s.Ratings.Len(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary.PendingRatings = pending
	return summary, nil
}

// LastGeneration returns the most recently recorded generation.
func (s *Session) LastGeneration() (model.Generation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return model.Generation{}, false
	}
	out := *s.last
	out.Ranked = append([]model.RankedGenome(nil), s.last.Ranked...)
	return out, true
}
