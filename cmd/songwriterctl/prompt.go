package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	api "github.com/tudstk/songwriter-copilot/pkg/songwriter"
)

// newHooks wires a run to the terminal: generations are printed as they are
// written, and without a generation limit the user is asked whether to go on.
// In rating mode every melody is rated on stdin before the next generation.
func newHooks(client *api.Client, gens int, previews bool, logger *slog.Logger) api.RunHooks {
	p := &prompter{in: bufio.NewReader(stdin), out: stdout}
	hooks := api.RunHooks{
		OnGeneration: func(g api.GenerationSummary) {
			fmt.Fprintf(stdout, "generation=%d best=%.3f mean=%.3f elapsed=%s dir=%s\n",
				g.Generation, g.BestFitness, g.MeanFitness, g.Elapsed, g.Directory)
			for _, a := range g.Artifacts {
				fmt.Fprintf(stdout, "  rank=%d fitness=%.3f file=%s\n", a.Rank, a.Fitness, a.Path)
			}
			logger.Debug("generation written", "run_id", g.RunID, "generation", g.Generation, "artifacts", len(g.Artifacts))
			if !previews {
				return
			}
			paths, err := client.WritePreviews(context.Background(), g.RunID, g.Generation)
			if err != nil {
				logger.Warn("preview rendering failed", "run_id", g.RunID, "generation", g.Generation, "error", err)
				return
			}
			logger.Info("previews written", "generation", g.Generation, "count", len(paths))
		},
		Rate: func(_ context.Context, g api.GenerationSummary) (map[string]int, error) {
			return p.rate(g)
		},
	}
	if gens <= 0 {
		hooks.Continue = func(api.GenerationSummary) (bool, error) {
			return p.confirm("Continue? [Y/n] ")
		}
	}
	return hooks
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) readLine(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm declines only on "n" or "no"; anything else, empty included, goes
// on. End of input stops the run.
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.readLine(question)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "n", "no":
		return false, nil
	default:
		return true, nil
	}
}

// rate asks for an integer rating per melody. An empty answer rates 0 and an
// invalid one is asked again.
func (p *prompter) rate(g api.GenerationSummary) (map[string]int, error) {
	scores := make(map[string]int, len(g.Artifacts))
	for _, a := range g.Artifacts {
		for {
			answer, err := p.readLine(fmt.Sprintf("Rating for %s: ", a.Name))
			if err != nil {
				return nil, fmt.Errorf("read rating for %s: %w", a.Name, err)
			}
			if answer == "" {
				scores[a.Name] = 0
				break
			}
			score, err := strconv.Atoi(answer)
			if err != nil {
				fmt.Fprintf(p.out, "invalid rating %q, enter an integer\n", answer)
				continue
			}
			scores[a.Name] = score
			break
		}
	}
	return scores, nil
}
