//go:build sqlite

package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tudstk/songwriter-copilot/internal/artifacts"
)

func TestRunResumeAndGenerationsSQLite(t *testing.T) {
	out := captureIO(t, "")
	workdir := t.TempDir()
	dir := filepath.Join(workdir, "runs")
	dbPath := filepath.Join(workdir, "songwriter.db")
	storeArgs := []string{"--store", "sqlite", "--db-path", dbPath, "--out", dir}

	if err := run(context.Background(), append([]string{"init"}, storeArgs...)); err != nil {
		t.Fatalf("init command: %v", err)
	}
	args := append([]string{"run", "--bars", "2", "--pop", "6", "--gens", "2", "--seed", "11", "--workers", "2"}, storeArgs...)
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}
	entries, err := artifacts.ListRunIndex(dir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %+v", entries)
	}
	runID := entries[0].RunID

	out.Reset()
	args = append([]string{"resume", "--run-id", runID, "--gens", "2"}, storeArgs...)
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("resume command: %v", err)
	}
	if !strings.Contains(out.String(), "generations=4") {
		t.Fatalf("expected 4 generations after resume:\n%s", out.String())
	}

	out.Reset()
	args = append([]string{"generations", "--latest", "--limit", "3"}, storeArgs...)
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("generations command: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "generation=1 ") || !strings.HasPrefix(lines[2], "generation=3 ") {
		t.Fatalf("unexpected generations output:\n%s", out.String())
	}
}
