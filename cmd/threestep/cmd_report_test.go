package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/threestep/internal/config"
	"github.com/nvandessel/threestep/internal/export"
	"github.com/nvandessel/threestep/internal/report"
	"github.com/nvandessel/threestep/internal/store"
)

func latestGenerationID(t *testing.T, root string) string {
	t.Helper()
	s, err := store.NewSQLiteStore(root)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	summaries, err := s.ListGenerations(context.Background(), 1)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("ListGenerations() = %v, %v", summaries, err)
	}
	return summaries[0].ID
}

func TestReportCmd(t *testing.T) {
	isolateHome(t)
	root := generateInto(t)

	out, err := runCmd(t, "report", "--root", root, "--json")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	var summaries []report.Summary
	decodeJSON(t, out, &summaries)
	if len(summaries) != 2 || summaries[0].Name != "main_three" || summaries[0].Trials != 40 {
		t.Errorf("summaries = %+v", summaries)
	}

	out, err = runCmd(t, "report", "--root", root, "--group", "practice", "--format", "markdown")
	if err != nil {
		t.Fatalf("report --format markdown failed: %v", err)
	}
	if !strings.Contains(out, "| practice") || strings.Contains(out, "main_three") {
		t.Errorf("markdown report:\n%s", out)
	}
}

func TestReportCmd_FromGeneration(t *testing.T) {
	isolateHome(t)
	root := generateInto(t)
	id := latestGenerationID(t, root)

	out, err := runCmd(t, "report", "--root", root, "--generation", id[:6], "--json")
	if err != nil {
		t.Fatalf("report --generation failed: %v", err)
	}
	var summaries []report.Summary
	decodeJSON(t, out, &summaries)
	if len(summaries) != 2 {
		t.Errorf("got %d summaries, want 2", len(summaries))
	}

	if _, err := runCmd(t, "report", filepath.Join(root, "trials.json"), "--root", root, "--generation", id); err == nil {
		t.Error("expected error combining a file with --generation")
	}
	if _, err := runCmd(t, "report", "--root", root, "--format", "html"); err == nil {
		t.Error("expected error for an unknown format")
	}
}

func TestExportCmd(t *testing.T) {
	isolateHome(t)
	root := generateInto(t)
	arrowPath := filepath.Join(t.TempDir(), "out", "trials.arrow")

	out, err := runCmd(t, "export", "--root", root, "--out", arrowPath, "--json")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var result map[string]any
	decodeJSON(t, out, &result)
	if result["rows"] != float64(50) || result["trial_types"] != float64(2) {
		t.Errorf("result = %v", result)
	}

	rows, err := export.ReadFile(arrowPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(rows) != 50 {
		t.Errorf("exported %d rows, want 50", len(rows))
	}

	genPath := filepath.Join(t.TempDir(), "gen.arrow")
	if _, err := runCmd(t, "export", "--root", root, "--generation", latestGenerationID(t, root), "-o", genPath); err != nil {
		t.Fatalf("export --generation failed: %v", err)
	}
	if rows, err := export.ReadFile(genPath); err != nil || len(rows) != 50 {
		t.Errorf("generation export = %d rows, %v", len(rows), err)
	}

	if _, err := runCmd(t, "export", "--root", root); err == nil {
		t.Error("expected error without --out")
	}
}

func TestReportCmd_HistoryDisabled(t *testing.T) {
	home := isolateHome(t)
	root := generateInto(t)

	cfg := config.Default()
	cfg.Store.Enabled = false
	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := runCmd(t, "report", "--root", root, "--generation", "abc"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("error = %v, want history disabled (home %s)", err, home)
	}
}
