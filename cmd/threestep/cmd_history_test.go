package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/threestep/internal/store"
)

func TestHistoryCmd_ListShowDelete(t *testing.T) {
	isolateHome(t)
	root := generateInto(t)
	params := writeParams(t, t.TempDir(), `{"trials": [{"name": "practice", "number": 5}]}`)
	if _, err := runCmd(t, "generate", params, "--root", root, "--seed", "99"); err != nil {
		t.Fatalf("second generate failed: %v", err)
	}

	out, err := runCmd(t, "history", "list", "--root", root, "--json")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var listed struct {
		Generations []store.Summary `json:"generations"`
		Count       int             `json:"count"`
	}
	decodeJSON(t, out, &listed)
	if listed.Count != 2 {
		t.Fatalf("count = %d, want 2", listed.Count)
	}
	newest := listed.Generations[0]
	if newest.Seed != 99 || newest.Trials != 5 {
		t.Errorf("newest generation = %+v", newest)
	}

	out, err = runCmd(t, "history", "list", "--root", root, "--limit", "1")
	if err != nil {
		t.Fatalf("history list --limit failed: %v", err)
	}
	if lines := strings.Count(out, "\n"); lines != 1 {
		t.Errorf("listed %d lines with --limit 1:\n%s", lines, out)
	}

	out, err = runCmd(t, "history", "show", newest.ID[:8], "--root", root)
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	for _, want := range []string{newest.ID, "seed:               99", "✓ practice"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCmd(t, "history", "delete", newest.ID, "--root", root); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	if _, err := runCmd(t, "history", "show", newest.ID, "--root", root); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("show after delete error = %v, want ErrNotFound", err)
	}
}

func TestHistoryCmd_Empty(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()

	out, err := runCmd(t, "history", "list", "--root", root)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if !strings.Contains(out, "No generations recorded") {
		t.Errorf("output = %q", out)
	}

	out, err = runCmd(t, "history", "list", "--root", root, "--json")
	if err != nil {
		t.Fatalf("history list --json failed: %v", err)
	}
	if !strings.Contains(out, `"generations": []`) {
		t.Errorf("empty JSON listing = %s", out)
	}
}

func TestHistoryCmd_CheckAndClear(t *testing.T) {
	isolateHome(t)
	root := generateInto(t)

	out, err := runCmd(t, "history", "check", "--root", root, "--json")
	if err != nil {
		t.Fatalf("history check failed: %v", err)
	}
	var checked map[string]any
	decodeJSON(t, out, &checked)
	if checked["ok"] != true {
		t.Errorf("check result = %v", checked)
	}

	if _, err := runCmd(t, "history", "clear", "--root", root); err == nil {
		t.Error("clear without --yes should fail")
	}

	out, err = runCmd(t, "history", "clear", "--root", root, "--yes")
	if err != nil {
		t.Fatalf("history clear failed: %v", err)
	}
	if !strings.Contains(out, "Deleted 1 generations") {
		t.Errorf("clear output = %q", out)
	}

	out, err = runCmd(t, "history", "list", "--root", root)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if !strings.Contains(out, "No generations recorded") {
		t.Errorf("list after clear = %q", out)
	}
}
