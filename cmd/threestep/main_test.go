package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateHome points HOME at a temp directory so tests never read or write
// the real ~/.threestep/.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	return home
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// decodeJSON unmarshals command output into v.
func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
}

// writeParams writes a parameters file into dir.
func writeParams(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "params.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing params: %v", err)
	}
	return path
}

const testParams = `{"trials": [{"name": "main_three", "number": 40}, {"name": "practice", "number": 10}]}`

// generateInto runs generate with a fixed seed and returns the project root.
func generateInto(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	params := writeParams(t, t.TempDir(), testParams)
	if _, err := runCmd(t, "generate", params, "--root", root, "--seed", "3691", "--json"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	return root
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"config", "export", "generate", "history", "mcp-server", "report", "simulate", "verify", "version"}
	have := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q does not contain version %q", out, version)
	}

	out, err = runCmd(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var got map[string]string
	decodeJSON(t, out, &got)
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}
