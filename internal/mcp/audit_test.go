package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/threestep/internal/store"
)

func readEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestAuditLogger_NilSafety(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditEntry{Tool: "test"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger returned error: %v", err)
	}
}

func TestAuditLogger_RoutesByScope(t *testing.T) {
	localDir := t.TempDir()
	globalDir := t.TempDir()
	logger := NewAuditLogger(localDir, globalDir)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	defer logger.Close()

	logger.Log(AuditEntry{Tool: "threestep_generate", Scope: ScopeLocal, Status: "success", DurationMs: 42})
	logger.Log(AuditEntry{Tool: "threestep_verify", Scope: ScopeGlobal, Status: "success"})
	logger.Log(AuditEntry{Tool: "threestep_history", Status: "success"})

	local := readEntries(t, filepath.Join(localDir, AuditFile))
	global := readEntries(t, filepath.Join(globalDir, AuditFile))

	if len(local) != 2 || local[0].Tool != "threestep_generate" || local[1].Tool != "threestep_history" {
		t.Errorf("local entries = %+v", local)
	}
	if local[0].DurationMs != 42 {
		t.Errorf("duration_ms = %d, want 42", local[0].DurationMs)
	}
	if len(global) != 1 || global[0].Tool != "threestep_verify" {
		t.Errorf("global entries = %+v", global)
	}
}

func TestAuditLogger_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	logger := NewAuditLogger(dir, t.TempDir())
	defer logger.Close()
	logger.Log(AuditEntry{Tool: "t"})

	info, err := os.Stat(filepath.Join(dir, AuditFile))
	if err != nil {
		t.Fatalf("stat audit log: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("audit log permissions = %o, want 600", perm)
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir, t.TempDir())
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "threestep_simulate", Status: "success"})
		}()
	}
	wg.Wait()

	if n := len(readEntries(t, filepath.Join(dir, AuditFile))); n != 50 {
		t.Errorf("got %d entries, want 50", n)
	}
}

func TestAuditLogger_BadPaths(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	good := t.TempDir()
	logger := NewAuditLogger(blocker, good)
	if logger == nil {
		t.Fatal("expected non-nil logger when one path is valid")
	}
	logger.Log(AuditEntry{Tool: "dropped", Scope: ScopeLocal})
	logger.Log(AuditEntry{Tool: "kept", Scope: ScopeGlobal})
	logger.Close()

	entries := readEntries(t, filepath.Join(good, AuditFile))
	if len(entries) != 1 || entries[0].Tool != "kept" {
		t.Errorf("entries = %+v", entries)
	}

	if l := NewAuditLogger(blocker, blocker); l != nil {
		l.Close()
		t.Error("expected nil logger when both paths are bad")
	}
}

func TestSanitizeToolParams(t *testing.T) {
	got := sanitizeToolParams(map[string]any{
		"seed":         3691,
		"policy":       "goal",
		"output_path":  "/home/user/private/trials.json",
		"params_file":  "params.yaml",
		"unknown_flag": "should not appear",
	})

	want := map[string]string{
		"seed":         "3691",
		"policy":       "goal",
		"output_path":  "(set)",
		"params_file":  "(set)",
		"_param_count": "5",
	}
	if len(got) != len(want) {
		t.Errorf("sanitizeToolParams() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	if sanitizeToolParams(nil) != nil {
		t.Error("nil params should sanitize to nil")
	}
}

func TestAuditTool_FromHandlers(t *testing.T) {
	server, tmpDir := setupTestServer(t)

	if _, _, err := server.handleHistory(context.Background(), nil, HistoryInput{Limit: 3}); err != nil {
		t.Fatalf("handleHistory failed: %v", err)
	}
	_, _, _ = server.handleVerify(context.Background(), nil, VerifyInput{Path: "missing.json"})

	entries := readEntries(t, filepath.Join(store.StateDir(tmpDir), AuditFile))
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	if entries[0].Tool != "threestep_history" || entries[0].Status != "success" || entries[0].Params["limit"] != "3" {
		t.Errorf("history entry = %+v", entries[0])
	}
	if entries[1].Tool != "threestep_verify" || entries[1].Status != "error" || entries[1].Params["path"] != "(set)" {
		t.Errorf("verify entry = %+v", entries[1])
	}
	if entries[1].Timestamp.After(time.Now()) {
		t.Error("entry timestamp is in the future")
	}
}

func TestAuditTool_GlobalScope(t *testing.T) {
	server, _ := setupTestServer(t)
	home := os.Getenv("HOME")

	out := generate(t, server, GenerateInput{
		TrialTypes: []TrialTypeInput{{Name: "a", Number: 5}},
		OutputPath: filepath.Join(home, ".threestep", "trials.json"),
	})
	if out.TrialsPath == "" {
		t.Fatal("trial file not written")
	}

	entries := readEntries(t, filepath.Join(home, ".threestep", AuditFile))
	if len(entries) != 1 || entries[0].Tool != "threestep_generate" || entries[0].Scope != ScopeGlobal {
		t.Errorf("global entries = %+v", entries)
	}
}
