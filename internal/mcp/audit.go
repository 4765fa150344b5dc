package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditFile is the audit log name inside a state directory.
const AuditFile = "audit.jsonl"

// Audit scopes. Calls that touch files under ~/.threestep are global,
// everything else is logged with the project.
const (
	ScopeLocal  = "local"
	ScopeGlobal = "global"
)

// AuditEntry records one tool invocation. Params carries sanitized
// metadata only, never paths or file contents.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Scope      string            `json:"scope"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

type auditFile struct {
	mu   sync.Mutex
	file *os.File
}

// AuditLogger appends entries to the project and per-user audit logs.
// It is safe for concurrent use, and a nil *AuditLogger drops entries.
type AuditLogger struct {
	local  *auditFile
	global *auditFile
}

func openAuditFile(stateDir string) *auditFile {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory %s: %v\n", stateDir, err)
		return nil
	}
	path := filepath.Join(stateDir, AuditFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log %s: %v\n", path, err)
		return nil
	}
	return &auditFile{file: f}
}

func (af *auditFile) write(entry AuditEntry) {
	if af == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	af.mu.Lock()
	defer af.mu.Unlock()
	if af.file == nil {
		return
	}
	_, _ = af.file.Write(append(data, '\n'))
}

func (af *auditFile) close() error {
	if af == nil {
		return nil
	}
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// NewAuditLogger opens localDir/audit.jsonl and globalDir/audit.jsonl, where
// both arguments are state directories. A log that cannot be opened is
// skipped with a warning; if neither opens the result is nil.
func NewAuditLogger(localDir, globalDir string) *AuditLogger {
	local := openAuditFile(localDir)
	global := openAuditFile(globalDir)
	if local == nil && global == nil {
		return nil
	}
	return &AuditLogger{local: local, global: global}
}

// Log writes entry to the log matching its scope. Empty scope is local.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	if entry.Scope == ScopeGlobal {
		a.global.write(entry)
		return
	}
	a.local.write(entry)
}

// Close closes both logs.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	err := a.local.close()
	if gerr := a.global.close(); err == nil {
		err = gerr
	}
	return err
}

// safeValueParams may be logged with their values.
var safeValueParams = map[string]bool{
	"seed":           true,
	"policy":         true,
	"runs":           true,
	"group":          true,
	"limit":          true,
	"use_refinement": true,
	"compress":       true,
	"enable_plots":   true,
	"trial_types":    true,
}

// presenceOnlyParams are logged as "(set)" because they hold paths.
var presenceOnlyParams = map[string]bool{
	"params_file":   true,
	"output_path":   true,
	"checksum_path": true,
	"arrow_path":    true,
	"path":          true,
	"generation_id": true,
}

// sanitizeToolParams keeps safe values, masks paths and drops anything
// else. "_param_count" always records how many params were given.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}

	result := make(map[string]string, len(params)+1)
	for key, val := range params {
		switch {
		case safeValueParams[key]:
			result[key] = fmt.Sprintf("%v", val)
		case presenceOnlyParams[key]:
			result[key] = "(set)"
		}
	}
	result["_param_count"] = fmt.Sprintf("%d", len(params))
	return result
}

// auditTool logs a finished tool call. The deferred call sites pass the
// named error result.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]string, scope string) {
	entry := AuditEntry{
		Timestamp:  start,
		Tool:       tool,
		Scope:      scope,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "success",
		Params:     params,
	}
	if entry.Scope == "" {
		entry.Scope = ScopeLocal
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.auditLogger.Log(entry)
}
