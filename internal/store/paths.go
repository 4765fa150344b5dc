package store

import (
	"path/filepath"
)

// StateDirName is the per-project state directory.
const StateDirName = ".threestep"

// DBFileName is the history database inside the state directory.
const DBFileName = "threestep.db"

// StateDir returns the .threestep directory for the given project root.
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName)
}

// DefaultDBPath returns <projectRoot>/.threestep/threestep.db.
func DefaultDBPath(projectRoot string) string {
	return filepath.Join(StateDir(projectRoot), DBFileName)
}
