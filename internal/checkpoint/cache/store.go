package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// Disk cache file names: one JSON document per cached collection.
const workspacesFile = "workspaces.json"

// TasksFile returns the cache file name for a workspace's task list.
func TasksFile(workspaceID string) string {
	return "tasks_" + workspaceID + ".json"
}

// StepsFile returns the cache file name for one task's step list.
func StepsFile(workspaceID, taskID string) string {
	return "steps_" + workspaceID + "_" + taskID + ".json"
}

// WorkspacesFile returns the cache file name for the workspace index.
func WorkspacesFile() string {
	return workspacesFile
}

// Store is the best-effort on-disk JSON cache. Read and write failures are
// logged and treated as cache misses; they never propagate to callers,
// since the in-memory result remains authoritative.
type Store struct {
	dir string
	log *logger.Logger
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
// A store that failed to create its directory still works; every operation
// just degrades to a miss.
func NewStore(dir string, log *logger.Logger) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("failed to create cache dir", zap.String("dir", dir), zap.Error(err))
	}
	return &Store{dir: dir, log: log}
}

// Load reads and unmarshals one cached document. Returns (nil, false) on
// any failure — a lost or corrupt file is a miss, never an error.
func Load[T any](s *Store, file string) (*T, bool) {
	path := filepath.Join(s.dir, file)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Warn("failed to parse cache file, treating as miss",
			zap.String("file", file), zap.Error(err))
		return nil, false
	}
	return &data, true
}

// Save marshals and writes one cached document in place. Failures are
// logged only.
func Save[T any](s *Store, file string, data *T) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.log.Warn("failed to serialize cache file", zap.String("file", file), zap.Error(err))
		return
	}

	path := filepath.Join(s.dir, file)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.log.Warn("failed to write cache file", zap.String("file", file), zap.Error(err))
	}
}

// Remove deletes one cached document, ignoring absence.
func (s *Store) Remove(file string) {
	path := filepath.Join(s.dir, file)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove cache file", zap.String("file", file), zap.Error(err))
	}
}

// RemoveMatching deletes every cached document matching the glob pattern,
// e.g. all step lists of one workspace after a nuke.
func (s *Store) RemoveMatching(pattern string) {
	matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove cache file", zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	}
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}
