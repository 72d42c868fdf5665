package conversation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// FileSource reads boundary records from pre-extracted JSON documents, one
// file per task, named "<taskID>.json". The documents are produced by the
// conversation-log parser upstream; this source never touches the raw logs.
type FileSource struct {
	dir string
	log *logger.Logger
}

// NewFileSource creates a FileSource reading from dir.
func NewFileSource(dir string, log *logger.Logger) *FileSource {
	return &FileSource{dir: dir, log: log}
}

// SubtaskBoundaries returns the ordered boundaries for taskID. A missing
// document means the task has no conversation data: (nil, nil).
func (s *FileSource) SubtaskBoundaries(_ context.Context, taskID string) ([]SubtaskBoundary, error) {
	path := filepath.Join(s.dir, taskID+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var boundaries []SubtaskBoundary
	if err := json.Unmarshal(raw, &boundaries); err != nil {
		s.log.Warn("failed to parse boundary document",
			zap.String("task_id", taskID), zap.Error(err))
		return nil, err
	}
	return boundaries, nil
}
