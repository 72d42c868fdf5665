package gitcli

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// CheckpointSubjectPrefix is the fixed prefix of checkpoint commit subjects.
// The full convention is "checkpoint-<workspaceId>-<taskId>".
const CheckpointSubjectPrefix = "checkpoint-"

// CheckpointCommit is one parsed checkpoint commit from a repository log.
type CheckpointCommit struct {
	Hash   string
	TaskID string
	// Timestamp is the ISO 8601 author date as printed by git (%aI).
	Timestamp string
}

// logFormat is machine-parseable: hash|subject|author-date-ISO.
const logFormat = "--pretty=format:%H|%s|%aI"

// ReadCheckpointCommits returns all checkpoint commits in the repository,
// newest first (git log order). Commits whose subject does not match the
// checkpoint convention are excluded.
//
// A failed invocation returns an empty slice with a logged warning; callers
// treat "no commits" and "command failed" identically (fail-open).
func ReadCheckpointCommits(ctx context.Context, runner Runner, gitDir string, log *logger.Logger) []CheckpointCommit {
	args := []string{"--git-dir", gitDir, "log", "--all", logFormat}
	stdout, stderr, err := runner.Run(ctx, args...)
	if err != nil {
		log.Warn("git log failed",
			zap.String("git_dir", gitDir),
			zap.String("stderr", stderr),
			zap.Error(err))
		return nil
	}

	var commits []CheckpointCommit
	for _, line := range strings.Split(stdout, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) < 3 {
			continue
		}

		taskID, ok := ParseCheckpointSubject(parts[1])
		if !ok {
			continue
		}

		commits = append(commits, CheckpointCommit{
			Hash:      parts[0],
			TaskID:    taskID,
			Timestamp: parts[2],
		})
	}

	return commits
}

// ParseCheckpointSubject extracts the task id from a checkpoint commit
// subject. The task id is the suffix after the LAST hyphen, so workspace ids
// containing hyphens parse correctly. Returns false for subjects that are
// not checkpoints.
func ParseCheckpointSubject(subject string) (taskID string, ok bool) {
	rest, found := strings.CutPrefix(subject, CheckpointSubjectPrefix)
	if !found {
		return "", false
	}
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return "", false
	}
	taskID = rest[idx+1:]
	if taskID == "" {
		return "", false
	}
	return taskID, true
}

// FormatCheckpointSubject reconstructs the canonical subject for a
// workspace/task pair.
func FormatCheckpointSubject(workspaceID, taskID string) string {
	return CheckpointSubjectPrefix + workspaceID + "-" + taskID
}
