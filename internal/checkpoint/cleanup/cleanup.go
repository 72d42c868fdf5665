// Package cleanup destructively resets a workspace's checkpoint repository.
// The history is deleted and the repository re-created empty at the same
// path; the agent recreates checkpoints on its next task. This cannot be
// undone.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	"github.com/checkpointd/checkpointd/internal/checkpoint/gitcli"
	"github.com/checkpointd/checkpointd/internal/checkpoint/models"
	apperrors "github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// Cleaner performs workspace nukes through the injected git runner.
type Cleaner struct {
	runner gitcli.Runner
	log    *logger.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(runner gitcli.Runner, log *logger.Logger) *Cleaner {
	return &Cleaner{runner: runner, log: log}
}

// NukeWorkspace deletes a workspace's repository and re-initializes it as a
// fresh bare repository at the same path.
//
// Preconditions, checked in order, each a distinct rejection:
//  1. The repository must not be paused (.git_disabled). Pausing is exactly
//     the signal that the agent is mid-task and holds the real repository
//     elsewhere — nuking the leftover copy would corrupt its state.
//  2. The directory's last path segment must be exactly ".git", guarding
//     against deleting an unexpected target.
//  3. The path must exist.
//
// On failure no partial mutation is observable: the directory is either
// fully removed-and-recreated or left untouched. Callers own cache
// invalidation.
func (c *Cleaner) NukeWorkspace(ctx context.Context, workspaceID, gitDir string) (*models.NukeResult, error) {
	dirName := filepath.Base(gitDir)

	if dirName == discovery.GitDirPaused {
		return nil, apperrors.PreconditionRejected(fmt.Sprintf(
			"cannot nuke workspace '%s': repository is paused (%s) — the agent is actively running a task; wait for it to finish",
			workspaceID, discovery.GitDirPaused))
	}

	if dirName != discovery.GitDirActive {
		return nil, apperrors.PreconditionRejected(fmt.Sprintf(
			"cannot nuke workspace '%s': unexpected repository dir name '%s' (expected '%s')",
			workspaceID, dirName, discovery.GitDirActive))
	}

	if _, err := os.Stat(gitDir); err != nil {
		return nil, apperrors.PreconditionRejected(fmt.Sprintf(
			"cannot nuke workspace '%s': repository does not exist at '%s'", workspaceID, gitDir))
	}

	commitCount, taskCount := c.countCommitsAndTasks(ctx, gitDir)
	log := c.log.WithWorkspaceID(workspaceID)
	log.Info("nuking workspace",
		zap.Int("commits", commitCount),
		zap.Int("tasks", taskCount),
		zap.String("git_dir", gitDir))

	if err := os.RemoveAll(gitDir); err != nil {
		return nil, apperrors.InternalError(fmt.Sprintf("failed to delete repository dir '%s'", gitDir), err)
	}

	initArgs := []string{"init", "--bare", gitDir}
	gitCommand := c.runner.CommandString(initArgs...)
	if _, stderr, err := c.runner.Run(ctx, initArgs...); err != nil {
		return nil, apperrors.SubprocessFailure(gitCommand, stderr, err)
	}

	log.Info("workspace nuked and re-initialized",
		zap.Int("deleted_commits", commitCount),
		zap.Int("deleted_tasks", taskCount))

	return &models.NukeResult{
		WorkspaceID:    workspaceID,
		DeletedCommits: commitCount,
		DeletedTasks:   taskCount,
		GitCommand:     gitCommand,
		Success:        true,
	}, nil
}

// countCommitsAndTasks counts all commits and distinct checkpoint task ids
// before deletion, for the response. Best effort: a failed log yields zeros.
func (c *Cleaner) countCommitsAndTasks(ctx context.Context, gitDir string) (int, int) {
	stdout, _, err := c.runner.Run(ctx, "--git-dir", gitDir, "log", "--all", "--pretty=format:%s")
	if err != nil {
		return 0, 0
	}

	commits := 0
	taskIDs := make(map[string]struct{})
	for _, line := range strings.Split(stdout, "\n") {
		if line == "" {
			continue
		}
		commits++
		if taskID, ok := gitcli.ParseCheckpointSubject(line); ok {
			taskIDs[taskID] = struct{}{}
		}
	}
	return commits, len(taskIDs)
}
