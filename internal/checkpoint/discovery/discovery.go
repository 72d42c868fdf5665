// Package discovery scans the checkpoints root for workspace repositories
// and enumerates the tasks and steps recorded in them.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/checkpointd/checkpointd/internal/checkpoint/gitcli"
	"github.com/checkpointd/checkpointd/internal/checkpoint/models"
	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// Repository directory names. The agent renames .git aside to .git_disabled
// while it holds the real repository elsewhere.
const (
	GitDirActive = ".git"
	GitDirPaused = ".git_disabled"
)

// scanParallelism caps concurrent per-workspace git invocations during a
// full scan.
const scanParallelism = 4

// Scanner discovers workspaces under a checkpoints root and enumerates
// their tasks and steps. All git access goes through the injected runner.
type Scanner struct {
	root   string
	runner gitcli.Runner
	log    *logger.Logger
}

// NewScanner creates a Scanner for the given checkpoints root.
func NewScanner(root string, runner gitcli.Runner, log *logger.Logger) *Scanner {
	return &Scanner{root: root, runner: runner, log: log}
}

// Root returns the checkpoints root directory being scanned.
func (s *Scanner) Root() string {
	return s.root
}

// FindWorkspaces enumerates immediate subdirectories of the checkpoints root
// that contain a checkpoint repository. An active .git takes precedence over
// a paused .git_disabled; a workspace is never both.
//
// Returned workspaces are sorted by last modified, most recent first.
// Discovery failures are fail-open: an unreadable root yields an empty list
// with a logged warning.
func (s *Scanner) FindWorkspaces(ctx context.Context) []models.Workspace {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("checkpoints root does not exist", zap.String("root", s.root))
		} else {
			s.log.Warn("failed to read checkpoints root", zap.String("root", s.root), zap.Error(err))
		}
		return nil
	}

	var (
		mu         sync.Mutex
		workspaces []models.Workspace
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wsID := entry.Name()
		wsPath := filepath.Join(s.root, wsID)

		g.Go(func() error {
			for _, candidate := range []struct {
				name   string
				active bool
			}{
				{GitDirActive, true},
				{GitDirPaused, false},
			} {
				gitDir := filepath.Join(wsPath, candidate.name)
				if _, err := os.Stat(gitDir); err != nil {
					continue
				}

				taskCount, lastModified := s.countTasksAndLatest(gctx, gitDir)
				mu.Lock()
				workspaces = append(workspaces, models.Workspace{
					ID:           wsID,
					GitDir:       gitDir,
					Active:       candidate.active,
					TaskCount:    taskCount,
					LastModified: lastModified,
				})
				mu.Unlock()
				break
			}
			return nil
		})
	}
	// Workers only return nil; the group exists for the concurrency cap.
	_ = g.Wait()

	sort.Slice(workspaces, func(i, j int) bool {
		return parseWhen(workspaces[i].LastModified).After(parseWhen(workspaces[j].LastModified))
	})

	s.log.Info("discovered checkpoint workspaces",
		zap.String("root", s.root),
		zap.Int("count", len(workspaces)))
	return workspaces
}

// countTasksAndLatest returns the distinct task-id count and the timestamp
// of the newest commit. The log reader returns commits newest-first, so the
// first entry carries the latest timestamp; this ordering is the reader's
// documented contract, not an accident of git defaults.
func (s *Scanner) countTasksAndLatest(ctx context.Context, gitDir string) (int, string) {
	commits := gitcli.ReadCheckpointCommits(ctx, s.runner, gitDir, s.log)

	taskIDs := make(map[string]struct{})
	latest := ""
	for _, c := range commits {
		taskIDs[c.TaskID] = struct{}{}
		if latest == "" {
			latest = c.Timestamp
		}
	}
	return len(taskIDs), latest
}

// ListTasks groups all checkpoint commits in a workspace by task id.
// FilesChanged per task is the size of the union of file paths touched by
// every commit in that task, one diff-to-parent call per commit.
func (s *Scanner) ListTasks(ctx context.Context, workspaceID, gitDir string) []models.TaskSummary {
	commits := gitcli.ReadCheckpointCommits(ctx, s.runner, gitDir, s.log)

	byTask := make(map[string][]gitcli.CheckpointCommit)
	for _, c := range commits {
		byTask[c.TaskID] = append(byTask[c.TaskID], c)
	}

	tasks := make([]models.TaskSummary, 0, len(byTask))
	for taskID, taskCommits := range byTask {
		files := make(map[string]struct{})
		for _, c := range taskCommits {
			for _, f := range s.filesInCommit(ctx, gitDir, c.Hash) {
				files[f] = struct{}{}
			}
		}

		// Commits arrive newest-first, so the first one is the latest.
		lastModified := ""
		if len(taskCommits) > 0 {
			lastModified = taskCommits[0].Timestamp
		}

		tasks = append(tasks, models.TaskSummary{
			TaskID:       taskID,
			WorkspaceID:  workspaceID,
			Steps:        len(taskCommits),
			FilesChanged: len(files),
			LastModified: lastModified,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		return parseWhen(tasks[i].LastModified).After(parseWhen(tasks[j].LastModified))
	})

	s.log.WithWorkspaceID(workspaceID).Info("enumerated tasks", zap.Int("count", len(tasks)))
	return tasks
}

// ListSteps returns the checkpoint steps of one task in chronological order
// (oldest first), with 1-based indices.
func (s *Scanner) ListSteps(ctx context.Context, taskID, workspaceID, gitDir string) []models.CheckpointStep {
	taskCommits := s.TaskCommits(ctx, taskID, gitDir)

	steps := make([]models.CheckpointStep, 0, len(taskCommits))
	for i, c := range taskCommits {
		steps = append(steps, models.CheckpointStep{
			Hash:         c.Hash,
			Subject:      gitcli.FormatCheckpointSubject(workspaceID, taskID),
			Timestamp:    c.Timestamp,
			FilesChanged: len(s.filesInCommit(ctx, gitDir, c.Hash)),
			Index:        i + 1,
		})
	}

	s.log.WithWorkspaceID(workspaceID).WithTaskID(taskID).
		Info("enumerated steps", zap.Int("count", len(steps)))
	return steps
}

// TaskCommits returns one task's commits in chronological order (oldest
// first). The repository log is newest-first, so the filtered slice is
// reversed; a task's commits need not be contiguous in the full log.
func (s *Scanner) TaskCommits(ctx context.Context, taskID, gitDir string) []gitcli.CheckpointCommit {
	commits := gitcli.ReadCheckpointCommits(ctx, s.runner, gitDir, s.log)

	var taskCommits []gitcli.CheckpointCommit
	for _, c := range commits {
		if c.TaskID == taskID {
			taskCommits = append(taskCommits, c)
		}
	}
	for i, j := 0, len(taskCommits)-1; i < j; i, j = i+1, j-1 {
		taskCommits[i], taskCommits[j] = taskCommits[j], taskCommits[i]
	}
	return taskCommits
}

// filesInCommit lists the paths a commit touched vs its parent. The parent
// reference fails for a root commit, in which case the diff-tree form is
// used instead.
func (s *Scanner) filesInCommit(ctx context.Context, gitDir, hash string) []string {
	stdout, _, err := s.runner.Run(ctx,
		"--git-dir", gitDir, "diff", "--name-only", hash+"^.."+hash)
	if err != nil {
		stdout, _, err = s.runner.Run(ctx,
			"--git-dir", gitDir, "diff-tree", "--no-commit-id", "--name-only", "-r", hash)
		if err != nil {
			return nil
		}
	}

	var files []string
	for _, line := range strings.Split(stdout, "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

// parseWhen parses an ISO 8601 timestamp for ordering. Unparseable values
// sort last (zero time).
func parseWhen(ts string) time.Time {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
