// Package diff computes file-level summaries and unified patches between
// points in a task's checkpoint history.
package diff

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	"github.com/checkpointd/checkpointd/internal/checkpoint/gitcli"
	"github.com/checkpointd/checkpointd/internal/checkpoint/models"
	"github.com/checkpointd/checkpointd/internal/checkpoint/subtask"
	apperrors "github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/common/logger"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

// commandPlan pairs a primary git command with an optional fallback form.
// The fallback is tried only when the primary's exit status indicates
// failure, which covers the root-commit case (the parent reference does not
// exist) without masking real content errors on success paths.
type commandPlan struct {
	primary  []string
	fallback []string
}

// Engine computes diffs for steps, whole tasks, and subtask ranges.
type Engine struct {
	runner  gitcli.Runner
	scanner *discovery.Scanner
	log     *logger.Logger
}

// NewEngine creates a diff engine sharing the scanner's view of task
// commits and the injected git runner.
func NewEngine(runner gitcli.Runner, scanner *discovery.Scanner, log *logger.Logger) *Engine {
	return &Engine{runner: runner, scanner: scanner, log: log}
}

// StepDiff computes the diff introduced by a single step: previous step's
// commit → this step's commit, or the parent reference for step 1.
func (e *Engine) StepDiff(ctx context.Context, taskID string, stepIndex int, gitDir string) (*models.DiffResult, error) {
	commits := e.scanner.TaskCommits(ctx, taskID, gitDir)
	if len(commits) == 0 {
		return nil, apperrors.NotFound("task", taskID)
	}
	if stepIndex < 1 || stepIndex > len(commits) {
		return nil, apperrors.BadRequest(fmt.Sprintf(
			"step index %d out of range (task has %d steps)", stepIndex, len(commits)))
	}

	toRef := commits[stepIndex-1].Hash
	fromRef := toRef + "^"
	if stepIndex > 1 {
		fromRef = commits[stepIndex-2].Hash
	}

	result, err := e.computeRange(ctx, gitDir, fromRef, toRef, nil)
	if err != nil {
		return nil, err
	}

	e.log.WithTaskID(taskID).Debug("computed step diff",
		zap.Int("step", stepIndex),
		zap.Int("files", len(result.Files)),
		zap.Int("patch_bytes", len(result.Patch)))
	return result, nil
}

// TaskDiff computes the cumulative diff of a whole task: the first step's
// parent → the last step's commit.
//
// Precondition: the repository directory must currently exist. The agent
// renames it aside while actively writing, and that transient state must be
// reported distinctly from "task not found" because the correct client
// behavior differs (retry later vs give up).
func (e *Engine) TaskDiff(ctx context.Context, taskID, gitDir string, excludes []string) (*models.DiffResult, error) {
	if _, err := os.Stat(gitDir); err != nil {
		return nil, apperrors.TransientState(fmt.Sprintf(
			"checkpoint repository %s is not currently on disk (the agent may have it renamed aside)", gitDir))
	}

	commits := e.scanner.TaskCommits(ctx, taskID, gitDir)
	if len(commits) == 0 {
		return nil, apperrors.NotFound("task", taskID)
	}

	fromRef := commits[0].Hash + "^"
	toRef := commits[len(commits)-1].Hash

	result, err := e.computeRange(ctx, gitDir, fromRef, toRef, excludes)
	if err != nil {
		return nil, err
	}

	e.log.WithTaskID(taskID).Debug("computed task diff",
		zap.Int("steps", len(commits)),
		zap.Int("files", len(result.Files)))
	return result, nil
}

// SubtaskDiff computes the diff of one subtask phase by correlating its
// boundary timestamps onto the task's step range, then diffing across that
// range the same way StepDiff would for its boundary steps.
func (e *Engine) SubtaskDiff(ctx context.Context, taskID string, subtaskIndex int, gitDir string, boundaries []conversation.SubtaskBoundary, excludes []string) (*models.DiffResult, error) {
	commits := e.scanner.TaskCommits(ctx, taskID, gitDir)
	if len(commits) == 0 {
		return nil, apperrors.NotFound("task", taskID)
	}

	steps := make([]subtask.Step, len(commits))
	for i, c := range commits {
		steps[i] = subtask.Step{Index: i + 1, Timestamp: c.Timestamp}
	}

	rng, err := subtask.Correlate(boundaries, steps, subtaskIndex)
	if err != nil {
		return nil, err
	}

	toRef := commits[rng.LastStepIndex-1].Hash
	fromRef := commits[rng.FirstStepIndex-1].Hash + "^"
	if rng.FirstStepIndex > 1 {
		fromRef = commits[rng.FirstStepIndex-2].Hash
	}

	result, err := e.computeRange(ctx, gitDir, fromRef, toRef, excludes)
	if err != nil {
		return nil, err
	}

	e.log.WithTaskID(taskID).Debug("computed subtask diff",
		zap.Int("subtask", subtaskIndex),
		zap.Int("first_step", rng.FirstStepIndex),
		zap.Int("last_step", rng.LastStepIndex),
		zap.Int("files", len(result.Files)))
	return result, nil
}

// computeRange runs the numstat and patch commands for fromRef..toRef,
// falling back to the diff-tree forms when the primary fails (root commit).
// Every executed command line is recorded for auditability.
func (e *Engine) computeRange(ctx context.Context, gitDir, fromRef, toRef string, excludes []string) (*models.DiffResult, error) {
	pathspec := excludePathspec(excludes)

	numstatPlan := commandPlan{
		primary:  join([]string{"--git-dir", gitDir, "diff", "--numstat", fromRef, toRef}, pathspec),
		fallback: join([]string{"--git-dir", gitDir, "diff-tree", "--numstat", "--no-commit-id", "-r", toRef}, pathspec),
	}
	patchPlan := commandPlan{
		primary:  join([]string{"--git-dir", gitDir, "diff", fromRef, toRef}, pathspec),
		fallback: join([]string{"--git-dir", gitDir, "diff-tree", "-p", "--no-commit-id", "-r", toRef}, pathspec),
	}

	var commandsUsed []string

	numstatOut, err := e.runPlan(ctx, numstatPlan, &commandsUsed)
	if err != nil {
		return nil, err
	}
	patchOut, err := e.runPlan(ctx, patchPlan, &commandsUsed)
	if err != nil {
		return nil, err
	}

	return &models.DiffResult{
		Files:        ParseNumstat(numstatOut),
		Patch:        patchOut,
		FromRef:      fromRef,
		ToRef:        toRef,
		CommandsUsed: commandsUsed,
	}, nil
}

// runPlan executes a command plan: primary first, fallback only on primary
// failure. Both attempted command lines are appended to the audit list.
func (e *Engine) runPlan(ctx context.Context, plan commandPlan, commandsUsed *[]string) (string, error) {
	*commandsUsed = append(*commandsUsed, e.runner.CommandString(plan.primary...))
	stdout, stderr, err := e.runner.Run(ctx, plan.primary...)
	if err == nil {
		return stdout, nil
	}

	if plan.fallback == nil {
		return "", apperrors.SubprocessFailure(e.runner.CommandString(plan.primary...), stderrTail(stderr), err)
	}

	e.log.Debug("primary diff command failed, trying fallback",
		zap.String("command", e.runner.CommandString(plan.primary...)),
		zap.String("stderr", stderrTail(stderr)))

	*commandsUsed = append(*commandsUsed, e.runner.CommandString(plan.fallback...))
	stdout, stderr, err = e.runner.Run(ctx, plan.fallback...)
	if err != nil {
		return "", apperrors.SubprocessFailure(e.runner.CommandString(plan.fallback...), stderrTail(stderr), err)
	}
	return stdout, nil
}

// FileContents reads file bodies at a git ref via `git show <ref>:<path>`.
// Per-path failures (e.g. a file deleted at that ref) are reported in the
// corresponding entry, never as a request-level error.
func (e *Engine) FileContents(ctx context.Context, gitDir, ref string, paths []string) *models.FileContentsResponse {
	resp := &models.FileContentsResponse{Files: make([]models.FileContent, 0, len(paths))}

	for _, path := range paths {
		stdout, stderr, err := e.runner.Run(ctx, "--git-dir", gitDir, "show", ref+":"+path)
		if err != nil {
			resp.Files = append(resp.Files, models.FileContent{
				Path:  path,
				Error: fmt.Sprintf("not available at %s: %s", ref, stderrTail(stderr)),
			})
			resp.Failed++
			continue
		}

		content := stdout
		size := len(content)
		resp.Files = append(resp.Files, models.FileContent{
			Path:    path,
			Content: &content,
			Size:    &size,
		})
		resp.Retrieved++
		resp.TotalSize += size
	}

	return resp
}

// ParseNumstat parses `git diff --numstat` output into DiffFile entries.
// Each line is "<added>\t<removed>\t<path>"; binary files print "-" for
// both counts and are classified as modified, never added.
func ParseNumstat(output string) []models.DiffFile {
	var files []models.DiffFile
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}

		added, addedNumeric := parseCount(parts[0])
		removed, _ := parseCount(parts[1])

		status := models.FileStatusModified
		switch {
		case added > 0 && removed == 0 && addedNumeric:
			status = models.FileStatusAdded
		case removed > 0 && added == 0:
			status = models.FileStatusDeleted
		}

		files = append(files, models.DiffFile{
			Path:         parts[2],
			LinesAdded:   added,
			LinesRemoved: removed,
			Status:       status,
		})
	}
	return files
}

func parseCount(token string) (int, bool) {
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	return n, true
}

// excludePathspec renders exclusion globs as a trailing pathspec filter.
func excludePathspec(excludes []string) []string {
	if len(excludes) == 0 {
		return nil
	}
	args := []string{"--", "."}
	for _, pattern := range excludes {
		args = append(args, ":(exclude)"+pattern)
	}
	return args
}

func join(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// stderrTail keeps error messages diagnosable without dumping full output.
func stderrTail(stderr string) string {
	const max = 400
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > max {
		return "..." + stderr[len(stderr)-max:]
	}
	return stderr
}
