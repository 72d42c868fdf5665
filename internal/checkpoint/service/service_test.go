package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpointd/checkpointd/internal/checkpoint/cache"
	"github.com/checkpointd/checkpointd/internal/checkpoint/cleanup"
	"github.com/checkpointd/checkpointd/internal/checkpoint/diff"
	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	apperrors "github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/common/logger"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: make(map[string]string)}
}

func (s *scriptedRunner) on(stdout string, args ...string) {
	s.responses[strings.Join(args, " ")] = stdout
}

func (s *scriptedRunner) Run(_ context.Context, args ...string) (string, string, error) {
	key := strings.Join(args, " ")
	s.mu.Lock()
	s.calls = append(s.calls, key)
	stdout, ok := s.responses[key]
	s.mu.Unlock()
	if !ok {
		return "", "fatal: unscripted command", errors.New("exit status 128")
	}
	return stdout, "", nil
}

func (s *scriptedRunner) CommandString(args ...string) string {
	return "git " + strings.Join(args, " ")
}

func (s *scriptedRunner) callCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if strings.Contains(call, substr) {
			n++
		}
	}
	return n
}

type staticBoundaries struct {
	boundaries []conversation.SubtaskBoundary
}

func (s *staticBoundaries) SubtaskBoundaries(context.Context, string) ([]conversation.SubtaskBoundary, error) {
	return s.boundaries, nil
}

type testEnv struct {
	svc      *Service
	runner   *scriptedRunner
	root     string
	cacheDir string
	gitDir   string
}

func newTestEnv(t *testing.T, boundaries conversation.BoundarySource) *testEnv {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	root := t.TempDir()
	cacheDir := t.TempDir()
	runner := newScriptedRunner()

	gitDir := filepath.Join(root, "ws1", discovery.GitDirActive)
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	runner.on(strings.Join([]string{
		"bbb|checkpoint-ws1-42|2026-01-02T10:00:00+00:00",
		"aaa|checkpoint-ws1-42|2026-01-02T09:00:00+00:00",
	}, "\n"), "--git-dir", gitDir, "log", "--all", "--pretty=format:%H|%s|%aI")

	scanner := discovery.NewScanner(root, runner, log)
	engine := diff.NewEngine(runner, scanner, log)
	cleaner := cleanup.NewCleaner(runner, log)
	store := cache.NewStore(cacheDir, log)
	if boundaries == nil {
		boundaries = &staticBoundaries{}
	}

	svc := New(scanner, engine, cleaner, boundaries, store,
		filepath.Join(cacheDir, "changesignore.yaml"), log)

	return &testEnv{svc: svc, runner: runner, root: root, cacheDir: cacheDir, gitDir: gitDir}
}

func TestListWorkspacesCachesAcrossCalls(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	resp, err := env.svc.ListWorkspaces(ctx, false)
	require.NoError(t, err)
	require.Len(t, resp.Workspaces, 1)
	assert.Equal(t, "ws1", resp.Workspaces[0].ID)
	assert.Equal(t, env.root, resp.CheckpointsRoot)

	scansAfterFirst := env.runner.callCount("log --all")

	// Second non-forced call is served from memory.
	_, err = env.svc.ListWorkspaces(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, scansAfterFirst, env.runner.callCount("log --all"))

	// Forced refresh scans again.
	_, err = env.svc.ListWorkspaces(ctx, true)
	require.NoError(t, err)
	assert.Greater(t, env.runner.callCount("log --all"), scansAfterFirst)
}

func TestListWorkspacesWritesDiskCache(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.ListWorkspaces(context.Background(), false)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(env.cacheDir, cache.WorkspacesFile()))
	assert.NoError(t, statErr)
}

func TestServiceSeedsWorkspaceIndexFromDisk(t *testing.T) {
	// First service instance populates the disk cache.
	env := newTestEnv(t, nil)
	_, err := env.svc.ListWorkspaces(context.Background(), false)
	require.NoError(t, err)

	// A second instance sharing the cache dir starts warm: no git calls.
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	runner := newScriptedRunner()
	scanner := discovery.NewScanner(env.root, runner, log)
	svc := New(scanner, diff.NewEngine(runner, scanner, log), cleanup.NewCleaner(runner, log),
		&staticBoundaries{}, cache.NewStore(env.cacheDir, log),
		filepath.Join(env.cacheDir, "changesignore.yaml"), log)

	resp, err := svc.ListWorkspaces(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, resp.Workspaces, 1)
	assert.Equal(t, "ws1", resp.Workspaces[0].ID)
	assert.Empty(t, runner.calls, "seeded index serves without any git invocation")
}

func TestListTasksAndSteps(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Per-commit file listings for task enumeration.
	env.runner.on("a.go", "--git-dir", env.gitDir, "diff", "--name-only", "aaa^..aaa")
	env.runner.on("a.go\nb.go", "--git-dir", env.gitDir, "diff", "--name-only", "bbb^..bbb")

	tasks, err := env.svc.ListTasks(ctx, "ws1", false)
	require.NoError(t, err)
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, "42", tasks.Tasks[0].TaskID)
	assert.Equal(t, 2, tasks.Tasks[0].Steps)
	assert.Equal(t, 2, tasks.Tasks[0].FilesChanged)

	steps, err := env.svc.ListSteps(ctx, "ws1", "42", false)
	require.NoError(t, err)
	require.Len(t, steps.Steps, 2)
	assert.Equal(t, "aaa", steps.Steps[0].Hash)
	assert.Equal(t, 1, steps.Steps[0].Index)

	// Both results landed in the disk cache.
	_, statErr := os.Stat(filepath.Join(env.cacheDir, cache.TasksFile("ws1")))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(env.cacheDir, cache.StepsFile("ws1", "42")))
	assert.NoError(t, statErr)
}

func TestListTasksRequiresWorkspace(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.ListTasks(context.Background(), "", false)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeBadRequest, appErr.Code)
}

func TestStepDiffUnknownWorkspace(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.StepDiff(context.Background(), "no-such-ws", "42", 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSubtaskDiffWithoutBoundaries(t *testing.T) {
	env := newTestEnv(t, &staticBoundaries{})

	_, err := env.svc.SubtaskDiff(context.Background(), "ws1", "42", 0, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "subtask boundaries")
}

func TestSubtaskDiff(t *testing.T) {
	env := newTestEnv(t, &staticBoundaries{boundaries: []conversation.SubtaskBoundary{
		{SubtaskIndex: 0, IsInitial: true, Timestamp: "2026-01-02T08:00:00+00:00"},
	}})

	env.runner.on("1\t0\tmain.go", "--git-dir", env.gitDir, "diff-tree", "--numstat", "--no-commit-id", "-r", "bbb")
	env.runner.on("patch", "--git-dir", env.gitDir, "diff-tree", "-p", "--no-commit-id", "-r", "bbb")

	result, err := env.svc.SubtaskDiff(context.Background(), "ws1", "42", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "aaa^", result.FromRef)
	assert.Equal(t, "bbb", result.ToRef)
}

func TestFileContentsValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.FileContents(ctx, "ws1", "", []string{"main.go"})
	require.Error(t, err)

	resp, err := env.svc.FileContents(ctx, "ws1", "aaa", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Files)
}

func TestNukeWorkspaceInvalidatesCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.runner.on("a.go", "--git-dir", env.gitDir, "diff", "--name-only", "aaa^..aaa")
	env.runner.on("b.go", "--git-dir", env.gitDir, "diff", "--name-only", "bbb^..bbb")
	env.runner.on("checkpoint-ws1-42\ncheckpoint-ws1-42",
		"--git-dir", env.gitDir, "log", "--all", "--pretty=format:%s")
	env.runner.on("", "init", "--bare", env.gitDir)

	// Populate every cache tier first.
	_, err := env.svc.ListWorkspaces(ctx, false)
	require.NoError(t, err)
	_, err = env.svc.ListTasks(ctx, "ws1", false)
	require.NoError(t, err)
	_, err = env.svc.ListSteps(ctx, "ws1", "42", false)
	require.NoError(t, err)

	result, err := env.svc.NukeWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.DeletedCommits)
	assert.Equal(t, 1, result.DeletedTasks)

	// Every disk document scoped to the workspace is gone.
	for _, file := range []string{
		cache.WorkspacesFile(),
		cache.TasksFile("ws1"),
		cache.StepsFile("ws1", "42"),
	} {
		_, statErr := os.Stat(filepath.Join(env.cacheDir, file))
		assert.True(t, os.IsNotExist(statErr), "expected %s to be removed", file)
	}

	// The next workspace listing rescans instead of serving the stale
	// index: the nuked repository is gone, so the workspace disappears.
	resp, err := env.svc.ListWorkspaces(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, resp.Workspaces)
}

func TestIgnoreDefaultsAndRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.svc.LoadIgnore()
	assert.Equal(t, IgnoreSourceDefaults, resp.Source)
	assert.Contains(t, resp.Patterns, "node_modules")

	saved, err := env.svc.SaveIgnore([]string{"vendor", "*.lock"})
	require.NoError(t, err)
	assert.Equal(t, IgnoreSourceFile, saved.Source)

	resp = env.svc.LoadIgnore()
	assert.Equal(t, IgnoreSourceFile, resp.Source)
	assert.Equal(t, []string{"vendor", "*.lock"}, resp.Patterns)
}

func TestMergeExcludesExplicitWins(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.SaveIgnore([]string{"vendor"})
	require.NoError(t, err)

	assert.Equal(t, []string{"dist"}, env.svc.mergeExcludes([]string{"dist"}))
	assert.Equal(t, []string{"vendor"}, env.svc.mergeExcludes(nil))
}
