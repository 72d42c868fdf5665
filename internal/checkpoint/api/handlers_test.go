package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkpointd/checkpointd/internal/checkpoint/cache"
	"github.com/checkpointd/checkpointd/internal/checkpoint/cleanup"
	"github.com/checkpointd/checkpointd/internal/checkpoint/diff"
	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	"github.com/checkpointd/checkpointd/internal/checkpoint/models"
	"github.com/checkpointd/checkpointd/internal/checkpoint/service"
	"github.com/checkpointd/checkpointd/internal/common/logger"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: make(map[string]string)}
}

func (s *scriptedRunner) on(stdout string, args ...string) {
	s.responses[strings.Join(args, " ")] = stdout
}

func (s *scriptedRunner) Run(_ context.Context, args ...string) (string, string, error) {
	s.mu.Lock()
	stdout, ok := s.responses[strings.Join(args, " ")]
	s.mu.Unlock()
	if !ok {
		return "", "fatal: unscripted command", errors.New("exit status 128")
	}
	return stdout, "", nil
}

func (s *scriptedRunner) CommandString(args ...string) string {
	return "git " + strings.Join(args, " ")
}

type noBoundaries struct{}

func (noBoundaries) SubtaskBoundaries(context.Context, string) ([]conversation.SubtaskBoundary, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *scriptedRunner, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	root := t.TempDir()
	runner := newScriptedRunner()

	gitDir := filepath.Join(root, "ws1", discovery.GitDirActive)
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	runner.on(strings.Join([]string{
		"bbb|checkpoint-ws1-42|2026-01-02T10:00:00+00:00",
		"aaa|checkpoint-ws1-42|2026-01-02T09:00:00+00:00",
	}, "\n"), "--git-dir", gitDir, "log", "--all", "--pretty=format:%H|%s|%aI")

	scanner := discovery.NewScanner(root, runner, log)
	cacheDir := t.TempDir()
	svc := service.New(scanner, diff.NewEngine(runner, scanner, log),
		cleanup.NewCleaner(runner, log), noBoundaries{}, cache.NewStore(cacheDir, log),
		filepath.Join(cacheDir, "changesignore.yaml"), log)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), svc, log)
	return router, runner, gitDir
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListWorkspacesEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/workspaces", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.WorkspacesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Workspaces, 1)
	assert.Equal(t, "ws1", resp.Workspaces[0].ID)
	assert.True(t, resp.Workspaces[0].Active)
}

func TestListTasksEndpointRequiresWorkspace(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/tasks", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BAD_REQUEST")
}

func TestStepDiffEndpoint(t *testing.T) {
	router, runner, gitDir := newTestRouter(t)

	runner.on("1\t1\tmain.go", "--git-dir", gitDir, "diff", "--numstat", "aaa", "bbb")
	runner.on("patch-body", "--git-dir", gitDir, "diff", "aaa", "bbb")

	w := doRequest(router, http.MethodGet, "/api/v1/changes/tasks/42/steps/2/diff?workspace=ws1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.DiffResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "aaa", resp.FromRef)
	assert.Equal(t, "bbb", resp.ToRef)
	assert.Equal(t, "patch-body", resp.Patch)
	assert.Len(t, resp.CommandsUsed, 2)
}

func TestStepDiffEndpointRejectsNonNumericIndex(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/tasks/42/steps/two/diff?workspace=ws1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStepDiffEndpointUnknownWorkspace(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/tasks/42/steps/1/diff?workspace=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestSubtaskDiffEndpointWithoutBoundaries(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/tasks/42/subtasks/0/diff?workspace=ws1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileContentsEndpointValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/changes/file-contents", `{"workspaceId": "ws1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileContentsEndpoint(t *testing.T) {
	router, runner, gitDir := newTestRouter(t)

	runner.on("package main\n", "--git-dir", gitDir, "show", "aaa:main.go")

	body := `{"workspaceId": "ws1", "ref": "aaa", "paths": ["main.go"]}`
	w := doRequest(router, http.MethodPost, "/api/v1/changes/file-contents", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.FileContentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Retrieved)
	require.Len(t, resp.Files, 1)
	require.NotNil(t, resp.Files[0].Content)
	assert.Equal(t, "package main\n", *resp.Files[0].Content)
}

func TestNukeEndpointUnknownWorkspace(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/changes/workspaces/nope/nuke", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestIgnoreEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/changes/ignore", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "defaults")

	w = doRequest(router, http.MethodPut, "/api/v1/changes/ignore", `{"patterns": ["vendor"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/changes/ignore", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp service.IgnoreResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.IgnoreSourceFile, resp.Source)
	assert.Equal(t, []string{"vendor"}, resp.Patterns)
}
