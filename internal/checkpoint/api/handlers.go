// Package api exposes the checkpoint history service over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/checkpoint/service"
	"github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// Handler contains HTTP handlers for the checkpoint history API
type Handler struct {
	service *service.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc *service.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log.WithFields(zap.String("component", "checkpoint-api")),
	}
}

// ListWorkspaces returns every discovered checkpoint workspace
// GET /api/v1/changes/workspaces?refresh=true
func (h *Handler) ListWorkspaces(c *gin.Context) {
	refresh := c.Query("refresh") == "true"

	resp, err := h.service.ListWorkspaces(c.Request.Context(), refresh)
	if err != nil {
		h.respondError(c, err, "failed to list workspaces")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListTasks returns the tasks of one workspace
// GET /api/v1/changes/tasks?workspace=<id>&refresh=true
func (h *Handler) ListTasks(c *gin.Context) {
	workspaceID := c.Query("workspace")
	refresh := c.Query("refresh") == "true"

	resp, err := h.service.ListTasks(c.Request.Context(), workspaceID, refresh)
	if err != nil {
		h.respondError(c, err, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSteps returns the chronological checkpoint steps of one task
// GET /api/v1/changes/tasks/:taskId/steps?workspace=<id>&refresh=true
func (h *Handler) ListSteps(c *gin.Context) {
	taskID := c.Param("taskId")
	workspaceID := c.Query("workspace")
	refresh := c.Query("refresh") == "true"

	resp, err := h.service.ListSteps(c.Request.Context(), workspaceID, taskID, refresh)
	if err != nil {
		h.respondError(c, err, "failed to list steps")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetStepDiff returns the diff introduced by a single checkpoint step
// GET /api/v1/changes/tasks/:taskId/steps/:index/diff?workspace=<id>
func (h *Handler) GetStepDiff(c *gin.Context) {
	taskID := c.Param("taskId")
	workspaceID := c.Query("workspace")

	stepIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		appErr := errors.BadRequest("step index must be an integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.StepDiff(c.Request.Context(), workspaceID, taskID, stepIndex)
	if err != nil {
		h.respondError(c, err, "failed to compute step diff")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTaskDiff returns the cumulative diff of a whole task
// GET /api/v1/changes/tasks/:taskId/diff?workspace=<id>&exclude=a&exclude=b
func (h *Handler) GetTaskDiff(c *gin.Context) {
	taskID := c.Param("taskId")
	workspaceID := c.Query("workspace")
	excludes := c.QueryArray("exclude")

	resp, err := h.service.TaskDiff(c.Request.Context(), workspaceID, taskID, excludes)
	if err != nil {
		h.respondError(c, err, "failed to compute task diff")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSubtaskDiff returns the diff of one subtask phase within a task
// GET /api/v1/changes/tasks/:taskId/subtasks/:subtaskIndex/diff?workspace=<id>
func (h *Handler) GetSubtaskDiff(c *gin.Context) {
	taskID := c.Param("taskId")
	workspaceID := c.Query("workspace")
	excludes := c.QueryArray("exclude")

	subtaskIndex, err := strconv.Atoi(c.Param("subtaskIndex"))
	if err != nil {
		appErr := errors.BadRequest("subtask index must be an integer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.SubtaskDiff(c.Request.Context(), workspaceID, taskID, subtaskIndex, excludes)
	if err != nil {
		h.respondError(c, err, "failed to compute subtask diff")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetFileContents returns file bodies at a git ref
// POST /api/v1/changes/file-contents
func (h *Handler) GetFileContents(c *gin.Context) {
	var req FileContentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.FileContents(c.Request.Context(), req.WorkspaceID, req.Ref, req.Paths)
	if err != nil {
		h.respondError(c, err, "failed to read file contents")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// NukeWorkspace destroys a workspace's checkpoint history
// POST /api/v1/changes/workspaces/:workspaceId/nuke
func (h *Handler) NukeWorkspace(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	result, err := h.service.NukeWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.respondError(c, err, "failed to nuke workspace")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetIgnorePatterns returns the active diff-exclusion patterns
// GET /api/v1/changes/ignore
func (h *Handler) GetIgnorePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.LoadIgnore())
}

// PutIgnorePatterns replaces the diff-exclusion patterns
// PUT /api/v1/changes/ignore
func (h *Handler) PutIgnorePatterns(c *gin.Context) {
	var req IgnorePatternsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.SaveIgnore(req.Patterns)
	if err != nil {
		h.respondError(c, err, "failed to save ignore patterns")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps an error to its HTTP status and writes the JSON body.
// Client errors are logged at debug, everything else at error.
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	appErr := errors.Wrap(err, message)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, appErr)
}
