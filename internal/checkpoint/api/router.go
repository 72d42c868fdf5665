package api

import (
	"github.com/gin-gonic/gin"

	"github.com/checkpointd/checkpointd/internal/checkpoint/service"
	"github.com/checkpointd/checkpointd/internal/common/logger"
)

// SetupRoutes configures the checkpoint history API routes
func SetupRoutes(router *gin.RouterGroup, svc *service.Service, log *logger.Logger) {
	handler := NewHandler(svc, log)

	changes := router.Group("/changes")
	{
		changes.GET("/workspaces", handler.ListWorkspaces)
		changes.POST("/workspaces/:workspaceId/nuke", handler.NukeWorkspace)

		changes.GET("/tasks", handler.ListTasks)

		tasks := changes.Group("/tasks/:taskId")
		{
			tasks.GET("/steps", handler.ListSteps)
			tasks.GET("/diff", handler.GetTaskDiff)
			tasks.GET("/steps/:index/diff", handler.GetStepDiff)
			tasks.GET("/subtasks/:subtaskIndex/diff", handler.GetSubtaskDiff)
		}

		changes.POST("/file-contents", handler.GetFileContents)

		changes.GET("/ignore", handler.GetIgnorePatterns)
		changes.PUT("/ignore", handler.PutIgnorePatterns)
	}
}
