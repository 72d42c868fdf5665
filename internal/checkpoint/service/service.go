// Package service orchestrates checkpoint history operations: discovery,
// enumeration, diffing, and cleanup, fronted by the two-tier cache.
package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/checkpointd/checkpointd/internal/checkpoint/cache"
	"github.com/checkpointd/checkpointd/internal/checkpoint/cleanup"
	"github.com/checkpointd/checkpointd/internal/checkpoint/diff"
	"github.com/checkpointd/checkpointd/internal/checkpoint/discovery"
	"github.com/checkpointd/checkpointd/internal/checkpoint/models"
	apperrors "github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/common/logger"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

// Service is the application-facing facade over the checkpoint core. It is
// constructed once by the composition root, which owns the cache store; the
// workspace index is seeded from disk here rather than through ambient
// statics so the seeding step is observable and testable.
type Service struct {
	log        *logger.Logger
	scanner    *discovery.Scanner
	engine     *diff.Engine
	cleaner    *cleanup.Cleaner
	boundaries conversation.BoundarySource
	store      *cache.Store
	ignorePath string

	workspaces *cache.Entry[models.WorkspacesResponse]

	// Per-workspace and per-task entries, created lazily and seeded from
	// disk on first access.
	mu    sync.Mutex
	tasks map[string]*cache.Entry[models.TasksResponse]
	steps map[string]*cache.Entry[models.StepsResponse]
}

// New wires the service together and seeds the workspace index from the
// disk cache.
func New(
	scanner *discovery.Scanner,
	engine *diff.Engine,
	cleaner *cleanup.Cleaner,
	boundaries conversation.BoundarySource,
	store *cache.Store,
	ignorePath string,
	log *logger.Logger,
) *Service {
	s := &Service{
		log:        log,
		scanner:    scanner,
		engine:     engine,
		cleaner:    cleaner,
		boundaries: boundaries,
		store:      store,
		ignorePath: ignorePath,
		workspaces: &cache.Entry[models.WorkspacesResponse]{},
		tasks:      make(map[string]*cache.Entry[models.TasksResponse]),
		steps:      make(map[string]*cache.Entry[models.StepsResponse]),
	}

	if seeded, ok := cache.Load[models.WorkspacesResponse](store, cache.WorkspacesFile()); ok {
		s.workspaces.Seed(seeded)
		log.Info("seeded workspace index from disk cache",
			zap.Int("workspaces", len(seeded.Workspaces)))
	}
	return s
}

// ListWorkspaces returns the discovered workspaces, rescanning when the
// cache is cold or refresh is set. Concurrent refreshes collapse into a
// single scan.
func (s *Service) ListWorkspaces(ctx context.Context, refresh bool) (*models.WorkspacesResponse, error) {
	data, _, err := s.workspaces.GetOrRefresh(ctx, refresh, func(ctx context.Context) (*models.WorkspacesResponse, error) {
		resp := &models.WorkspacesResponse{
			Workspaces:      s.scanner.FindWorkspaces(ctx),
			CheckpointsRoot: s.scanner.Root(),
		}
		cache.Save(s.store, cache.WorkspacesFile(), resp)
		return resp, nil
	})
	return data, err
}

// ListTasks returns the tasks of one workspace, cached per workspace.
func (s *Service) ListTasks(ctx context.Context, workspaceID string, refresh bool) (*models.TasksResponse, error) {
	if workspaceID == "" {
		return nil, apperrors.BadRequest("workspace id is required")
	}

	entry := s.tasksEntry(workspaceID, refresh)
	data, _, err := entry.GetOrRefresh(ctx, refresh, func(ctx context.Context) (*models.TasksResponse, error) {
		gitDir, err := s.resolveGitDir(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		resp := &models.TasksResponse{
			WorkspaceID: workspaceID,
			Tasks:       s.scanner.ListTasks(ctx, workspaceID, gitDir),
		}
		cache.Save(s.store, cache.TasksFile(workspaceID), resp)
		return resp, nil
	})
	return data, err
}

// ListSteps returns the chronological steps of one task, cached per
// workspace+task.
func (s *Service) ListSteps(ctx context.Context, workspaceID, taskID string, refresh bool) (*models.StepsResponse, error) {
	if workspaceID == "" {
		return nil, apperrors.BadRequest("workspace id is required")
	}

	entry := s.stepsEntry(workspaceID, taskID, refresh)
	data, _, err := entry.GetOrRefresh(ctx, refresh, func(ctx context.Context) (*models.StepsResponse, error) {
		gitDir, err := s.resolveGitDir(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		resp := &models.StepsResponse{
			TaskID:      taskID,
			WorkspaceID: workspaceID,
			Steps:       s.scanner.ListSteps(ctx, taskID, workspaceID, gitDir),
		}
		cache.Save(s.store, cache.StepsFile(workspaceID, taskID), resp)
		return resp, nil
	})
	return data, err
}

// StepDiff computes the diff of a single step.
func (s *Service) StepDiff(ctx context.Context, workspaceID, taskID string, stepIndex int) (*models.DiffResult, error) {
	gitDir, err := s.resolveGitDir(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.engine.StepDiff(ctx, taskID, stepIndex, gitDir)
}

// TaskDiff computes the cumulative diff of a whole task, applying the
// merged exclusion patterns.
func (s *Service) TaskDiff(ctx context.Context, workspaceID, taskID string, excludes []string) (*models.DiffResult, error) {
	gitDir, err := s.resolveGitDir(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.engine.TaskDiff(ctx, taskID, gitDir, s.mergeExcludes(excludes))
}

// SubtaskDiff computes the diff of one subtask phase. Boundary timestamps
// come from the external conversation-log collaborator; a task with no
// parseable conversation log yields a not-found error.
func (s *Service) SubtaskDiff(ctx context.Context, workspaceID, taskID string, subtaskIndex int, excludes []string) (*models.DiffResult, error) {
	gitDir, err := s.resolveGitDir(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	boundaries, err := s.boundaries.SubtaskBoundaries(ctx, taskID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read subtask boundaries")
	}
	if len(boundaries) == 0 {
		return nil, apperrors.NotFound("subtask boundaries for task", taskID)
	}

	return s.engine.SubtaskDiff(ctx, taskID, subtaskIndex, gitDir, boundaries, s.mergeExcludes(excludes))
}

// FileContents reads file bodies at a git ref in one workspace.
func (s *Service) FileContents(ctx context.Context, workspaceID, ref string, paths []string) (*models.FileContentsResponse, error) {
	if ref == "" {
		return nil, apperrors.BadRequest("git ref is required")
	}
	gitDir, err := s.resolveGitDir(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return &models.FileContentsResponse{Files: []models.FileContent{}}, nil
	}
	return s.engine.FileContents(ctx, gitDir, ref, paths), nil
}

// NukeWorkspace destroys a workspace's checkpoint history and invalidates
// every cached entry scoped to it. The invalidation is a correctness
// requirement: a stale cache would report tasks that no longer exist.
func (s *Service) NukeWorkspace(ctx context.Context, workspaceID string) (*models.NukeResult, error) {
	gitDir, err := s.resolveGitDir(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	result, err := s.cleaner.NukeWorkspace(ctx, workspaceID, gitDir)
	if err != nil {
		return nil, err
	}

	s.invalidateWorkspace(workspaceID)
	return result, nil
}

// invalidateWorkspace drops the workspace's task entry, every step entry,
// the workspace index, and the corresponding disk documents.
func (s *Service) invalidateWorkspace(workspaceID string) {
	s.mu.Lock()
	delete(s.tasks, workspaceID)
	prefix := workspaceID + ":"
	for key := range s.steps {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.steps, key)
		}
	}
	s.mu.Unlock()

	s.workspaces.Invalidate()

	s.store.Remove(cache.WorkspacesFile())
	s.store.Remove(cache.TasksFile(workspaceID))
	s.store.RemoveMatching("steps_" + workspaceID + "_*.json")

	s.log.WithWorkspaceID(workspaceID).Info("invalidated caches after nuke")
}

// resolveGitDir locates a workspace's repository directory, preferring the
// cached index and falling back to a fresh discovery scan.
func (s *Service) resolveGitDir(ctx context.Context, workspaceID string) (string, error) {
	if workspaceID == "" {
		return "", apperrors.BadRequest("workspace id is required")
	}

	if cached, _, ok := s.workspaces.Get(); ok {
		for _, ws := range cached.Workspaces {
			if ws.ID == workspaceID {
				return ws.GitDir, nil
			}
		}
	}

	resp, err := s.ListWorkspaces(ctx, true)
	if err != nil {
		return "", err
	}
	for _, ws := range resp.Workspaces {
		if ws.ID == workspaceID {
			return ws.GitDir, nil
		}
	}
	return "", apperrors.NotFound("workspace", workspaceID)
}

// tasksEntry returns the cache entry for a workspace's task list, seeding
// it from disk on first access unless the caller is forcing a refresh.
func (s *Service) tasksEntry(workspaceID string, refresh bool) *cache.Entry[models.TasksResponse] {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[workspaceID]
	if !ok {
		entry = &cache.Entry[models.TasksResponse]{}
		if !refresh {
			if seeded, found := cache.Load[models.TasksResponse](s.store, cache.TasksFile(workspaceID)); found {
				entry.Seed(seeded)
			}
		}
		s.tasks[workspaceID] = entry
	}
	return entry
}

// stepsEntry returns the cache entry for one task's step list, keyed
// "workspace:task", seeded from disk on first access.
func (s *Service) stepsEntry(workspaceID, taskID string, refresh bool) *cache.Entry[models.StepsResponse] {
	key := workspaceID + ":" + taskID

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.steps[key]
	if !ok {
		entry = &cache.Entry[models.StepsResponse]{}
		if !refresh {
			if seeded, found := cache.Load[models.StepsResponse](s.store, cache.StepsFile(workspaceID, taskID)); found {
				entry.Seed(seeded)
			}
		}
		s.steps[key] = entry
	}
	return entry
}
