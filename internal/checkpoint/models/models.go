// Package models defines the domain types for checkpoint history:
// discovered workspaces, tasks, steps, and diff results.
package models

// File status values reported in DiffFile.Status.
const (
	FileStatusAdded    = "added"
	FileStatusModified = "modified"
	FileStatusDeleted  = "deleted"
)

// Workspace is a discovered checkpoint workspace: a directory under the
// checkpoints root that contains a shadow git repository.
type Workspace struct {
	// ID is the workspace directory name (e.g. "4184916832").
	ID string `json:"id"`
	// GitDir is the absolute path to the .git or .git_disabled directory.
	GitDir string `json:"gitDir"`
	// Active reports whether the git dir is .git (active) rather than
	// .git_disabled (paused while the agent works elsewhere).
	Active bool `json:"active"`
	// TaskCount is the number of distinct task ids found in commit subjects.
	TaskCount int `json:"taskCount"`
	// LastModified is the ISO 8601 timestamp of the newest checkpoint commit.
	LastModified string `json:"lastModified"`
}

// WorkspacesResponse is the payload for workspace listing.
type WorkspacesResponse struct {
	Workspaces      []Workspace `json:"workspaces"`
	CheckpointsRoot string      `json:"checkpointsRoot"`
}

// TaskSummary is a group of checkpoint commits sharing a task id.
type TaskSummary struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	// Steps is the number of checkpoint commits in this task.
	Steps int `json:"steps"`
	// FilesChanged is the number of distinct files touched across all steps.
	FilesChanged int `json:"filesChanged"`
	// LastModified is the ISO 8601 timestamp of the newest checkpoint commit.
	LastModified string `json:"lastModified"`
}

// TasksResponse is the payload for task listing within one workspace.
type TasksResponse struct {
	WorkspaceID string        `json:"workspaceId"`
	Tasks       []TaskSummary `json:"tasks"`
}

// CheckpointStep is a single checkpoint commit within a task.
type CheckpointStep struct {
	// Hash is the full commit SHA.
	Hash string `json:"hash"`
	// Subject is the commit subject line ("checkpoint-<wsId>-<taskId>").
	Subject string `json:"subject"`
	// Timestamp is the ISO 8601 author date of the commit.
	Timestamp string `json:"timestamp"`
	// FilesChanged is the file count of this step vs its parent commit.
	FilesChanged int `json:"filesChanged"`
	// Index is 1-based, assigned in chronological (oldest-first) order.
	Index int `json:"index"`
}

// StepsResponse is the payload for step listing within one task.
// Steps are ordered chronologically, oldest first.
type StepsResponse struct {
	TaskID      string           `json:"taskId"`
	WorkspaceID string           `json:"workspaceId"`
	Steps       []CheckpointStep `json:"steps"`
}

// DiffFile is one file entry in a diff summary.
type DiffFile struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
	// Status is one of "added", "modified", "deleted".
	Status string `json:"status"`
}

// DiffResult is the full diff between two repository references.
type DiffResult struct {
	Files []DiffFile `json:"files"`
	// Patch is the unified diff text.
	Patch   string `json:"patch"`
	FromRef string `json:"fromRef"`
	ToRef   string `json:"toRef"`
	// CommandsUsed lists every git command line executed to build this
	// result, in execution order, so the response is self-explanatory.
	CommandsUsed []string `json:"commandsUsed"`
}

// NukeResult reports the outcome of destroying a workspace's history.
type NukeResult struct {
	WorkspaceID string `json:"workspaceId"`
	// DeletedCommits and DeletedTasks are counted before deletion.
	DeletedCommits int `json:"deletedCommits"`
	DeletedTasks   int `json:"deletedTasks"`
	// GitCommand is the re-initialization command that was run.
	GitCommand string `json:"gitCommand"`
	Success    bool   `json:"success"`
}

// FileContent is the content of one file at a specific git ref.
// Content is nil when the file could not be read at that ref.
type FileContent struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
	Size    *int    `json:"size,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// FileContentsResponse is the payload for batch file-content retrieval.
type FileContentsResponse struct {
	Files     []FileContent `json:"files"`
	Retrieved int           `json:"retrieved"`
	Failed    int           `json:"failed"`
	TotalSize int           `json:"totalSize"`
}
