// Package conversation defines the contract with the conversation-log
// parser, which lives outside this service. Only the boundary records the
// correlator consumes are modeled here; parsing the agent's conversation
// files is the collaborator's job.
package conversation

import "context"

// SubtaskBoundary marks the start of one subtask phase within a task.
// Boundary 0 is always the initial task prompt; later boundaries are
// feedback-driven subtasks.
type SubtaskBoundary struct {
	SubtaskIndex int    `json:"subtaskIndex"`
	IsInitial    bool   `json:"isInitial"`
	Prompt       string `json:"prompt"`
	// Timestamp is ISO 8601. Fractional-second precision may differ from
	// git's timestamps; consumers must compare parsed instants.
	Timestamp string `json:"timestamp"`
}

// BoundarySource yields the ordered subtask boundaries for a task.
//
// Returns (nil, nil) when the task has no parseable conversation log; that
// is "no data", not an error.
type BoundarySource interface {
	SubtaskBoundaries(ctx context.Context, taskID string) ([]SubtaskBoundary, error)
}
