// Package subtask maps conversation-derived subtask boundaries onto
// checkpoint step ranges using timestamp windows.
//
// The conversation log and the git log share no common key; the only link
// is that both carry timestamps from the same wall clock. Each subtask owns
// the half-open window [its boundary, next boundary), the last window being
// unbounded.
package subtask

import (
	"fmt"
	"time"

	apperrors "github.com/checkpointd/checkpointd/internal/common/errors"
	"github.com/checkpointd/checkpointd/internal/conversation"
)

// Range is an inclusive range of 1-based step indices belonging to one
// subtask.
type Range struct {
	SubtaskIndex   int
	FirstStepIndex int
	LastStepIndex  int
}

// Step is the minimal view of a checkpoint step the correlator needs:
// its 1-based chronological index and its commit timestamp.
type Step struct {
	Index     int
	Timestamp string
}

// Correlate resolves which chronological steps fall inside the window of
// subtask subtaskIndex.
//
// Timestamps are compared as parsed instants, never as strings: the two
// sources format fractional seconds differently, and lexicographic
// comparison would produce systematically wrong boundaries. An unparseable
// timestamp on either side is an error, not a silent fallback.
//
// A window containing no steps is reported as a distinct precondition error
// so callers can surface "no checkpoint activity in this subtask" instead
// of an empty diff.
func Correlate(boundaries []conversation.SubtaskBoundary, steps []Step, subtaskIndex int) (*Range, error) {
	if subtaskIndex < 0 || subtaskIndex >= len(boundaries) {
		return nil, apperrors.BadRequest(fmt.Sprintf(
			"subtask index %d out of range (task has %d subtasks)", subtaskIndex, len(boundaries)))
	}

	start, err := parseInstant(boundaries[subtaskIndex].Timestamp)
	if err != nil {
		return nil, apperrors.PreconditionRejected(fmt.Sprintf(
			"unparseable timestamp for subtask %d: %q", subtaskIndex, boundaries[subtaskIndex].Timestamp))
	}

	// The last subtask's window is unbounded above.
	bounded := subtaskIndex+1 < len(boundaries)
	var end time.Time
	if bounded {
		end, err = parseInstant(boundaries[subtaskIndex+1].Timestamp)
		if err != nil {
			return nil, apperrors.PreconditionRejected(fmt.Sprintf(
				"unparseable timestamp for subtask %d: %q", subtaskIndex+1, boundaries[subtaskIndex+1].Timestamp))
		}
	}

	first, last := 0, 0
	for _, step := range steps {
		ts, err := parseInstant(step.Timestamp)
		if err != nil {
			return nil, apperrors.PreconditionRejected(fmt.Sprintf(
				"unparseable timestamp for step %d: %q", step.Index, step.Timestamp))
		}

		// A step exactly on a boundary belongs to the later subtask:
		// start is inclusive, end is exclusive.
		if ts.Before(start) {
			continue
		}
		if bounded && !ts.Before(end) {
			continue
		}

		if first == 0 {
			first = step.Index
		}
		last = step.Index
	}

	if first == 0 {
		return nil, apperrors.PreconditionRejected(fmt.Sprintf(
			"no checkpoint steps fall within subtask %d's time window", subtaskIndex))
	}

	return &Range{
		SubtaskIndex:   subtaskIndex,
		FirstStepIndex: first,
		LastStepIndex:  last,
	}, nil
}

// parseInstant parses an ISO 8601 timestamp from either source, tolerating
// differing fractional-second precision.
func parseInstant(ts string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, ts)
}
