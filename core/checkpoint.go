package core

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// PendingAction represents a side-effecting operation awaiting human
// disposition. It is the payload surfaced to the caller when a run suspends:
// the Prompt is shown to the human, the Arguments are what the operation
// would execute with.
type PendingAction struct {
	ActionType  string         `json:"action_type"`  // Tool / operation name (e.g. "create_order")
	Arguments   map[string]any `json:"arguments"`    // Proposed operation arguments
	OriginAgent string         `json:"origin_agent"` // Capability agent that raised the action
	Prompt      string         `json:"prompt"`       // Human-readable confirmation prompt
}

// CheckpointState enumerates the interrupt controller's state machine.
type CheckpointState string

const (
	// CheckpointSuspended marks a run halted awaiting a Decision.
	CheckpointSuspended CheckpointState = "suspended"
	// CheckpointResumedAccept marks a checkpoint being re-entered unchanged.
	CheckpointResumedAccept CheckpointState = "resumed_accept"
	// CheckpointResumedEdit marks a checkpoint re-entered with edited arguments.
	CheckpointResumedEdit CheckpointState = "resumed_edit"
	// CheckpointResumedReject marks a checkpoint terminated without execution.
	CheckpointResumedReject CheckpointState = "resumed_reject"
)

// Checkpoint is the serializable suspended-execution state captured when a
// capability agent raises a confirmation-gated action. It holds everything
// needed to re-enter execution at the exact suspension point: the agent to
// re-enter, the pending action, and the partial context accumulated by
// upstream supervisors before the suspension. The call stack above the
// suspension point is discarded; resume is a pure data operation.
//
// A Session owns at most one Checkpoint at a time.
type Checkpoint struct {
	ID             string          `json:"id"`
	RunID          string          `json:"run_id"`
	ResumeAgent    string          `json:"resume_agent"` // Capability agent to re-enter
	Pending        PendingAction   `json:"pending"`
	PartialContext []string        `json:"partial_context,omitempty"` // Upstream delegation results
	State          CheckpointState `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
	ResumeCount    int             `json:"resume_count"`
}

// NewCheckpoint captures a suspension point for the given run.
func NewCheckpoint(runID, resumeAgent string, pending PendingAction, partialContext []string) *Checkpoint {
	return &Checkpoint{
		ID:             NewID(),
		RunID:          runID,
		ResumeAgent:    resumeAgent,
		Pending:        pending,
		PartialContext: partialContext,
		State:          CheckpointSuspended,
		CreatedAt:      time.Now().UTC(),
	}
}

// Marshal serializes the checkpoint for persistence.
func (c *Checkpoint) Marshal() ([]byte, error) { return json.Marshal(c) }

// UnmarshalCheckpoint deserializes a persisted checkpoint.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &c, nil
}

// DecisionKind enumerates the caller inputs that resolve a Checkpoint.
type DecisionKind string

const (
	// DecisionAccept executes the PendingAction unchanged.
	DecisionAccept DecisionKind = "accept"
	// DecisionEdit executes with caller-supplied argument overrides merged
	// over the original arguments.
	DecisionEdit DecisionKind = "edit"
	// DecisionReject discards the PendingAction without executing.
	DecisionReject DecisionKind = "reject"
)

// Decision is the caller input that resolves a suspended Checkpoint.
type Decision struct {
	Kind            DecisionKind   `json:"kind"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
}

// Validate reports a ValidationError for malformed decisions.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionAccept, DecisionReject:
		return nil
	case DecisionEdit:
		if len(d.EditedArguments) == 0 {
			return &ValidationError{Field: "edited_arguments", Reason: "edit decision requires argument overrides"}
		}
		return nil
	default:
		return &ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown decision kind %q", d.Kind)}
	}
}

// MergedArguments returns the operation arguments to execute with: the
// original PendingAction arguments, with EditedArguments merged over them on
// an edit decision. The returned map is always a fresh copy.
func (d Decision) MergedArguments(pending PendingAction) map[string]any {
	merged := make(map[string]any, len(pending.Arguments)+len(d.EditedArguments))
	maps.Copy(merged, pending.Arguments)
	if d.Kind == DecisionEdit {
		maps.Copy(merged, d.EditedArguments)
	}
	return merged
}
