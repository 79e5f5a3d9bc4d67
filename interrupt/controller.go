// Package interrupt resolves suspended runs: it takes the human decision on a
// pending action and drives the checkpoint state machine
// (suspended -> resumed_accept | resumed_edit | resumed_reject).
//
// Accept and edit re-enter the recorded capability agent: the approved
// (possibly merged) arguments execute through the tool's confirmation bypass,
// the result is appended to the session history, and the agent's loop
// continues to completion. The continuation may suspend again at any depth;
// that simply produces a fresh checkpoint.
//
// Reject never executes. It appends a fixed system notice, answers the caller
// and clears the checkpoint.
package interrupt

import (
	"fmt"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/tool"
)

// RejectedNotice is the fixed system message recorded when a pending action
// is rejected. The action is never executed.
const RejectedNotice = "The user rejected the proposed action. It was not executed."

// Origin is what the controller requires from the agent recorded in a
// checkpoint: hierarchy membership plus access to its confirmation-gated
// tools.
type Origin interface {
	core.Agent
	GetConfirmedTool(name string) (*tool.ConfirmedTool, bool)
}

// Controller resumes suspended runs against an agent hierarchy.
type Controller struct {
	root core.Agent
}

// NewController creates a controller resolving origin agents within the
// hierarchy rooted at root.
func NewController(root core.Agent) *Controller {
	return &Controller{root: root}
}

// Resume applies a decision to the session's live checkpoint. The run context
// must carry the loaded session, the store and the emit channel; emitted
// events flow back to the caller the same way a fresh run's do.
//
// Returns core.ErrNoActiveCheckpoint when nothing is pending.
func (c *Controller) Resume(rc *core.RunContext, decision core.Decision) error {
	if err := decision.Validate(); err != nil {
		return err
	}

	cp := rc.Session.LiveCheckpoint()
	if cp == nil {
		return core.ErrNoActiveCheckpoint
	}

	rc.LogInfo(
		"interrupt.resume",
		"session", rc.SessionID,
		"checkpoint", cp.ID,
		"action", cp.Pending.ActionType,
		"decision", string(decision.Kind),
	)

	if decision.Kind == core.DecisionReject {
		return c.reject(rc, cp)
	}

	return c.execute(rc, cp, decision)
}

// reject records the fixed notice, answers the caller and drops the
// checkpoint. The pending operation is never invoked.
func (c *Controller) reject(rc *core.RunContext, cp *core.Checkpoint) error {
	cp.State = core.CheckpointResumedReject

	notice := core.NewSystemMessageEvent(rc.RunID, RejectedNotice)
	if err := rc.SessionStore.AppendEvent(rc.SessionID, notice); err != nil {
		return fmt.Errorf("append rejection notice: %w", err)
	}

	if err := rc.SessionStore.ClearCheckpoint(rc.SessionID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	reply := core.NewMessageEvent(cp.Pending.OriginAgent,
		fmt.Sprintf("Understood, I won't go ahead with %s. Is there anything else I can help with?", cp.Pending.ActionType))
	reply.RunID = rc.RunID
	complete := true
	reply.TurnComplete = &complete

	return rc.EmitEvent(reply)
}

// execute runs the pending action with the decided arguments and continues
// the origin agent's loop so the model can produce the final answer.
func (c *Controller) execute(rc *core.RunContext, cp *core.Checkpoint, decision core.Decision) error {
	if decision.Kind == core.DecisionEdit {
		cp.State = core.CheckpointResumedEdit
	} else {
		cp.State = core.CheckpointResumedAccept
	}
	cp.ResumeCount++

	origin, err := c.findOrigin(cp)
	if err != nil {
		return err
	}

	gated, ok := origin.GetConfirmedTool(cp.Pending.ActionType)
	if !ok {
		return fmt.Errorf("agent %q has no confirmation-gated tool %q", origin.Name(), cp.Pending.ActionType)
	}

	// The slot is freed before execution; a deep re-suspension installs a
	// fresh checkpoint.
	if err := rc.SessionStore.ClearCheckpoint(rc.SessionID); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	execCtx := rc.Clone()
	execCtx.Agent = core.AgentInfo{Name: origin.Name(), Type: "capability"}
	toolCtx := core.NewToolContext(execCtx, cp.ID)

	merged := decision.MergedArguments(cp.Pending)
	result, execErr := gated.Execute(toolCtx, merged)
	if execErr != nil {
		// The mutation may or may not have happened upstream. Never retry;
		// tell the caller to verify.
		rc.LogError("interrupt.execute.failed", "action", cp.Pending.ActionType, "error", execErr.Error())

		reply := core.NewMessageEvent(origin.Name(),
			fmt.Sprintf("I attempted %s but could not confirm the outcome (%s). Please verify manually before retrying.",
				cp.Pending.ActionType, execErr.Error()))
		reply.RunID = rc.RunID
		complete := true
		reply.TurnComplete = &complete

		return rc.EmitEvent(reply)
	}

	// Record the tool outcome in history before re-entering the loop so the
	// continuation model call sees it.
	responseEv := core.NewFunctionResponseEvent(origin.Name(), cp.ID, cp.Pending.ActionType, result, nil)
	responseEv.RunID = rc.RunID
	toolCtx.InternalApplyActions(&responseEv)
	if err := rc.SessionStore.AppendEvent(rc.SessionID, responseEv); err != nil {
		return fmt.Errorf("append resume result: %w", err)
	}
	if len(responseEv.Actions.StateDelta) > 0 {
		if err := rc.SessionStore.ApplyDelta(rc.SessionID, responseEv.Actions.StateDelta); err != nil {
			return fmt.Errorf("apply resume state delta: %w", err)
		}
	}
	if err := rc.RefreshSession(); err != nil {
		return err
	}

	// Continue the loop to completion. The continuation carries no new user
	// text; the agent answers from the recorded tool result. It may suspend
	// again, which surfaces as a fresh interruption event.
	contCtx := rc.Clone()
	contCtx.UserContent = core.Content{}
	contCtx.StateDelta = map[string]any{}

	return origin.Run(contCtx)
}

// findOrigin resolves the checkpoint's recorded agent within the hierarchy.
func (c *Controller) findOrigin(cp *core.Checkpoint) (Origin, error) {
	name := cp.ResumeAgent
	if name == "" {
		name = cp.Pending.OriginAgent
	}

	var ag core.Agent
	if c.root.Name() == name {
		ag = c.root
	} else {
		ag = c.root.FindAgent(name)
	}
	if ag == nil {
		return nil, fmt.Errorf("resume agent %q not found in hierarchy", name)
	}

	origin, ok := ag.(Origin)
	if !ok {
		return nil, fmt.Errorf("resume agent %q cannot execute confirmed actions", name)
	}

	return origin, nil
}
