package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopmesh/shopmesh/core"
)

// ConfirmationRequired signals that a tool refuses to execute until a human
// approves the action. The flow layer detects it with errors.As and converts
// it into a checkpoint instead of a tool failure.
type ConfirmationRequired struct {
	Pending core.PendingAction
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("action %q requires confirmation", e.Pending.ActionType)
}

// PromptFunc renders the human-facing confirmation prompt for an action and
// its arguments.
type PromptFunc func(action string, args map[string]any) string

// DefaultPrompt renders a compact single-line confirmation prompt listing the
// action name and its arguments in stable key order.
func DefaultPrompt(action string, args map[string]any) string {
	if len(args) == 0 {
		return fmt.Sprintf("Confirm action %q?", action)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		v, err := json.Marshal(args[k])
		if err != nil {
			fmt.Fprintf(&b, "%s=%v", k, args[k])
			continue
		}
		fmt.Fprintf(&b, "%s=%s", k, v)
	}

	return fmt.Sprintf("Confirm action %q with %s?", action, b.String())
}

// ConfirmedToolOptions configure a confirmation-gated tool.
type ConfirmedToolOptions struct {
	Prompt PromptFunc
}

// ConfirmedTool wraps another Tool so that every invocation suspends for
// human approval. Call never runs the wrapped implementation: it validates
// arguments, then returns ConfirmationRequired describing the pending action.
// After the human decides, the resume path executes the approved (possibly
// edited) arguments via Execute.
type ConfirmedTool struct {
	inner Tool
	opts  ConfirmedToolOptions
}

// WithConfirmation wraps a tool so it cannot execute without an approval
// round-trip. Destructive commerce operations (order placement, cancellation,
// refunds, stock mutations) are registered through this wrapper.
func WithConfirmation(inner Tool, optFns ...func(o *ConfirmedToolOptions)) *ConfirmedTool {
	opts := ConfirmedToolOptions{Prompt: DefaultPrompt}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ConfirmedTool{inner: inner, opts: opts}
}

// Name returns the wrapped tool's name.
func (t *ConfirmedTool) Name() string { return t.inner.Name() }

// Description returns the wrapped tool's description.
func (t *ConfirmedTool) Description() string { return t.inner.Description() }

// Parameters returns the wrapped tool's parameter schema.
func (t *ConfirmedTool) Parameters() map[string]any { return t.inner.Parameters() }

// Call validates arguments against the wrapped schema and then suspends.
// Invalid arguments fail fast so the human is never asked to approve a call
// the tool would reject anyway.
func (t *ConfirmedTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	if ft, ok := t.inner.(*FunctionTool); ok {
		if err := ft.ValidateArgs(args); err != nil {
			return nil, err
		}
	}

	toolCtx.Logger().Info("tool.confirmation.suspend", "tool", t.Name(), "fc_id", toolCtx.FunctionCallID())

	return nil, &ConfirmationRequired{Pending: core.PendingAction{
		ActionType:  t.Name(),
		Arguments:   args,
		OriginAgent: toolCtx.AgentName(),
		Prompt:      t.opts.Prompt(t.Name(), args),
	}}
}

// Execute runs the wrapped tool directly, bypassing the confirmation gate.
// Only the resume path may call this, with arguments the human accepted or
// edited.
func (t *ConfirmedTool) Execute(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	toolCtx.Logger().Info("tool.confirmation.execute", "tool", t.Name(), "fc_id", toolCtx.FunctionCallID())
	return t.inner.Call(toolCtx, args)
}

var _ Tool = (*ConfirmedTool)(nil)
