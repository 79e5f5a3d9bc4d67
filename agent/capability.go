package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/flow"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/tool"
)

// CapabilityAgentOptions configures a CapabilityAgent instance.
//
// Use functional options with NewCapabilityAgent to override defaults.
type CapabilityAgentOptions struct {
	Instruction           Instruction
	EnableStreaming       bool
	EnableFunctionCalling bool
	ToolTimeout           time.Duration
	OutputKey             string
	MaxHistoryMessages    int
	AllowTransfer         bool
	Tools                 map[string]tool.Tool
}

// CapabilityAgent is the leaf executor of the hierarchy: a model-driven react
// loop over a bounded tool set for one commerce capability (orders, products,
// customers, ...).
//
// Read-only tools execute eagerly inside the loop. Irreversible tools should
// be registered wrapped with tool.WithConfirmation; calling one then suspends
// the run with a pending action instead of executing, and the resume path
// re-enters through GetConfirmedTool.
//
// CapabilityAgent embeds BaseAgent for lifecycle and hierarchy management and
// implements flow.FlowAgent so the flow pipeline can drive it.
type CapabilityAgent struct {
	BaseAgent
	llm                   model.Model
	instruction           Instruction
	tools                 map[string]tool.Tool
	enableFunctionCalling bool
	enableStreaming       bool
	toolTimeout           time.Duration
	outputKey             string
	maxHistoryMessages    int
	allowTransfer         bool
}

// NewCapabilityAgent creates a capability agent with sensible defaults:
// streaming and function calling enabled, 15s tool timeout, 20-message
// history window, transfer disabled (leaves do not delegate).
func NewCapabilityAgent(name string, llm model.Model, optFns ...func(o *CapabilityAgentOptions)) *CapabilityAgent {
	opts := CapabilityAgentOptions{
		Instruction:           NewInstructionFromText(fmt.Sprintf("You are %s, a helpful assistant.", name)),
		EnableStreaming:       true,
		EnableFunctionCalling: true,
		ToolTimeout:           15 * time.Second,
		MaxHistoryMessages:    20,
		AllowTransfer:         false,
		Tools:                 make(map[string]tool.Tool),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &CapabilityAgent{
		BaseAgent:             NewBaseAgent(name),
		llm:                   llm,
		instruction:           opts.Instruction,
		enableStreaming:       opts.EnableStreaming,
		enableFunctionCalling: opts.EnableFunctionCalling,
		toolTimeout:           opts.ToolTimeout,
		outputKey:             opts.OutputKey,
		maxHistoryMessages:    opts.MaxHistoryMessages,
		allowTransfer:         opts.AllowTransfer,
		tools:                 opts.Tools,
	}
}

// RegisterTool adds a tool to the agent's capability set. Registered tools
// become available for the language model to call during conversations when
// function calling is enabled.
func (a *CapabilityAgent) RegisterTool(t tool.Tool) {
	a.tools[t.Name()] = t
}

// RegisterTools adds multiple tools to the agent's capability set.
func (a *CapabilityAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// UnregisterTool removes a tool from the agent's capability set.
// Returns true if the tool was found and removed.
func (a *CapabilityAgent) UnregisterTool(name string) bool {
	if _, exists := a.tools[name]; exists {
		delete(a.tools, name)
		return true
	}
	return false
}

// HasTool checks if a tool is registered with the agent.
func (a *CapabilityAgent) HasTool(name string) bool {
	_, exists := a.tools[name]
	return exists
}

// ListTools returns the names of all registered tools.
func (a *CapabilityAgent) ListTools() []string {
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	return names
}

// GetTool retrieves a specific tool by name.
func (a *CapabilityAgent) GetTool(name string) (tool.Tool, bool) {
	t, exists := a.tools[name]
	return t, exists
}

// GetConfirmedTool retrieves a confirmation-gated tool by name. The resume
// path uses this to reach the wrapped implementation after a human decision:
// ConfirmedTool.Execute bypasses the gate with the approved arguments.
func (a *CapabilityAgent) GetConfirmedTool(name string) (*tool.ConfirmedTool, bool) {
	t, exists := a.tools[name]
	if !exists {
		return nil, false
	}
	ct, ok := t.(*tool.ConfirmedTool)
	return ct, ok
}

// ClearTools removes all registered tools from the agent.
func (a *CapabilityAgent) ClearTools() {
	a.tools = make(map[string]tool.Tool)
}

// FlowAgent Interface Implementation
//
// The following methods implement flow.FlowAgent, letting the flow pipeline
// drive the react loop.

// GetName returns the agent's display name.
func (a *CapabilityAgent) GetName() string {
	return a.Name()
}

// GetLLM returns the language model instance.
func (a *CapabilityAgent) GetLLM() model.Model {
	return a.llm
}

// GetTools returns a copy of the registered tools for function calling.
func (a *CapabilityAgent) GetTools() map[string]tool.Tool {
	tools := make(map[string]tool.Tool, len(a.tools))
	for name, t := range a.tools {
		tools[name] = t
	}
	return tools
}

// GetSubAgents returns the list of child agents as FlowAgents.
func (a *CapabilityAgent) GetSubAgents() []flow.FlowAgent {
	subAgents := a.SubAgents()
	flowAgents := make([]flow.FlowAgent, 0, len(subAgents))
	for _, subAgent := range subAgents {
		if flowAgent, ok := subAgent.(flow.FlowAgent); ok {
			flowAgents = append(flowAgents, flowAgent)
		}
	}
	return flowAgents
}

// IsFunctionCallingEnabled returns whether function calling is enabled.
func (a *CapabilityAgent) IsFunctionCallingEnabled() bool {
	return a.enableFunctionCalling
}

// IsStreamingEnabled returns whether streaming responses are enabled.
func (a *CapabilityAgent) IsStreamingEnabled() bool {
	return a.enableStreaming
}

// IsTransferEnabled returns whether agent transfer is enabled.
func (a *CapabilityAgent) IsTransferEnabled() bool {
	return a.allowTransfer
}

// GetOutputKey returns the session state key for saving responses.
func (a *CapabilityAgent) GetOutputKey() string {
	return a.outputKey
}

// MaxHistoryMessages returns the conversation history window size.
func (a *CapabilityAgent) MaxHistoryMessages() int {
	return a.maxHistoryMessages
}

// ResolveInstructions produces the final instruction string (system prompt)
// by resolving static or dynamic instruction sources.
func (a *CapabilityAgent) ResolveInstructions(runCtx *core.RunContext) (string, error) {
	return a.instruction.Resolve(runCtx)
}

// ExecuteTool deserializes JSON arguments and invokes the named tool returning
// its result or an error if the tool is unknown or validation fails.
func (a *CapabilityAgent) ExecuteTool(toolCtx *core.ToolContext, toolName string, args string) (interface{}, error) {
	t, exists := a.tools[toolName]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", toolName)
	}

	argsMap := make(map[string]interface{})
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}

	return t.Call(toolCtx, argsMap)
}

// TransferToAgent delegates execution to a named descendant agent using the
// same run context (shared session state, emit channel).
func (a *CapabilityAgent) TransferToAgent(runCtx *core.RunContext, agentName string) error {
	targetAgent := a.FindAgent(agentName)
	if targetAgent == nil {
		return fmt.Errorf("agent '%s' not found in hierarchy", agentName)
	}

	return targetAgent.Run(runCtx)
}

// Run implements core.Agent using the flow selector to choose an execution
// strategy, then streams flow events to the parent run context.
//
// The context is cloned so the agent identity travels with every tool call:
// a pending action recorded during this run names this agent as its origin,
// which is what the resume path dispatches on.
func (a *CapabilityAgent) Run(parentCtx *core.RunContext) error {
	runCtx := parentCtx.Clone()
	runCtx.Agent = core.AgentInfo{Name: a.Name(), Type: "capability"}

	runCtx.LogDebug(
		"agent.run.start",
		"agent", a.Name(),
		"run", runCtx.RunID,
	)

	ctx := runCtx.Context

	fl := flow.NewSelector().SelectFlow(a)

	runCtx.LogDebug(
		"agent.flow.selected",
		"agent", a.Name(),
		"flow", fmt.Sprintf("%T", fl),
	)

	eventChan, err := fl.Execute(runCtx)
	if err != nil {
		runCtx.LogError(
			"agent.flow.execute.error",
			"agent", a.Name(),
			"error", err.Error(),
		)

		return fmt.Errorf("flow execution failed: %w", err)
	}

	for event := range eventChan {
		select {
		case runCtx.Emit <- event:
			role := ""
			if event.Content != nil {
				role = event.Content.Role
			}

			runCtx.LogDebug(
				"agent.event.forward",
				"agent", a.Name(),
				"event_id", event.ID,
				"role", role,
				"fn_calls", len(event.GetFunctionCalls()),
			)
		case <-ctx.Done():
			runCtx.LogWarn("agent.run.context_done", "agent", a.Name(), "error", ctx.Err())

			return ctx.Err()
		}
	}

	runCtx.LogDebug("agent.flow.execute.complete", "agent", a.Name())

	return nil
}
