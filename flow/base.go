package flow

import (
	"errors"
	"fmt"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/tool"
)

// BaseFlow is a minimal single‑agent flow implementation that supports a
// request -> LLM -> (optional tool loop) cycle with pluggable pre/post
// processors. When a tool raises tool.ConfirmationRequired the flow emits an
// interruption event and terminates: the run is suspended and only a human
// decision can continue it.
type BaseFlow struct {
	agent              FlowAgent
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
	executor           FunctionExecutor
}

// NewBaseFlow creates a new basic single-agent flow.
func NewBaseFlow(agent FlowAgent) *BaseFlow {
	return &BaseFlow{
		agent:              agent,
		requestProcessors:  []RequestProcessor{},
		responseProcessors: []ResponseProcessor{},
		executor:           NewParallelFunctionExecutor(FunctionExecutorConfig{PreserveOrder: true}),
	}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// AddResponseProcessor appends a response processor executed after each model chunk.
func (f *BaseFlow) AddResponseProcessor(processor ResponseProcessor) {
	f.responseProcessors = append(f.responseProcessors, processor)
}

// Execute launches the flow asynchronously and returns a channel of Events.
// The channel is closed when a final response is emitted, the run suspends
// for confirmation, or an unrecoverable error occurs. Callers should range
// over the returned channel.
func (f *BaseFlow) Execute(runCtx *core.RunContext) (<-chan core.Event, error) {
	eventChan := make(chan core.Event, 100)

	go func() {
		defer close(eventChan)

		for {
			last := f.runOnce(runCtx, eventChan)
			if last == nil {
				break
			}
			if last.IsInterruption() {
				break
			}
			// A function response means the model gets another turn to react
			// to the tool output.
			if len(last.GetFunctionResponses()) > 0 {
				continue
			}
			if last.IsPartial() {
				runCtx.LogWarn("flow.unexpected_partial_tail", "agent", f.agent.GetName())
				break
			}
			if last.IsFinalResponse() {
				break
			}
		}
	}()

	return eventChan, nil
}

// emitError converts an internal error to a system Event.
func (f *BaseFlow) emitError(eventChan chan<- core.Event, runID string, err error) {
	ev := core.NewEvent(runID, "system")
	msg := err.Error()
	ev.ErrorMessage = &msg
	eventChan <- ev
}

// runOnce performs one model turn (including any tool executions) and returns
// the last emitted Event (final or intermediate). A nil return signals termination.
func (f *BaseFlow) runOnce(runCtx *core.RunContext, eventChan chan<- core.Event) *core.Event {
	// Refresh session snapshot so request processors see the latest
	// conversation (including tool responses from a previous turn)
	if runCtx.SessionStore != nil {
		if latest, err := runCtx.SessionStore.Get(runCtx.SessionID); err == nil && latest != nil {
			runCtx.Session = latest
		}
	}

	req := new(model.Request)

	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(runCtx, req, f.agent); err != nil {
			f.emitError(eventChan, runCtx.RunID, fmt.Errorf("request processor %s failed: %w", processor.Name(), err))
			return nil
		}
	}

	tools := f.agent.GetTools()
	if f.agent.IsFunctionCallingEnabled() && len(tools) > 0 {
		toolDefinitions := make([]model.ToolDefinition, 0, len(tools))
		for _, t := range tools {
			toolDefinitions = append(toolDefinitions, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}

		req.Tools = append(req.Tools, toolDefinitions...)
	}

	req.Stream = f.agent.IsStreamingEnabled()

	llm := f.agent.GetLLM()

	var lastEvent *core.Event

	// The model call is read-only; a transient failure on a turn that has not
	// emitted anything yet is retried exactly once before surfacing.
	for attempt := 0; ; attempt++ {
		if runCtx.Limiter != nil {
			if err := runCtx.Limiter.Increment(); err != nil {
				f.emitError(eventChan, runCtx.RunID, err)
				return nil
			}
		}

		respCh, errCh := llm.Generate(runCtx.Context, *req)

		emitted := false
		var genErr error

		// Both channels are drained to completion so an upstream error is
		// never lost to the response channel closing first.
		for respCh != nil || errCh != nil {
			select {
			case <-runCtx.Context.Done():
				return lastEvent
			case resp, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}

				for _, processor := range f.responseProcessors {
					if err := processor.ProcessResponse(runCtx, &resp, f.agent); err != nil {
						f.emitError(eventChan, runCtx.RunID, fmt.Errorf("response processor %s failed: %w", processor.Name(), err))
						return nil
					}
				}

				ev := core.NewEvent(runCtx.RunID, f.agent.GetName())
				ev.Content = &resp.Content
				ev.Partial = &resp.Partial

				// Mark turn complete if this is a final assistant response with no pending tool calls
				if !resp.Partial && len(ev.GetFunctionCalls()) == 0 {
					complete := true
					ev.TurnComplete = &complete

					if key := f.agent.GetOutputKey(); key != "" {
						if ev.Actions.StateDelta == nil {
							ev.Actions.StateDelta = map[string]any{}
						}
						ev.Actions.StateDelta[key] = resp.Content.Text()
					}
				}

				lastEvent = &ev

				select {
				case <-runCtx.Context.Done():
					return lastEvent
				case eventChan <- ev:
				}
				emitted = true

				// Wait for session persistence (runner signals resume after append)
				if !ev.IsPartial() && runCtx.Resume != nil {
					select {
					case <-runCtx.Context.Done():
						return lastEvent
					case <-runCtx.Resume:
					}
				}

				if fnCalls := ev.GetFunctionCalls(); len(fnCalls) > 0 {
					emit := func(respEv core.Event) error {
						select {
						case <-runCtx.Context.Done():
							return runCtx.Context.Err()
						case eventChan <- respEv:
						}
						lastEvent = &respEv

						if runCtx.Resume != nil {
							select {
							case <-runCtx.Context.Done():
								return runCtx.Context.Err()
							case <-runCtx.Resume:
							}
						}
						return nil
					}

					if err := f.executor.Execute(runCtx, f.agent, tools, fnCalls, emit); err != nil {
						var confirm *tool.ConfirmationRequired
						if errors.As(err, &confirm) {
							intEv := core.NewInterruptionEvent(runCtx.RunID, confirm.Pending)
							lastEvent = &intEv
							select {
							case <-runCtx.Context.Done():
								return lastEvent
							case eventChan <- intEv:
							}
							// Suspension: the runner persists the checkpoint, no
							// further model turns happen on this run.
							return lastEvent
						}

						f.emitError(eventChan, runCtx.RunID, err)
						return nil
					}
				}
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil {
					genErr = err
				}
			}
		}

		if genErr == nil {
			return lastEvent
		}
		if attempt == 0 && !emitted {
			runCtx.LogWarn("flow.model.retry", "agent", f.agent.GetName(), "error", genErr.Error())
			continue
		}

		runCtx.LogError("flow.model.error", "agent", f.agent.GetName(), "error", genErr.Error())
		f.emitError(eventChan, runCtx.RunID, &core.UpstreamError{Op: "model.generate", Retryable: true, Err: genErr})
		return nil
	}
}
