// Package agent implements the routing hierarchy of the assistant:
// supervisors and capability agents.
//
// A Supervisor never touches commerce operations itself. It makes a single
// classification model call, turns the answer into an ordered delegation
// plan against its static routing table, and runs the matching sub-agents
// sequentially, feeding each step's output into the next step's request.
//
// A CapabilityAgent is a leaf executor: a model-driven react loop over a
// bounded tool set. Read-only tools run eagerly; irreversible tools are
// wrapped with tool.WithConfirmation so invoking them suspends the run with
// a pending action instead of executing.
//
// BaseAgent supplies the shared lifecycle and hierarchy plumbing both embed.
package agent
