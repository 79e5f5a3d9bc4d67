// Package core provides the foundational domain types, interfaces and execution
// contexts used by ShopMesh. It defines the core abstractions for:
//
//   - Agents (supervisors and capability agents in the routing hierarchy)
//   - Sessions (stateful conversational containers with an append-only event
//     history and a single checkpoint slot)
//   - Events (immutable communication + orchestration records)
//   - PendingAction / Checkpoint / Decision (the suspend-resume protocol for
//     human confirmation of side-effecting operations)
//   - RunContext / ToolContext (scoped execution & tool sandboxing)
//
// The package intentionally keeps implementation concerns (persistence, runner
// orchestration, concrete agents) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
