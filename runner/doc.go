// Package runner is the external interface of the assistant core. It owns
// the lifecycle of a run: it serializes requests per session, appends the
// user turn, drives the agent hierarchy, persists every emitted event, and
// suspends the session when a confirmation-gated action is raised.
//
// Contract highlights:
//   - One request per session at a time; a concurrent call gets core.ErrBusy.
//   - A session with a live checkpoint rejects new messages with
//     core.ErrCheckpointPending until Resume resolves it.
//   - A suspension persists atomically: the checkpoint and its interruption
//     event are written in one store operation.
//   - Resume never re-runs the conversation; it executes the decided action
//     and continues the recorded capability agent's loop.
package runner
