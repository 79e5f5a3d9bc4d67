// Package session provides core.SessionStore implementations: a process-local
// in-memory store for tests and demos, and a Redis-backed store for
// deployments where conversations must survive process restarts.
//
// Both stores honor the single-checkpoint-slot contract: SaveCheckpoint
// persists the checkpoint and its interruption event together or not at all,
// and fails with core.ErrCheckpointExists while a checkpoint is live.
package session
