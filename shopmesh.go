// Package shopmesh is the high-level façade over the assistant core. It wires
// the agent hierarchy (root supervisor, domain supervisors, capability
// agents), the runner and session persistence into one object. Most
// applications interact with this package by:
//  1. Creating a ShopMesh via New() with two models and a commerce client
//  2. Calling Chat / ChatStream for user turns
//  3. Calling Resume when a turn suspended on a confirmation-gated action
//
// All defaults are safe for local development: in-memory sessions and a no-op
// logger. Production deployments supply the Redis store and a structured
// logger.
package shopmesh

import (
	"context"

	"github.com/shopmesh/shopmesh/assistant"
	"github.com/shopmesh/shopmesh/commerce"
	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/logging"
	"github.com/shopmesh/shopmesh/model"
	"github.com/shopmesh/shopmesh/runner"
	"github.com/shopmesh/shopmesh/session"
)

// Options configures the ShopMesh instance.
type Options struct {
	// StoreName appears in agent instructions.
	StoreName string

	// MaxConcurrentRuns bounds runs across all sessions.
	MaxConcurrentRuns int

	// EventBufferSize sets channel buffering for event processing.
	EventBufferSize int

	// MaxModelCalls limits model calls per run.
	MaxModelCalls int

	// SessionStore persists sessions (defaults to in-memory).
	SessionStore core.SessionStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ShopMesh aggregates the assistant hierarchy and its runner.
type ShopMesh struct {
	opts   Options
	root   core.Agent
	runner *runner.Runner
}

// New creates a ShopMesh instance. The supervisor model serves routing
// classification, the agent model serves the capability agents' tool loops,
// and the commerce client backs every tool.
func New(supervisorModel, agentModel model.Model, client *commerce.Client, optFns ...func(o *Options)) (*ShopMesh, error) {
	opts := Options{
		MaxConcurrentRuns: 32,
		EventBufferSize:   100,
		MaxModelCalls:     100,
		SessionStore:      session.NewInMemoryStore(),
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	root, err := assistant.New(assistant.Config{
		SupervisorModel: supervisorModel,
		AgentModel:      agentModel,
		Commerce:        client,
		StoreName:       opts.StoreName,
	})
	if err != nil {
		return nil, err
	}

	r := runner.New(root, func(o *runner.Options) {
		o.MaxConcurrentRuns = opts.MaxConcurrentRuns
		o.EventBufferSize = opts.EventBufferSize
		o.MaxModelCalls = opts.MaxModelCalls
		o.SessionStore = opts.SessionStore
		o.Logger = opts.Logger
	})

	return &ShopMesh{opts: opts, root: root, runner: r}, nil
}

// Runner exposes the underlying runner, e.g. for mounting the HTTP server.
func (m *ShopMesh) Runner() *runner.Runner { return m.runner }

// Root returns the root supervisor of the hierarchy.
func (m *ShopMesh) Root() core.Agent { return m.root }

// Chat submits a user turn and blocks until the run completes or suspends.
func (m *ShopMesh) Chat(ctx context.Context, sessionID, text string) (*runner.Outcome, error) {
	reply, err := m.runner.SubmitMessage(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	return reply.Wait()
}

// ChatStream submits a user turn and returns the live reply for streaming
// consumption.
func (m *ShopMesh) ChatStream(ctx context.Context, sessionID, text string) (*runner.Reply, error) {
	return m.runner.SubmitMessage(ctx, sessionID, text)
}

// Resume applies a decision to the session's pending action and blocks until
// the continuation completes or suspends again.
func (m *ShopMesh) Resume(ctx context.Context, sessionID string, decision core.Decision) (*runner.Outcome, error) {
	reply, err := m.runner.Resume(ctx, sessionID, decision)
	if err != nil {
		return nil, err
	}
	return reply.Wait()
}

// History returns the session's conversational events, newest-bounded by
// limit when positive.
func (m *ShopMesh) History(ctx context.Context, sessionID string, limit int) ([]core.Event, error) {
	return m.runner.History(ctx, sessionID, limit)
}

// Clear drops the session's history, state and any pending action.
func (m *ShopMesh) Clear(ctx context.Context, sessionID string) error {
	return m.runner.Clear(ctx, sessionID)
}
