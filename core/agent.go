package core

// Agent defines the core interface that all agents in ShopMesh must implement.
//
// Agents are the processing units of the routing hierarchy: supervisors
// classify and delegate, capability agents execute bounded tasks. They
// receive input through a RunContext, process it asynchronously, and emit
// events to communicate results and suspension signals back to the runner.
//
// Implementations must:
//   - Respect context cancellation for graceful shutdown
//   - Emit events through the provided RunContext
//   - Manage their lifecycle through Start/Stop methods
type Agent interface {
	Name() string
	Start(runCtx *RunContext) error
	Stop(runCtx *RunContext) error
	Run(runCtx *RunContext) error
	SetSubAgents(children ...Agent) error
	SubAgents() []Agent
	Parent() Agent
	FindAgent(name string) Agent
	Description() string
}

// AgentInfo carries identifying details about an agent used in contexts &
// events. Name is the external identifier; Type categorizes the
// implementation (e.g. "supervisor", "capability").
type AgentInfo struct{ Name, Type string }
