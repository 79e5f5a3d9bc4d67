package agent

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/shopmesh/shopmesh/core"
	"github.com/shopmesh/shopmesh/model"
)

// PlanStep is one delegation in a supervisor's ordered plan.
type PlanStep struct {
	Agent   string // routing table intent key or sub-agent name
	Request string // rewritten request for the delegated agent
}

// Plan is the outcome of a supervisor's classification call: either an
// ordered delegation sequence or a direct response when no capability is
// needed (greetings, unroutable requests, clarification questions).
type Plan struct {
	Steps   []PlanStep
	Respond string
}

// SupervisorOptions configures a Supervisor instance.
type SupervisorOptions struct {
	Instruction        Instruction
	Routes             map[string]string   // intent key -> sub-agent name
	Prefetch           map[string][]string // sub-agent name -> sibling agents run first
	MaxHistoryMessages int
}

// Supervisor is a pure routing agent: one classification model call produces
// an ordered delegation plan against a static routing table, then the plan's
// sub-agents run sequentially with each step's output appended to the next
// step's request. The supervisor itself never executes commerce operations.
//
// A step can declare prefetch siblings (configured per target agent); each is
// a synchronous nested call made before the step so its result is available as
// context, e.g. fetching directory regions before an order is created.
//
// A suspended delegation (pending human confirmation) stops the plan; the
// remaining steps are abandoned, not queued.
type Supervisor struct {
	BaseAgent
	llm         model.Model
	instruction Instruction
	routes      map[string]string
	prefetch    map[string][]string
	maxHistory  int
}

// NewSupervisor creates a routing supervisor over the given model. Sub-agents
// are attached with SetSubAgents; the routing table maps the intents named in
// the classification prompt to sub-agent names.
func NewSupervisor(name string, llm model.Model, optFns ...func(o *SupervisorOptions)) *Supervisor {
	opts := SupervisorOptions{
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, a routing supervisor.", name)),
		Routes:             map[string]string{},
		Prefetch:           map[string][]string{},
		MaxHistoryMessages: 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Supervisor{
		BaseAgent:   NewBaseAgent(name),
		llm:         llm,
		instruction: opts.Instruction,
		routes:      opts.Routes,
		prefetch:    opts.Prefetch,
		maxHistory:  opts.MaxHistoryMessages,
	}
}

// Run implements core.Agent: classify once, then delegate per plan.
func (s *Supervisor) Run(parentCtx *core.RunContext) error {
	rc := parentCtx.Clone()
	rc.Agent = core.AgentInfo{Name: s.Name(), Type: "supervisor"}

	rc.LogDebug("supervisor.run.start", "agent", s.Name(), "run", rc.RunID)

	answer, err := s.classify(rc)
	if err != nil {
		return err
	}

	plan := ParsePlan(answer)

	if len(plan.Steps) == 0 {
		// Nothing to delegate: the classification answer is the reply.
		text := plan.Respond
		if text == "" {
			text = answer
		}
		return s.emitFinal(rc, text)
	}

	rc.LogDebug("supervisor.plan", "agent", s.Name(), "steps", len(plan.Steps))

	carry := ""
	for _, step := range plan.Steps {
		target := s.resolveTarget(step.Agent)
		if target == nil {
			rc.LogWarn("supervisor.route.unknown", "agent", s.Name(), "target", step.Agent)
			return s.emitFinal(rc, fmt.Sprintf("I'm not able to handle that request (no handler for %q). Could you rephrase it?", step.Agent))
		}

		request := step.Request
		if request == "" {
			request = rc.UserContent.Text()
		}

		if prefetched := s.runPrefetch(rc, target.Name(), request); prefetched != "" {
			request += "\n\n" + prefetched
		}
		if carry != "" {
			request += "\n\nResult of the previous step:\n" + carry
		}

		out, suspended, err := s.runStep(rc, target, request)
		if err != nil {
			return fmt.Errorf("delegation to %s failed: %w", target.Name(), err)
		}
		if suspended {
			// A pending action halts the plan; the runner persists the
			// checkpoint and the remaining steps are abandoned.
			rc.LogDebug("supervisor.plan.suspended", "agent", s.Name(), "at", target.Name())
			return nil
		}
		if out != "" {
			carry = out
		}
	}

	return nil
}

// classify makes the single routing model call and returns its text answer.
func (s *Supervisor) classify(rc *core.RunContext) (string, error) {
	if err := rc.Limiter.Increment(); err != nil {
		return "", err
	}

	prompt, err := s.instruction.Resolve(rc)
	if err != nil {
		return "", fmt.Errorf("failed to resolve instruction: %w", err)
	}
	prompt += "\n\n" + s.routingPrompt()

	contents := []core.Content{{
		Role:  "system",
		Parts: []core.Part{core.TextPart{Text: prompt}},
	}}

	if rc.Session != nil {
		history := rc.Session.GetConversationHistory()
		if len(history) > s.maxHistory {
			history = history[len(history)-s.maxHistory:]
		}
		for _, ev := range history {
			if ev.Content != nil && len(ev.Content.Parts) > 0 {
				contents = append(contents, *ev.Content)
			}
		}
	}

	if text := rc.UserContent.Text(); text != "" {
		last := contents[len(contents)-1]
		if last.Role != "user" || last.Text() != text {
			contents = append(contents, core.Content{
				Role:  "user",
				Parts: []core.Part{core.TextPart{Text: text}},
			})
		}
	}

	req := model.Request{
		Instructions: prompt,
		Contents:     contents,
	}

	// Classification is a read-only call; a transient failure is retried once.
	var answer string
	for attempt := 0; ; attempt++ {
		respCh, errCh := s.llm.Generate(rc.Context, req)

		answer = ""
		for resp := range respCh {
			if !resp.Partial {
				answer = resp.Content.Text()
			}
		}

		err := <-errCh
		if err == nil {
			break
		}
		if attempt == 0 {
			rc.LogWarn("supervisor.classify.retry", "agent", s.Name(), "error", err.Error())
			if lerr := rc.Limiter.Increment(); lerr != nil {
				return "", lerr
			}
			continue
		}

		return "", &core.UpstreamError{Op: "supervisor.classify", Retryable: true, Err: err}
	}

	return strings.TrimSpace(answer), nil
}

// routingPrompt renders the static routing table for the classification call.
func (s *Supervisor) routingPrompt() string {
	var b strings.Builder
	b.WriteString("You route requests; you never answer domain questions yourself.\n")
	b.WriteString("Available handlers:\n")
	for _, child := range s.SubAgents() {
		fmt.Fprintf(&b, "- %s: %s\n", child.Name(), child.Description())
	}
	if len(s.routes) > 0 {
		b.WriteString("Intent mapping:\n")
		for intent, name := range s.routes {
			fmt.Fprintf(&b, "- %s -> %s\n", intent, name)
		}
	}
	b.WriteString("\nReply with JSON only. To delegate:\n")
	b.WriteString(`{"steps": [{"agent": "<handler>", "request": "<rewritten request>"}]}` + "\n")
	b.WriteString("List several steps in execution order when the request spans handlers.\n")
	b.WriteString("To answer directly (greeting, unroutable, needs clarification):\n")
	b.WriteString(`{"respond": "<your reply>"}`)
	return b.String()
}

// ParsePlan extracts a delegation plan from a classification answer. Anything
// that is not well-formed plan JSON yields an empty plan, which callers treat
// as a direct response.
func ParsePlan(s string) Plan {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !gjson.Valid(s) {
		return Plan{}
	}

	root := gjson.Parse(s)
	if respond := root.Get("respond"); respond.Exists() {
		return Plan{Respond: respond.String()}
	}

	var plan Plan
	root.Get("steps").ForEach(func(_, step gjson.Result) bool {
		name := step.Get("agent").String()
		if name == "" {
			return true
		}
		plan.Steps = append(plan.Steps, PlanStep{
			Agent:   name,
			Request: step.Get("request").String(),
		})
		return true
	})

	return plan
}

// resolveTarget maps a plan step to a runnable agent: routing table intent
// first, then a direct sub-agent name match.
func (s *Supervisor) resolveTarget(name string) core.Agent {
	if mapped, ok := s.routes[name]; ok {
		name = mapped
	}
	for _, child := range s.SubAgents() {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// lookupSibling resolves an agent that may live outside this supervisor's
// subtree (a sibling domain under the root).
func (s *Supervisor) lookupSibling(name string) core.Agent {
	for _, child := range s.SubAgents() {
		if child.Name() == name {
			return child
		}
	}
	for p := s.Parent(); p != nil; p = p.Parent() {
		if found := p.FindAgent(name); found != nil {
			return found
		}
	}
	return nil
}

// runPrefetch runs the configured prefetch siblings for a step target, each as
// a synchronous nested call in configuration order, and returns their combined
// output as context text. Prefetch is support data: failures are logged and
// skipped, never fatal for the step.
func (s *Supervisor) runPrefetch(rc *core.RunContext, targetName, request string) string {
	names := s.prefetch[targetName]
	if len(names) == 0 {
		return ""
	}

	var results []string
	for _, name := range names {
		sibling := s.lookupSibling(name)
		if sibling == nil {
			rc.LogWarn("supervisor.prefetch.unknown", "agent", s.Name(), "sibling", name)
			continue
		}

		out, _, err := s.runStep(rc, sibling, request)
		if err != nil {
			rc.LogWarn("supervisor.prefetch.failed", "agent", s.Name(), "sibling", sibling.Name(), "error", err.Error())
			continue
		}
		if out != "" {
			results = append(results, fmt.Sprintf("Context from %s:\n%s", sibling.Name(), out))
		}
	}

	return strings.Join(results, "\n\n")
}

// runStep executes one delegation with an intercepting event channel so the
// supervisor can observe the child's stream: it records the final answer text
// for step chaining, detects suspension, and filters transfer chatter before
// forwarding events upstream.
func (s *Supervisor) runStep(rc *core.RunContext, target core.Agent, request string) (output string, suspended bool, err error) {
	intercept := make(chan core.Event, 32)
	branch := buildBranchPath(rc.Branch, fmt.Sprintf("%s.%s", s.Name(), target.Name()))

	childCtx := rc.NewChildContext(intercept, rc.Resume, branch)
	childCtx.UserContent = core.Content{
		Role:  "user",
		Parts: []core.Part{core.TextPart{Text: request}},
	}

	done := make(chan error, 1)
	go func() {
		done <- target.Run(childCtx)
		close(intercept)
	}()

	for ev := range intercept {
		switch {
		case ev.IsInterruption():
			suspended = true
		case !ev.IsPartial() && len(ev.GetFunctionCalls()) == 0 && len(ev.GetFunctionResponses()) == 0:
			if text := ev.Text(); text != "" {
				output = text
			}
		}

		if isTransferChatter(ev) {
			continue
		}

		select {
		case rc.Emit <- ev:
		case <-rc.Context.Done():
			<-done
			return "", false, rc.Err()
		}
	}

	if runErr := <-done; runErr != nil {
		return "", false, runErr
	}

	return output, suspended, nil
}

// isTransferChatter reports whether an event is pure handoff mechanics
// (transfer_to_agent calls and their acknowledgements) that should not reach
// the caller.
func isTransferChatter(ev core.Event) bool {
	calls := ev.GetFunctionCalls()
	responses := ev.GetFunctionResponses()
	if len(calls) == 0 && len(responses) == 0 {
		return false
	}
	for _, c := range calls {
		if c.Name != "transfer_to_agent" {
			return false
		}
	}
	for _, r := range responses {
		if r.Name != "transfer_to_agent" {
			return false
		}
	}
	return true
}

// emitFinal sends a completed assistant turn authored by the supervisor.
func (s *Supervisor) emitFinal(rc *core.RunContext, text string) error {
	ev := core.NewMessageEvent(s.Name(), text)
	ev.RunID = rc.RunID
	complete := true
	ev.TurnComplete = &complete
	return rc.EmitEvent(ev)
}
