package runtime

// AgentContext is one frame of the chain of agents calling each other.
type AgentContext struct {
	agent Agent
	outer *AgentContext
	depth int
}

func newAgentContext(agent Agent, outer *AgentContext) *AgentContext {
	ac := &AgentContext{agent: agent, outer: outer}
	if outer != nil {
		ac.depth = outer.depth + 1
	}
	return ac
}

// Agent returns the agent of this frame.
func (c *AgentContext) Agent() Agent {
	if c == nil {
		return nil
	}
	return c.agent
}

// Outer returns the calling frame, nil for the anchor.
func (c *AgentContext) Outer() *AgentContext {
	return c.outer
}

// Depth returns the number of frames between c and the anchor.
func (c *AgentContext) Depth() int {
	return c.depth
}

// CreateCopy copies the chain from c outward.
func (c *AgentContext) CreateCopy() *AgentContext {
	if c == nil {
		return nil
	}
	return &AgentContext{agent: c.agent, depth: c.depth, outer: c.outer.CreateCopy()}
}

// Dispose detaches the frame.
func (c *AgentContext) Dispose() {
	c.agent = nil
	c.outer = nil
}
