package engine

// DefaultMaxToolRoundTrips bounds chained tool calls per turn.
const DefaultMaxToolRoundTrips = 8

// Config holds configuration for the turn coordinator.
type Config struct {
	// Model is passed to the provider on every call.
	Model string

	// Instructions is the system prompt of the agent.
	Instructions string

	// Temperature is optional; nil leaves the provider default.
	Temperature *float64

	// AgentName attributes assistant messages until a handoff names
	// another agent.
	AgentName string

	// MaxToolRoundTrips is the number of tool calls one turn may resolve.
	// Zero or negative means DefaultMaxToolRoundTrips.
	MaxToolRoundTrips int

	// ParallelToolCalls resolves the tool calls of one model response
	// concurrently. Outputs keep the order of the calls either way.
	ParallelToolCalls bool
}

// maxRoundTrips returns the effective budget.
func (c Config) maxRoundTrips() int {
	if c.MaxToolRoundTrips <= 0 {
		return DefaultMaxToolRoundTrips
	}
	return c.MaxToolRoundTrips
}

func (c Config) agentName() string {
	if c.AgentName == "" {
		return "assistant"
	}
	return c.AgentName
}
