// Package runtime mediates the execution of simulated agents.
//
// Every statement, expression and step of every agent runs through a Scope.
// A Scope supplies the execution context (temporary variables, the symbol
// being executed, the agent currently acting), enforces control-flow
// interruption and normalizes failures.
//
// # Key Components
//
// ExecutionContext: a chain of frames holding local variable bindings and the
// symbol attached to each frame. Frames link to an outer frame and form a
// strictly nested stack per Scope.
//
// AgentContext: a chain of frames recording which agent is current at each
// depth of agent-to-agent calls. It is independent from the variable frames.
//
// Flow: the single pending control-flow status of a Scope (break, return,
// continue, die, dispose). A status is consumed with TakeIf, which clears it
// only when it matches the status the handler owns.
//
// Scope: the facade agents and statements interact with. It owns one chain of
// each kind and exposes Init, Step, Execute and Evaluate with uniform
// results and error handling. Copy produces an independent Scope for a
// parallel branch.
//
// # Push and Pop
//
// Push is conditional and Pop is not:
//
//	if s.Push(agent) {
//	    defer s.Pop(agent)
//	}
//
// Pushing the agent that is already current creates no frame and reports
// false, so the matching Pop must be skipped. Pop always removes the most
// recent frame and consumes a pending Die status: the death of an agent
// unwinds only as far as its own frame.
//
// # Results and Errors
//
// Init, Step, Execute and Evaluate return an ExecutionResult and an error.
// They short-circuit to Failed, with no side effect, when the target agent is
// nil or dead or when the Scope is already interrupted; a disposed Scope
// fails fast with ErrScopeDisposed. So do the variable, symbol and Pop
// operations of a disposed Scope. Lookups and Push keep their signatures,
// log the attempt at Warn and leave Err to report the disposal.
//
// Failures are normalized into *RuntimeError, attributed to the agent
// currently pushed, and handed to the Scope's ErrorPolicy, which decides
// whether to surface them and whether the caller must see the error. In try
// mode the error is returned immediately and the policy is bypassed. Failures
// wrapping ErrResourceExhausted go to the FatalHandler instead and are never
// retried.
//
// # Concurrency
//
// A Scope serves one logical call chain at a time. Parallel branches each use
// their own Copy. Only Push and Pop are guarded by a mutex, because the agent
// chain is mutated in place.
package runtime
