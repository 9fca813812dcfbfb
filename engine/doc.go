// Package engine implements the dispatch loop that drives one user turn.
//
// The Engine owns two registries, agents and tools, keyed by handler name. A
// turn always starts with the router (welcome_user). After that the engine
// repeatedly inspects the newest event log entry and dispatches the handlers
// it names:
//
//	routing ──► tool_dispatch ──┐
//	   │                        ├──► (inspect newest entry) ──► terminal
//	   └──────► agent_dispatch ─┘                            ├─► budget_exceeded
//	                                                         └─► idle
//
// # Phases
//
//   - routing: the router is invoked once at turn start
//   - tool_dispatch: the newest entry is a tool call; every listed tool runs
//   - agent_dispatch: the newest entry is a handoff; every listed agent runs
//   - terminal: respond_to_human ran; the state is persisted and the loop ends
//     even if later instructions of the same entry were never dispatched
//   - budget_exceeded: MaxSteps iterations passed without terminal delivery;
//     a canned apology becomes the final answer and the state is persisted
//   - idle: the newest entry carries nothing to dispatch
//
// # Failures
//
// Unknown targets are written back to the router as recovery handoffs. A
// handler error or panic is fatal when it comes from the router and is
// converted into a recovery handoff otherwise. Only fatal router failures,
// callback errors and persistence failures are returned from Run.
//
// # Observability
//
// Every dispatch opens an OpenTelemetry span and increments a step counter.
// Callbacks registered with RegisterCallback observe steps as they happen;
// StatusCallback uses this to push progress notifications to the session's
// real-time channel.
package engine
