// Package core provides the foundational domain types and contracts used by
// relaymesh. It defines the core abstractions for:
//
//   - State (the mutable conversation context threaded through one turn)
//   - EventLog / Entry (the append-only execution trace of a turn)
//   - Payload (the closed set of step outcomes: terminal, tool call, handoff)
//   - Handler (a single agent or tool step)
//   - Collaborator contracts for documents, conversation persistence and
//     real-time delivery
//
// The package keeps implementation concerns (dispatch, concrete handlers,
// storage backends, transport) out of scope, exposing small interfaces so
// backends can be swapped without touching the dispatch core.
package core
