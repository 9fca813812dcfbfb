// Package runner owns the lifecycle of a single user turn.
//
// A Runner resolves the chat session, builds a fresh core.State seeded with
// the in-memory session history and, when that history is short, with recent
// turns from the durable store. It then hands the state to the dispatch
// engine and maps the outcome onto a Reply.
//
// Failures never reach the caller as raw errors: a fatal turn produces a
// *TurnError carrying a generic apology and a technical error ID that is also
// logged, so operators can correlate the two.
//
// A conversation ID can only be run once at a time; a concurrent second run
// fails with ErrTurnInProgress.
package runner
