// Package session tracks live chat sessions in process memory.
//
// A session carries the running conversation history of a user between
// turns. Sessions expire after a period of inactivity; expired and
// explicitly ended sessions are written to the durable conversation store
// before they are dropped, unless their latest turn was already persisted.
package session
