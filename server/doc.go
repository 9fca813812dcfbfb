// Package server exposes the chat turn over HTTP and WebSocket.
//
// Routes:
//
//	POST /chat                  run one turn
//	GET  /health                liveness and open connection count
//	POST /end-session           save and close a live session
//	GET  /sessions?user_id=     stored sessions of a user
//	GET  /sessions/{id}         one stored session with its messages
//	GET  /ws/{session_id}       real-time channel of a session
//
// The Hub keeps one WebSocket connection per session and serializes writes
// to it. It implements core.Sender, so step notifications emitted during a
// turn reach the browser on the same connection as the final reply.
package server
