// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger.
//
// Three building blocks are offered:
//   - Logger: the four-method interface every package accepts.
//   - SlogAdapter / NoOpLogger: adapters for an existing *slog.Logger and for
//     silence in tests.
//   - TurnLogger: a configurable logger with session/conversation context and
//     helpers for step, model call and turn records. With the "otel" format
//     records are handed to the OpenTelemetry log bridge.
//
// Arguments are slog-style alternating key/value pairs.
package logging
