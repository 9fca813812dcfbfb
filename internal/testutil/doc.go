// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing event log entries and turn states. They are
// not intended for production usage.
package testutil
