// Package docs provides read-only document stores implementing
// core.DocumentStore: Dir reads files from a directory and Memory keeps
// documents in process for tests and examples.
package docs
