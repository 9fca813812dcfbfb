// Package model defines the provider-agnostic abstraction for the language
// models that generate step instructions.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal (role-tagged text in, text out)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement Model so agents stay decoupled from
// vendor SDKs. Output format compliance is never assumed; callers parse the
// returned text with the parser package.
package model
