// Package api defines the core data types of the verlauf session engine.
//
// A session owns an append-only log of [Item] values. Items are immutable
// once appended; each carries exactly one kind-specific payload and a
// store-assigned sequence number. During a turn, provider output is
// normalized into [StreamEvent] values before it is folded into the log.
//
// Core types:
//   - [Item]: one conversation step (message, tool call, tool output, reasoning, handoff)
//   - [Session]: an isolated, named conversation history and its lifecycle state
//   - [StreamEvent]: closed union of normalized streaming output
//   - [APIError]: structured error with type, code, param, and message
//
// The package performs no I/O and depends only on the standard library.
package api
