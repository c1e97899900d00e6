// Package tools holds the tool bindings the model may call and resolves
// tool-call items into tool-output items.
//
// A Binding pairs a name and JSON input schema with an Invoke function.
// Bindings are collected in a Registry (first registration of a name
// wins) and executed by a Resolver, which never fails a turn: unknown
// tools, invalid arguments, errors and panics all become tool-output
// items carrying an error payload the model can read.
//
// Bindings come from Go functions (NewFunc) or from MCP servers (see the
// mcp subpackage).
package tools
