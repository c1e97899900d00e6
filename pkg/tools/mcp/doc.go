// Package mcp turns the tools of MCP (Model Context Protocol) servers into
// tools.Binding values. Each configured server is connected once; its
// tools are discovered and registered alongside the in-process tools, and
// a call to one of them is forwarded to the server with CallTool.
//
// The package wraps the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk). Servers are reached over
// streamable HTTP, SSE, or a local command speaking MCP on stdio.
package mcp
