package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/tools"
)

// setupTestServer starts an MCP server with the given tools and connects a
// client to it over in-memory transports.
func setupTestServer(t *testing.T, name string, serverTools map[string]mcp.ToolHandler) *Client {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	for toolName, handler := range serverTools {
		server.AddTool(
			&mcp.Tool{
				Name:        toolName,
				Description: "Test tool: " + toolName,
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
					},
				},
			},
			handler,
		)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := NewClient(ServerConfig{Name: name})
	if err := client.ConnectWithTransport(ctx, clientTransport); err != nil {
		t.Fatalf("ConnectWithTransport failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func text(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func greet(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	return text("Hello, " + args.Name + "!"), nil
}

func TestBindings(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"greet": greet,
		"get_time": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return text("12:00"), nil
		},
	})

	bindings, err := client.Bindings(context.Background())
	if err != nil {
		t.Fatalf("Bindings failed: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}

	names := map[string]bool{}
	for _, b := range bindings {
		names[b.Name] = true
		if !strings.HasPrefix(b.Description, "Test tool") {
			t.Errorf("description = %q", b.Description)
		}
		if !json.Valid(b.InputSchema) {
			t.Errorf("schema for %s is not JSON: %s", b.Name, b.InputSchema)
		}
	}
	if !names["greet"] || !names["get_time"] {
		t.Errorf("names = %v", names)
	}
}

func TestResolveThroughMCP(t *testing.T) {
	client := setupTestServer(t, "test-server", map[string]mcp.ToolHandler{
		"greet": greet,
		"fail": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res := text("quota exhausted")
			res.IsError = true
			return res, nil
		},
	})

	reg := tools.NewRegistry()
	if n := NewServers(client).Register(context.Background(), reg); n != 2 {
		t.Fatalf("registered %d tools, want 2", n)
	}
	resolver := tools.NewResolver(reg, 0)

	out, apiErr := resolver.Resolve(context.Background(), api.NewToolCall("greet", "call_123", `{"name":"World"}`))
	if apiErr != nil {
		t.Fatalf("Resolve failed: %v", apiErr)
	}
	if out.ToolOutput.CallID != "call_123" || out.ToolOutput.Output != "Hello, World!" {
		t.Errorf("output = %+v", out.ToolOutput)
	}

	out, apiErr = resolver.Resolve(context.Background(), api.NewToolCall("fail", "call_456", `{}`))
	if apiErr == nil || apiErr.Type != api.ErrorTypeToolExecution {
		t.Fatalf("error = %v, want tool execution error", apiErr)
	}
	if !strings.Contains(out.ToolOutput.Output, "quota exhausted") {
		t.Errorf("error output = %q", out.ToolOutput.Output)
	}

	// Schema from the server is enforced.
	_, apiErr = resolver.Resolve(context.Background(), api.NewToolCall("greet", "call_789", `{"name":42}`))
	if apiErr == nil || apiErr.Type != api.ErrorTypeToolValidation {
		t.Errorf("error = %v, want validation error", apiErr)
	}
}

func TestRegisterKeepsFirstBinding(t *testing.T) {
	clientA := setupTestServer(t, "server-a", map[string]mcp.ToolHandler{
		"shared": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return text("from server A"), nil
		},
	})
	clientB := setupTestServer(t, "server-b", map[string]mcp.ToolHandler{
		"shared": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return text("from server B"), nil
		},
		"only_b": func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return text("b"), nil
		},
	})

	servers := NewServers(clientA, clientB)
	reg := tools.NewRegistry()
	if n := servers.Register(context.Background(), reg); n != 2 {
		t.Errorf("registered %d tools, want 2", n)
	}

	out, apiErr := tools.NewResolver(reg, 0).Resolve(context.Background(), api.NewToolCall("shared", "c1", `{}`))
	if apiErr != nil || out.ToolOutput.Output != "from server A" {
		t.Errorf("shared tool output = %q (%v), want server A", out.ToolOutput.Output, apiErr)
	}
	if servers.Len() != 2 {
		t.Errorf("Len = %d", servers.Len())
	}
}

func TestBindingsNotConnected(t *testing.T) {
	_, err := NewClient(ServerConfig{Name: "offline"}).Bindings(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("err = %v", err)
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{"http ok", ServerConfig{Name: "a", URL: "http://localhost:9000/mcp"}, ""},
		{"sse ok", ServerConfig{Name: "a", Transport: TransportSSE, URL: "http://x"}, ""},
		{"command ok", ServerConfig{Name: "a", Transport: TransportCommand, Command: []string{"mcp-server"}}, ""},
		{"missing name", ServerConfig{URL: "http://x"}, "name is required"},
		{"missing url", ServerConfig{Name: "a"}, "url is required"},
		{"missing command", ServerConfig{Name: "a", Transport: TransportCommand}, "command is required"},
		{"bad transport", ServerConfig{Name: "a", Transport: "carrier-pigeon"}, "unsupported transport"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConnectSkipsUnreachable(t *testing.T) {
	servers := Connect(context.Background(), []ServerConfig{
		{Name: "bad", Transport: "carrier-pigeon"},
	})
	if servers.Len() != 0 {
		t.Errorf("Len = %d, want 0", servers.Len())
	}
	if err := servers.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
