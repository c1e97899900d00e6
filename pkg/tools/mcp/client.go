package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/tools"
)

// Client is a connection to a single MCP server.
type Client struct {
	cfg     ServerConfig
	session *mcp.ClientSession
}

// NewClient creates a Client for cfg. Call Connect before use.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Connect performs the MCP handshake over the configured transport.
func (c *Client) Connect(ctx context.Context) error {
	transport, err := c.createTransport()
	if err != nil {
		return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
	}
	return c.ConnectWithTransport(ctx, transport)
}

// ConnectWithTransport performs the MCP handshake over transport.
func (c *Client) ConnectWithTransport(ctx context.Context, transport mcp.Transport) error {
	client := mcp.NewClient(
		&mcp.Implementation{Name: "verlauf", Version: "1.0.0"},
		&mcp.ClientOptions{Capabilities: &mcp.ClientCapabilities{}},
	)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	return nil
}

func (c *Client) createTransport() (mcp.Transport, error) {
	var httpClient *http.Client
	if len(c.cfg.Headers) > 0 {
		httpClient = &http.Client{
			Transport: &headerTransport{base: http.DefaultTransport, headers: c.cfg.Headers},
		}
	}

	switch c.cfg.transport() {
	case TransportSSE:
		t := &mcp.SSEClientTransport{Endpoint: c.cfg.URL}
		if httpClient != nil {
			t.HTTPClient = httpClient
		}
		return t, nil

	case TransportStreamableHTTP:
		t := &mcp.StreamableClientTransport{Endpoint: c.cfg.URL}
		if httpClient != nil {
			t.HTTPClient = httpClient
		}
		return t, nil

	case TransportCommand:
		if len(c.cfg.Command) == 0 {
			return nil, errors.New("empty command")
		}
		return &mcp.CommandTransport{Command: exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)}, nil
	}
	return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// Bindings lists the server's tools and returns one binding per tool.
func (c *Client) Bindings(ctx context.Context) ([]tools.Binding, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	var bindings []tools.Binding
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		b, err := c.binding(tool)
		if err != nil {
			return nil, fmt.Errorf("converting tool %q from %q: %w", tool.Name, c.cfg.Name, err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func (c *Client) binding(t *mcp.Tool) (tools.Binding, error) {
	var schema json.RawMessage
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return tools.Binding{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		schema = data
	}

	name := t.Name
	return tools.Binding{
		Name:        name,
		Description: t.Description,
		InputSchema: schema,
		Invoke: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			return c.callTool(ctx, name, arguments)
		},
	}, nil
}

// callTool forwards one call. A result flagged IsError becomes an error
// whose message is the tool's text output.
func (c *Client) callTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", fmt.Errorf("invalid arguments JSON: %w", err)
		}
	}

	debug.Log("mcp", "calling tool", "server", c.cfg.Name, "tool", name)
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("MCP server %q: %w", c.cfg.Name, err)
	}

	output := resultText(result)
	if result.IsError {
		return "", errors.New(output)
	}
	return output, nil
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Close closes the MCP session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
