package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/tools"
	verlaufmcp "github.com/rhuss/verlauf/pkg/tools/mcp"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// connect serves newServer over in-memory transports and registers its
// tools the same way verlauf does for configured MCP servers.
func connect(t *testing.T) *tools.Resolver {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = newServer(func() time.Time { return fixedNow }).Run(ctx, serverTransport)
	}()

	client := verlaufmcp.NewClient(verlaufmcp.ServerConfig{Name: "local"})
	if err := client.ConnectWithTransport(ctx, clientTransport); err != nil {
		t.Fatalf("ConnectWithTransport failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	reg := tools.NewRegistry()
	if n := verlaufmcp.NewServers(client).Register(ctx, reg); n != 2 {
		t.Fatalf("registered %d tools, want 2", n)
	}
	return tools.NewResolver(reg, time.Second)
}

func TestWordCount(t *testing.T) {
	resolver := connect(t)

	out, apiErr := resolver.Resolve(context.Background(),
		api.NewToolCall("word_count", "call_1", `{"text":"one two\nthree"}`))
	if apiErr != nil {
		t.Fatalf("Resolve failed: %v", apiErr)
	}
	if out.ToolOutput.Output != "3 words, 13 characters, 2 lines" {
		t.Errorf("output = %q", out.ToolOutput.Output)
	}

	// The input schema published over MCP is enforced before the call.
	_, apiErr = resolver.Resolve(context.Background(),
		api.NewToolCall("word_count", "call_2", `{"text":7}`))
	if apiErr == nil || apiErr.Type != api.ErrorTypeToolValidation {
		t.Errorf("error = %v, want validation error", apiErr)
	}
}

func TestCurrentTime(t *testing.T) {
	resolver := connect(t)

	out, apiErr := resolver.Resolve(context.Background(),
		api.NewToolCall("current_time", "call_1", `{}`))
	if apiErr != nil {
		t.Fatalf("Resolve failed: %v", apiErr)
	}
	if out.ToolOutput.Output != "2026-03-14T15:09:26Z" {
		t.Errorf("output = %q", out.ToolOutput.Output)
	}

	out, apiErr = resolver.Resolve(context.Background(),
		api.NewToolCall("current_time", "call_2", `{"zone":"Mars/Olympus"}`))
	if apiErr == nil || apiErr.Type != api.ErrorTypeToolExecution {
		t.Fatalf("error = %v, want tool execution error", apiErr)
	}
	if !strings.Contains(out.ToolOutput.Output, "unknown time zone") {
		t.Errorf("output = %q", out.ToolOutput.Output)
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want wordCountOutput
	}{
		{"", wordCountOutput{}},
		{"hello", wordCountOutput{Words: 1, Characters: 5, Lines: 1}},
		{"a b\n", wordCountOutput{Words: 2, Characters: 4, Lines: 1}},
		{"grüße  welt\n\nzwei", wordCountOutput{Words: 3, Characters: 17, Lines: 3}},
	}
	for _, tt := range tests {
		if got := countWords(tt.in); got != tt.want {
			t.Errorf("countWords(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestRunHelp(t *testing.T) {
	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-h"}, &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "-addr") {
		t.Errorf("usage = %q", stderr.String())
	}
}
