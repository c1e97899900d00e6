package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhuss/verlauf/pkg/api"
)

// offline points every command at the dry-run model and a sqlite file in
// a temp dir, so sessions survive between invocations.
func offline(t *testing.T) {
	t.Helper()
	for _, name := range []string{"VERLAUF_CONFIG", "VERLAUF_MCP_SERVERS", "OPENAI_API_KEY", "VERLAUF_DEBUG"} {
		t.Setenv(name, "")
	}
	t.Chdir(t.TempDir())
	t.Setenv("DRY_RUN", "1")
	t.Setenv("VERLAUF_STORAGE", "sqlite")
	t.Setenv("VERLAUF_SQLITE_PATH", filepath.Join(t.TempDir(), "sessions.db"))
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestChatRemembersAcrossInvocations(t *testing.T) {
	offline(t)

	out, err := runCmd(t, "", "chat", "-session", "ada", "Hi, my name is Ada")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Nice to meet you, Ada.") {
		t.Errorf("first reply = %q", out)
	}

	out, err = runCmd(t, "", "chat", "-session", "ada", "What is my name?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Your name is Ada.") {
		t.Errorf("second reply = %q", out)
	}

	out, err = runCmd(t, "", "history", "-session", "ada")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 4 {
		t.Errorf("history has %d lines, want 4:\n%s", len(lines), out)
	}

	if _, err := runCmd(t, "", "clear", "-session", "ada"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, _ = runCmd(t, "", "history", "-session", "ada")
	if strings.TrimSpace(out) != "" {
		t.Errorf("history after clear = %q", out)
	}
}

func TestChatFromStdinWithTool(t *testing.T) {
	offline(t)

	out, err := runCmd(t, "add 2 and 40\n\n", "chat", "-session", "calc")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, `[tool add({"a":2,"b":40})]`) {
		t.Errorf("tool call not shown: %q", out)
	}
	if !strings.Contains(out, "The result is 42.") {
		t.Errorf("reply = %q", out)
	}
}

func TestChatHandoff(t *testing.T) {
	offline(t)

	out, err := runCmd(t, "", "chat", "transfer to billing")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "-> billing]") {
		t.Errorf("handoff not shown: %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	offline(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, "", tt.args...); !errors.Is(err, flag.ErrHelp) {
				t.Errorf("err = %v, want flag.ErrHelp", err)
			}
		})
	}

	if _, err := runCmd(t, "", "history"); err == nil || !strings.Contains(err.Error(), "-session is required") {
		t.Errorf("history without session: err = %v", err)
	}
}

func TestFormatItem(t *testing.T) {
	call := api.NewToolCall("add", "call_1", `{"a":1,"b":2}`)
	call.Sequence = 3
	out := api.NewToolError("call_1", api.NewToolExecutionError("add", errors.New("overflow")))
	out.Sequence = 4

	if got := formatItem(call); !strings.Contains(got, `add({"a":1,"b":2}) call_id=call_1`) || !strings.HasPrefix(got, "   3 tool_call") {
		t.Errorf("formatItem(call) = %q", got)
	}
	if got := formatItem(out); !strings.HasSuffix(got, "(failed)") {
		t.Errorf("formatItem(error output) = %q", got)
	}
}
