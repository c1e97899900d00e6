// Command verlauf-tools serves a small set of tools over MCP so that
// verlauf sessions can reach them through the mcp.servers configuration.
//
// By default it speaks MCP over stdin/stdout, which matches the "command"
// transport:
//
//	mcp:
//	  servers:
//	    - name: local
//	      transport: command
//	      command: ["verlauf-tools"]
//
// With -addr it serves streamable HTTP on /mcp instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "verlauf-tools: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("verlauf-tools", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "serve streamable HTTP on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// stdout carries the protocol in stdio mode, so logs always go to stderr.
	logger := slog.New(slog.NewTextHandler(stderr, nil))
	server := newServer(time.Now)

	if *addr == "" {
		logger.Info("serving MCP on stdio")
		return server.Run(ctx, &mcp.StdioTransport{})
	}
	return serveHTTP(ctx, server, *addr, logger)
}

func serveHTTP(ctx context.Context, server *mcp.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", "addr", addr, "path", "/mcp")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type wordCountInput struct {
	Text string `json:"text" jsonschema:"the text to measure"`
}

type wordCountOutput struct {
	Words      int `json:"words"`
	Characters int `json:"characters"`
	Lines      int `json:"lines"`
}

type timeInput struct {
	Zone string `json:"zone,omitempty" jsonschema:"IANA time zone name, defaults to UTC"`
}

// newServer builds the MCP server with its tools. now is injected so tests
// get a fixed clock.
func newServer(now func() time.Time) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "verlauf-tools", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "word_count",
		Description: "Counts words, characters and lines in a text",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in wordCountInput) (*mcp.CallToolResult, wordCountOutput, error) {
		out := countWords(in.Text)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("%d words, %d characters, %d lines", out.Words, out.Characters, out.Lines),
			}},
		}, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "current_time",
		Description: "Returns the current time, optionally in a given time zone",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in timeInput) (*mcp.CallToolResult, any, error) {
		loc := time.UTC
		if in.Zone != "" {
			l, err := time.LoadLocation(in.Zone)
			if err != nil {
				return nil, nil, fmt.Errorf("unknown time zone %q", in.Zone)
			}
			loc = l
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: now().In(loc).Format(time.RFC3339)}},
		}, nil, nil
	})

	return server
}

func countWords(s string) wordCountOutput {
	out := wordCountOutput{
		Words:      len(strings.Fields(s)),
		Characters: utf8.RuneCountInString(s),
	}
	if s != "" {
		out.Lines = strings.Count(s, "\n") + 1
		if strings.HasSuffix(s, "\n") {
			out.Lines--
		}
	}
	return out
}
