package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/engine"
	transporthttp "github.com/rhuss/verlauf/pkg/transport/http"
)

func runChat(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("chat", stderr)
	sessionID := fs.String("session", "", "session id (default: a new UUID)")
	clearFirst := fs.Bool("clear", false, "clear the session before the first turn")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if *sessionID == "" {
		*sessionID = uuid.NewString()
	}
	fmt.Fprintf(stderr, "session: %s\n", *sessionID)

	if *clearFirst {
		if err := a.engine.Clear(ctx, *sessionID); err != nil {
			return err
		}
	}

	if fs.NArg() > 0 {
		for _, msg := range fs.Args() {
			if err := chatTurn(ctx, a.engine, *sessionID, msg, stdout); err != nil {
				return err
			}
		}
		return nil
	}

	sc := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stderr, "> ")
		if !sc.Scan() {
			fmt.Fprintln(stderr)
			return sc.Err()
		}
		msg := strings.TrimSpace(sc.Text())
		if msg == "" {
			continue
		}
		if err := chatTurn(ctx, a.engine, *sessionID, msg, stdout); err != nil {
			// Model failures leave the session intact; keep the prompt open.
			if errors.Is(err, api.ErrModelCall) {
				fmt.Fprintf(stderr, "error: %v\n", err)
				continue
			}
			return err
		}
	}
}

// chatTurn runs one turn and streams it to w.
func chatTurn(ctx context.Context, eng *engine.Engine, sessionID, msg string, w io.Writer) error {
	p := &printer{w: w}
	res, err := eng.RunTurn(ctx, sessionID, engine.TextInput(msg), p)
	if err != nil {
		return err
	}
	// A synthesized budget answer is never streamed.
	if !p.streamed && res.FinalText != "" {
		fmt.Fprint(w, res.FinalText)
	}
	fmt.Fprintln(w)
	if res.Status == engine.StatusToolBudgetExceeded {
		fmt.Fprintf(w, "[%v]\n", res.Err())
	}
	return nil
}

// printer renders stream events as terminal text.
type printer struct {
	w        io.Writer
	streamed bool
}

func (p *printer) Emit(_ context.Context, ev api.StreamEvent) error {
	switch ev.Type {
	case api.EventTextDelta:
		p.streamed = true
		_, err := fmt.Fprint(p.w, ev.Text)
		return err
	case api.EventHandoffOccurred:
		_, err := fmt.Fprintf(p.w, "[handoff %s -> %s]\n", ev.FromAgent, ev.ToAgent)
		return err
	case api.EventItemCompleted:
		if ev.Item.Kind == api.KindToolCall {
			_, err := fmt.Fprintf(p.w, "[tool %s(%s)]\n", ev.Item.ToolCall.ToolName, ev.Item.ToolCall.Arguments)
			return err
		}
	}
	return nil
}

func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet("history", stderr)
	sessionID := fs.String("session", "", "session id (required)")
	asJSON := fs.Bool("json", false, "print the log as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return errors.New("history: -session is required")
	}

	a, err := setup(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.engine.History(ctx, *sessionID)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	for _, item := range items {
		fmt.Fprintln(stdout, formatItem(item))
	}
	return nil
}

// formatItem renders one log item as a single line.
func formatItem(item api.Item) string {
	var body string
	switch item.Kind {
	case api.KindUserMessage, api.KindAssistantMessage, api.KindReasoning:
		body = item.Text()
	case api.KindToolCall:
		body = fmt.Sprintf("%s(%s) call_id=%s", item.ToolCall.ToolName, item.ToolCall.Arguments, item.ToolCall.CallID)
	case api.KindToolOutput:
		body = fmt.Sprintf("call_id=%s %s", item.ToolOutput.CallID, item.ToolOutput.Output)
		if item.Failed() {
			body += " (failed)"
		}
	case api.KindHandoff:
		body = fmt.Sprintf("%s -> %s", item.Handoff.FromAgent, item.Handoff.ToAgent)
	}
	return fmt.Sprintf("%4d %-17s %s", item.Sequence, item.Kind, body)
}

func runClear(ctx context.Context, args []string, stderr io.Writer) error {
	fs, configPath := newFlagSet("clear", stderr)
	sessionID := fs.String("session", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return errors.New("clear: -session is required")
	}

	a, err := setup(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Clear(ctx, *sessionID); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "cleared session %s\n", *sessionID)
	return nil
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs, configPath := newFlagSet("serve", stderr)
	port := fs.Int("port", 0, "listen port (overrides server.port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	if *port != 0 {
		cfg.Port = *port
	}
	metricsPath := ""
	if a.cfg.Observability.Metrics.Enabled {
		metricsPath = a.cfg.Observability.Metrics.Path
	}

	srv := transporthttp.NewServer(a.engine,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Port)),
		transporthttp.WithMaxBodySize(cfg.MaxBodySize),
		transporthttp.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout),
		transporthttp.WithShutdownTimeout(orDefault(cfg.ShutdownTimeout, 15*time.Second)),
		transporthttp.WithMetricsPath(metricsPath),
	)
	return srv.Run(ctx)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
