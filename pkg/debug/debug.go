// Package debug installs the process logger and offers category-scoped
// debug output.
//
// Categories choose which subsystems trace (VERLAUF_DEBUG=engine,providers);
// the level chooses how much reaches the handler (VERLAUF_LOG_LEVEL=DEBUG).
// A category message is only written when both allow it:
//
//	debug.Log("engine", "turn state", "from", from, "to", to)
//
// Categories: providers, normalize, engine, tools, mcp, storage, transport,
// config, or all. Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// LevelTrace sits below slog.LevelDebug. Raw provider payloads are only
// written at this level.
const LevelTrace = slog.LevelDebug - 4

// Environment variables read by Init. They win over Options.
const (
	EnvCategories = "VERLAUF_DEBUG"
	EnvLevel      = "VERLAUF_LOG_LEVEL"
)

// Options selects the handler Init installs.
type Options struct {
	Categories string    // comma-separated
	Level      string    // ERROR, WARN, INFO, DEBUG or TRACE
	Format     string    // "text" (default) or "json"
	Output     io.Writer // defaults to os.Stderr
}

type state struct {
	categories map[string]bool
	raw        io.Writer
}

var current atomic.Pointer[state]

func init() {
	current.Store(&state{categories: parseCategories(os.Getenv(EnvCategories)), raw: os.Stderr})
}

// Init installs the default slog logger and the enabled categories.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level: ParseLevel(cmp.Or(os.Getenv(EnvLevel), opts.Level)),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.Any() == LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
			return a
		},
	}
	var h slog.Handler = slog.NewTextHandler(out, hopts)
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(out, hopts)
	}

	current.Store(&state{
		categories: parseCategories(cmp.Or(os.Getenv(EnvCategories), opts.Categories)),
		raw:        out,
	})
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether category is being traced.
func Enabled(category string) bool {
	cats := current.Load().categories
	return cats["all"] || cats[category]
}

// Log writes a DEBUG record tagged with category when it is enabled.
func Log(category, msg string, args ...any) {
	logAt(slog.LevelDebug, category, msg, args)
}

// Trace writes a TRACE record tagged with category when it is enabled.
func Trace(category, msg string, args ...any) {
	logAt(LevelTrace, category, msg, args)
}

func logAt(level slog.Level, category, msg string, args []any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), level, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether category is traced at TRACE level.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes text unformatted to the log output when category is traced
// at TRACE level.
func Raw(category, text string) {
	if TraceIsEnabled(category) {
		fmt.Fprintln(current.Load().raw, text)
	}
}

// ParseLevel converts a level name to a slog.Level. Unknown names mean
// INFO.
func ParseLevel(s string) slog.Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "TRACE":
		return LevelTrace
	case "WARNING":
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Truncate cuts s to at most maxLen bytes without splitting a rune and
// marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for cat := range strings.SplitSeq(s, ",") {
		if cat = strings.ToLower(strings.TrimSpace(cat)); cat != "" {
			m[cat] = true
		}
	}
	return m
}
