// Command verlauf runs conversational sessions against a language model.
//
// Usage:
//
//	verlauf chat    [-config file] [-session id] [-clear] [message ...]
//	verlauf history [-config file] [-json] -session id
//	verlauf clear   [-config file] -session id
//	verlauf serve   [-config file] [-port n]
//
// chat runs one turn per message argument, or one turn per line read from
// stdin when no message is given, streaming the reply to stdout. Set
// DRY_RUN=1 to use the offline model; otherwise OPENAI_API_KEY is needed.
// Sessions outlive the process only with a sqlite or postgres store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: verlauf <command> [flags]

commands:
  chat     run turns on a session, streaming replies
  history  print a session's log
  clear    empty a session's log
  serve    serve sessions over HTTP
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("verlauf failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return flag.ErrHelp
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "chat":
		return runChat(ctx, args, stdin, stdout, stderr)
	case "history":
		return runHistory(ctx, args, stdout, stderr)
	case "clear":
		return runClear(ctx, args, stderr)
	case "serve":
		return runServe(ctx, args, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return flag.ErrHelp
	}
}

// newFlagSet returns a flag set with the shared -config flag.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config.yaml (default: VERLAUF_CONFIG, ./config.yaml, /etc/verlauf/config.yaml)")
	return fs, configPath
}
