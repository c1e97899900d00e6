// Package dryrun implements an offline, deterministic Provider. It needs no
// credentials or network and emits the same raw event vocabulary as a real
// backend, which makes it the default for demos (DRY_RUN=1) and tests.
//
// Behaviour, keyed on the latest input item:
//   - a tool output: the model reports the tool result;
//   - "my name is X": the model acknowledges the name;
//   - "what is my name": the model answers from earlier user messages;
//   - "transfer to X": the active agent changes to X;
//   - two integers with "+", "add", "plus" or "sum", when an "add" tool is
//     declared: the model calls add({"a":..,"b":..});
//   - anything else is echoed.
package dryrun

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/provider"
)

var (
	nameStatement = regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}][\p{L}'-]*)`)
	nameQuestion  = regexp.MustCompile(`(?i)\bwhat(?:'s| is)\s+my name\b`)
	transfer      = regexp.MustCompile(`(?i)\btransfer (?:me )?to\s+([\p{L}][\p{L}_-]*)`)
	integer       = regexp.MustCompile(`-?\d+`)
	addIntent     = regexp.MustCompile(`(?i)\+|\badd\b|\bplus\b|\bsum\b`)
)

// AddToolName is the tool the dry-run model knows how to call.
const AddToolName = "add"

// Config holds dry-run settings.
type Config struct {
	// Delay is slept between text deltas to mimic token streaming.
	Delay time.Duration
}

// Provider is the dry-run model.
type Provider struct {
	cfg Config
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)

// New creates a dry-run Provider.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "dryrun"
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Stream plans a reply for req and streams it on the returned channel.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.RawEvent, error) {
	events := plan(req)
	debug.Log("providers", "dry-run reply planned", "model", req.Model, "events", len(events))

	ch := make(chan provider.RawEvent, 32)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if ev.Type == provider.EventOutputTextDelta && p.cfg.Delay > 0 {
				select {
				case <-time.After(p.cfg.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !provider.Send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch, nil
}

// plan computes the full event sequence for one model call.
func plan(req *provider.Request) []provider.RawEvent {
	var events []provider.RawEvent
	usage := provider.WireUsage{InputTokens: countWords(req.Input)}

	if len(req.Input) > 0 {
		last := req.Input[len(req.Input)-1]
		if last.Kind == api.KindToolOutput {
			return textReply(events, toolResultReply(last.ToolOutput), usage)
		}
	}

	text := lastUserText(req.Input)

	if m := transfer.FindStringSubmatch(text); m != nil {
		var data provider.AgentUpdatedData
		data.NewAgent.Name = m[1]
		events = append(events, provider.NewEvent(provider.EventAgentUpdated, data))
		return textReply(events, m[1]+" here. How can I help?", usage)
	}

	if hasTool(req.Tools, AddToolName) && addIntent.MatchString(text) {
		if nums := integer.FindAllString(text, -1); len(nums) >= 2 {
			a, _ := strconv.Atoi(nums[0])
			b, _ := strconv.Atoi(nums[1])
			call := provider.WireItem{
				ID:        api.NewItemID(),
				Type:      "function_call",
				Status:    "completed",
				CallID:    api.NewCallID(),
				Name:      AddToolName,
				Arguments: fmt.Sprintf(`{"a":%d,"b":%d}`, a, b),
			}
			events = append(events, provider.NewEvent(provider.EventOutputItemDone, provider.OutputItemData{Item: call}))
			return complete(events, usage)
		}
	}

	if m := nameStatement.FindStringSubmatch(text); m != nil {
		return textReply(events, fmt.Sprintf("Nice to meet you, %s. I will remember your name.", m[1]), usage)
	}

	if nameQuestion.MatchString(text) {
		if name := rememberedName(req.Input); name != "" {
			return textReply(events, fmt.Sprintf("Your name is %s.", name), usage)
		}
		return textReply(events, "I don't know your name yet.", usage)
	}

	if text == "" {
		return textReply(events, "Hello! How can I help?", usage)
	}
	return textReply(events, "You said: "+text, usage)
}

// textReply appends word-by-word deltas, the completed message item and
// the completion event.
func textReply(events []provider.RawEvent, text string, usage provider.WireUsage) []provider.RawEvent {
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		events = append(events, provider.NewEvent(provider.EventOutputTextDelta, provider.TextDeltaData{Delta: w}))
	}

	msg := provider.WireItem{
		ID:      api.NewItemID(),
		Type:    "message",
		Role:    "assistant",
		Status:  "completed",
		Content: outputText(text),
	}
	events = append(events, provider.NewEvent(provider.EventOutputItemDone, provider.OutputItemData{Item: msg}))

	usage.OutputTokens = len(words)
	return complete(events, usage)
}

func complete(events []provider.RawEvent, usage provider.WireUsage) []provider.RawEvent {
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	var data provider.ResponseData
	data.Response.Status = "completed"
	data.Response.Model = "dryrun"
	data.Response.Usage = &usage
	return append(events, provider.NewEvent(provider.EventResponseCompleted, data))
}

func toolResultReply(out *api.ToolOutputPayload) string {
	if out.Error != nil || strings.HasPrefix(out.Output, "error:") {
		return "The tool failed: " + strings.TrimSpace(strings.TrimPrefix(out.Output, "error:"))
	}
	return "The result is " + out.Output + "."
}

func lastUserText(items []api.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == api.KindUserMessage {
			return strings.TrimSpace(items[i].Message.Text)
		}
	}
	return ""
}

// rememberedName returns the most recent name the user stated.
func rememberedName(items []api.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind != api.KindUserMessage {
			continue
		}
		if m := nameStatement.FindStringSubmatch(items[i].Message.Text); m != nil {
			return m[1]
		}
	}
	return ""
}

func hasTool(decls []api.ToolDeclaration, name string) bool {
	for _, d := range decls {
		if d.Name == name {
			return true
		}
	}
	return false
}

func countWords(items []api.Item) int {
	n := 0
	for _, item := range items {
		n += len(strings.Fields(item.Text()))
	}
	return n
}

func outputText(text string) json.RawMessage {
	data, _ := json.Marshal([]provider.WirePart{{Type: "output_text", Text: text}})
	return data
}
