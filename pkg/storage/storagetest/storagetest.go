// Package storagetest provides a conformance suite every
// storage.SessionStore adapter runs from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/storage"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) storage.SessionStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.SessionStore)
	}{
		{"GetOrCreateIsIdempotent", testGetOrCreate},
		{"AppendSequencesGapless", testAppendSequences},
		{"SnapshotIsAppendOnly", testSnapshotAppendOnly},
		{"SnapshotUnknownSession", testSnapshotUnknown},
		{"SnapshotReturnsCopies", testSnapshotCopies},
		{"Isolation", testIsolation},
		{"ClearResetsSequence", testClear},
		{"CloseSession", testCloseSession},
		{"EmptySessionID", testEmptySessionID},
		{"PayloadRoundTrip", testPayloadRoundTrip},
		{"ConcurrentAppends", testConcurrentAppends},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func conversation(n int) []api.Item {
	items := make([]api.Item, 0, n)
	for i := range n {
		if i%2 == 0 {
			items = append(items, api.NewUserMessage(fmt.Sprintf("question %d", i)))
		} else {
			items = append(items, api.NewAssistantMessage(fmt.Sprintf("answer %d", i), "Assistant"))
		}
	}
	return items
}

func mustAppend(t *testing.T, s storage.SessionStore, id string, items []api.Item) []api.Item {
	t.Helper()
	stored, err := s.Append(context.Background(), id, items)
	if err != nil {
		t.Fatalf("Append(%q) failed: %v", id, err)
	}
	return stored
}

func mustSnapshot(t *testing.T, s storage.SessionStore, id string) []api.Item {
	t.Helper()
	items, err := s.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("Snapshot(%q) failed: %v", id, err)
	}
	return items
}

// assertSameItems compares id, kind, sequence, timestamp, and payload.
func assertSameItems(t *testing.T, got, want []api.Item) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.Kind != w.Kind || g.Sequence != w.Sequence {
			t.Errorf("item %d = {%s %s %d}, want {%s %s %d}",
				i, g.ID, g.Kind, g.Sequence, w.ID, w.Kind, w.Sequence)
		}
		if !g.CreatedAt.Equal(w.CreatedAt) {
			t.Errorf("item %d CreatedAt = %v, want %v", i, g.CreatedAt, w.CreatedAt)
		}
		gp, _ := g.Payload()
		wp, _ := w.Payload()
		if string(gp) != string(wp) {
			t.Errorf("item %d payload = %s, want %s", i, gp, wp)
		}
	}
}

func testGetOrCreate(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.ID != "s1" {
		t.Errorf("ID = %q, want %q", first.ID, "s1")
	}
	if len(first.Log) != 0 {
		t.Errorf("new session log has %d items, want 0", len(first.Log))
	}
	if first.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	mustAppend(t, s, "s1", conversation(2))

	second, err := s.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", first.CreatedAt, second.CreatedAt)
	}
	if len(second.Log) != 2 {
		t.Errorf("log has %d items, want 2", len(second.Log))
	}
	if second.LastActiveAt.Before(first.LastActiveAt) {
		t.Error("LastActiveAt should not move backwards")
	}
}

func testAppendSequences(t *testing.T, s storage.SessionStore) {
	stored := mustAppend(t, s, "s1", conversation(2))
	for i, item := range stored {
		if item.Sequence != int64(i+1) {
			t.Errorf("stored[%d].Sequence = %d, want %d", i, item.Sequence, i+1)
		}
	}

	stored = mustAppend(t, s, "s1", conversation(3))
	if stored[0].Sequence != 3 || stored[2].Sequence != 5 {
		t.Errorf("second append sequences = %d..%d, want 3..5", stored[0].Sequence, stored[2].Sequence)
	}

	if err := api.ValidateLog(mustSnapshot(t, s, "s1")); err != nil {
		t.Errorf("log invalid after appends: %v", err)
	}
}

func testSnapshotAppendOnly(t *testing.T, s storage.SessionStore) {
	mustAppend(t, s, "s1", conversation(2))
	before := mustSnapshot(t, s, "s1")

	added := mustAppend(t, s, "s1", []api.Item{
		api.NewUserMessage("add 2 and 3"),
		api.NewToolCall("add", "call_1", `{"a":2,"b":3}`),
		api.NewToolOutput("call_1", "5"),
		api.NewAssistantMessage("2 + 3 = 5", "Assistant"),
	})

	after := mustSnapshot(t, s, "s1")
	assertSameItems(t, after, append(before, added...))
}

func testSnapshotUnknown(t *testing.T, s storage.SessionStore) {
	items := mustSnapshot(t, s, "never-seen")
	if items == nil || len(items) != 0 {
		t.Errorf("Snapshot of unknown session = %v, want empty slice", items)
	}
}

func testSnapshotCopies(t *testing.T, s storage.SessionStore) {
	mustAppend(t, s, "s1", []api.Item{api.NewUserMessage("original")})

	items := mustSnapshot(t, s, "s1")
	items[0].Message.Text = "mutated"

	again := mustSnapshot(t, s, "s1")
	if again[0].Message.Text != "original" {
		t.Errorf("stored text = %q, want %q", again[0].Message.Text, "original")
	}
}

func testIsolation(t *testing.T, s storage.SessionStore) {
	mustAppend(t, s, "s1", []api.Item{api.NewUserMessage("my name is Taro")})
	s2Before := mustSnapshot(t, s, "s2")

	mustAppend(t, s, "s1", conversation(3))
	mustAppend(t, s, "s2", []api.Item{api.NewUserMessage("hello")})

	s2 := mustSnapshot(t, s, "s2")
	if len(s2) != len(s2Before)+1 {
		t.Fatalf("s2 has %d items, want %d", len(s2), len(s2Before)+1)
	}
	for _, item := range s2 {
		if item.Text() == "my name is Taro" {
			t.Error("s2 observed an item appended to s1")
		}
	}
	if s2[0].Sequence != 1 {
		t.Errorf("s2 first sequence = %d, want 1", s2[0].Sequence)
	}
}

func testClear(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()
	mustAppend(t, s, "s1", conversation(4))
	mustAppend(t, s, "s2", conversation(1))

	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if items := mustSnapshot(t, s, "s1"); len(items) != 0 {
		t.Errorf("after Clear, log has %d items, want 0", len(items))
	}
	if items := mustSnapshot(t, s, "s2"); len(items) != 1 {
		t.Errorf("Clear of s1 changed s2: %d items, want 1", len(items))
	}

	stored := mustAppend(t, s, "s1", conversation(1))
	if stored[0].Sequence != 1 {
		t.Errorf("sequence after Clear = %d, want 1", stored[0].Sequence)
	}
}

func testCloseSession(t *testing.T, s storage.SessionStore) {
	ctx := context.Background()
	mustAppend(t, s, "s1", conversation(2))
	mustAppend(t, s, "s2", conversation(2))

	if err := s.CloseSession(ctx, "s1"); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}

	ops := map[string]error{}
	_, ops["GetOrCreate"] = s.GetOrCreate(ctx, "s1")
	_, ops["Append"] = s.Append(ctx, "s1", conversation(1))
	_, ops["Snapshot"] = s.Snapshot(ctx, "s1")
	ops["Clear"] = s.Clear(ctx, "s1")
	ops["CloseSession"] = s.CloseSession(ctx, "s1")

	for op, err := range ops {
		if !errors.Is(err, api.ErrSessionClosed) {
			t.Errorf("%s on closed session = %v, want ErrSessionClosed", op, err)
		}
	}

	if items := mustSnapshot(t, s, "s2"); len(items) != 2 {
		t.Errorf("closing s1 affected s2: %d items, want 2", len(items))
	}
	mustAppend(t, s, "s2", conversation(1))
}

func testEmptySessionID(t *testing.T, s storage.SessionStore) {
	_, err := s.Append(context.Background(), "", conversation(1))
	if !errors.Is(err, api.ErrInvalidInput) {
		t.Errorf("Append with empty id = %v, want ErrInvalidInput", err)
	}
}

func testPayloadRoundTrip(t *testing.T, s storage.SessionStore) {
	created := time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.UTC)
	items := []api.Item{
		api.NewUserMessage("what is 2 + 3? also call foo"),
		api.NewReasoning("two tools are needed"),
		api.NewToolCall("add", "call_1", `{"a":2,"b":3}`),
		api.NewToolOutput("call_1", "5"),
		api.NewToolCall("foo", "call_2", `{}`),
		api.NewToolError("call_2", api.NewUnknownToolError("foo")),
		api.NewHandoff("Triage", "Math"),
		api.NewAssistantMessage("2 + 3 = 5, and foo does not exist.", "Math"),
	}
	for i := range items {
		items[i].CreatedAt = created
	}

	stored := mustAppend(t, s, "s1", items)
	got := mustSnapshot(t, s, "s1")
	assertSameItems(t, got, stored)

	for i := range items {
		if got[i].ID != items[i].ID {
			t.Errorf("item %d ID = %q, want caller-supplied %q", i, got[i].ID, items[i].ID)
		}
	}

	failed := got[5]
	if !failed.Failed() || !errors.Is(failed.ToolOutput.Error, api.ErrUnknownTool) {
		t.Errorf("tool error payload lost: %+v", failed.ToolOutput)
	}
	if err := api.ValidateLog(got); err != nil {
		t.Errorf("round-tripped log invalid: %v", err)
	}
}

func testConcurrentAppends(t *testing.T, s storage.SessionStore) {
	const writers, perWriter = 8, 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				item := api.NewUserMessage(fmt.Sprintf("w%d-%d", w, i))
				if _, err := s.Append(context.Background(), "shared", []api.Item{item}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Append failed: %v", err)
	}

	items := mustSnapshot(t, s, "shared")
	if len(items) != writers*perWriter {
		t.Fatalf("log has %d items, want %d", len(items), writers*perWriter)
	}
	for i, item := range items {
		if item.Sequence != int64(i+1) {
			t.Fatalf("items[%d].Sequence = %d, want %d", i, item.Sequence, i+1)
		}
	}
}
