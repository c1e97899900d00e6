package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/observability"
	"github.com/rhuss/verlauf/pkg/storage"
	"github.com/rhuss/verlauf/pkg/storage/memory"
	"github.com/rhuss/verlauf/pkg/storage/storagetest"
)

func TestInstrumentedConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.SessionStore {
		return storage.Instrument(memory.New(0), "memory-instrumented")
	})
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	s := storage.Instrument(memory.New(0), "memory-count")
	ctx := context.Background()

	okBefore := storeOps(t, "memory-count", "append", "ok")
	closedBefore := storeOps(t, "memory-count", "append", "closed")

	if _, err := s.Append(ctx, "s1", []api.Item{api.NewUserMessage("hi")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.CloseSession(ctx, "s1"); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := s.Append(ctx, "s1", []api.Item{api.NewUserMessage("hi")}); !errors.Is(err, api.ErrSessionClosed) {
		t.Fatalf("Append after close = %v, want ErrSessionClosed", err)
	}

	if d := storeOps(t, "memory-count", "append", "ok") - okBefore; d != 1 {
		t.Errorf("ok appends delta = %f, want 1", d)
	}
	if d := storeOps(t, "memory-count", "append", "closed") - closedBefore; d != 1 {
		t.Errorf("closed appends delta = %f, want 1", d)
	}
}

func TestFail(t *testing.T) {
	if storage.Fail("append", nil) != nil {
		t.Error("Fail(nil) should be nil")
	}

	closed := api.NewSessionClosedError("s1")
	if got := storage.Fail("append", closed); got != closed {
		t.Errorf("Fail should pass API errors through, got %v", got)
	}

	cause := errors.New("disk full")
	got := storage.Fail("append", cause)
	if !errors.Is(got, api.ErrStorageFailure) {
		t.Errorf("Fail(%v) = %v, want ErrStorageFailure", cause, got)
	}
	if !errors.Is(got, cause) {
		t.Error("storage failure should wrap its cause")
	}
}

func TestSequence(t *testing.T) {
	items := []api.Item{api.NewUserMessage("a"), {Kind: api.KindReasoning, Reasoning: &api.ReasoningPayload{}}}

	out := storage.Sequence(items, 4)

	if out[0].Sequence != 5 || out[1].Sequence != 6 {
		t.Errorf("sequences = %d, %d; want 5, 6", out[0].Sequence, out[1].Sequence)
	}
	if out[1].ID == "" || out[1].CreatedAt.IsZero() {
		t.Error("missing id and timestamp should be filled in")
	}
	if out[0].CreatedAt.Nanosecond()%1000 != 0 {
		t.Error("timestamps should be truncated to microseconds")
	}
	if items[0].Sequence != 0 {
		t.Error("input items must not be modified")
	}
}

func storeOps(t *testing.T, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := observability.StoreOperationsTotal.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
