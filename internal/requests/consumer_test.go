package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/app"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/fetcher"
)

type fakeExec struct {
	mu   sync.Mutex
	reqs []app.Request
	err  error
}

func (f *fakeExec) Execute(ctx context.Context, req app.Request) (app.Report, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if ctx.Err() != nil {
		return app.Report{}, ctx.Err()
	}
	return app.Report{Location: "file://x"}, f.err
}

func (f *fakeExec) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "poi-fetch-requests" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func requestBytes(t *testing.T, r Request) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newConsumerForTest(exec Executor) *Consumer {
	cfg := DefaultConfig([]string{"x"}, "poi-fetch-requests", "g")
	return New(cfg, slog.Default(), exec)
}

func TestProcessOne_PassesOverrides(t *testing.T) {
	exec := &fakeExec{}
	c := newConsumerForTest(exec)
	msg := &sarama.ConsumerMessage{Offset: 1, Value: requestBytes(t, Request{
		Version: 1, ID: "r1", Country: "Italy", LocationType: "church",
		MaxRetries: 5, InitialDelay: "250ms",
	})}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if exec.calls() != 1 {
		t.Fatalf("calls=%d", exec.calls())
	}
	got := exec.reqs[0]
	if got.Country != "Italy" || got.LocationType != "church" || got.MaxRetries != 5 || got.InitialDelay != 250*time.Millisecond {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestProcessOne_SkipsBadPayloads(t *testing.T) {
	exec := &fakeExec{}
	c := newConsumerForTest(exec)
	bad := [][]byte{
		[]byte("{not json"),
		requestBytes(t, Request{Version: 2, Country: "Italy", LocationType: "church"}),
		requestBytes(t, Request{Version: 1, LocationType: "church"}),
		requestBytes(t, Request{Version: 1, Country: "Italy", LocationType: "church", InitialDelay: "soon"}),
		requestBytes(t, Request{Version: 1, Country: "Italy", LocationType: "church", MaxRetries: -1}),
	}
	for i, v := range bad {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Offset: int64(i), Value: v}); err != nil {
			t.Fatalf("payload %d: expected skip, got %v", i, err)
		}
	}
	if exec.calls() != 0 {
		t.Fatalf("executor called %d times for bad payloads", exec.calls())
	}
}

func TestProcessOne_DuplicateIDSkipped(t *testing.T) {
	exec := &fakeExec{}
	c := newConsumerForTest(exec)
	v := requestBytes(t, Request{Version: 1, ID: "same", Country: "Italy", LocationType: "church"})
	for i := 0; i < 3; i++ {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Offset: int64(i), Value: v}); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if exec.calls() != 1 {
		t.Fatalf("calls=%d want 1", exec.calls())
	}

	anon := requestBytes(t, Request{Version: 1, Country: "Italy", LocationType: "church"})
	for i := 0; i < 2; i++ {
		_ = c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: anon})
	}
	if exec.calls() != 3 {
		t.Fatalf("requests without id must not be deduplicated; calls=%d", exec.calls())
	}
}

func TestProcessOne_FetchFailureAcknowledged(t *testing.T) {
	exec := &fakeExec{err: &fetcher.ExhaustedError{Attempts: 3, Last: &fetcher.AttemptError{Attempt: 3, Reason: fetcher.ReasonStatus, StatusCode: 504}}}
	c := newConsumerForTest(exec)
	msg := &sarama.ConsumerMessage{Value: requestBytes(t, Request{Version: 1, ID: "f", Country: "Italy", LocationType: "church"})}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("fetch failure should be acknowledged, got %v", err)
	}
}

func TestProcessOne_OverrideLimitAcknowledged(t *testing.T) {
	exec := &fakeExec{err: fmt.Errorf("x: %w", app.ErrOverrideLimit)}
	c := newConsumerForTest(exec)
	msg := &sarama.ConsumerMessage{Value: requestBytes(t, Request{Version: 1, ID: "big", Country: "Italy", LocationType: "church", MaxRetries: 1000})}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("rejected override should be acknowledged, got %v", err)
	}
}

func TestProcessOne_CancelNotAcknowledged(t *testing.T) {
	exec := &fakeExec{}
	c := newConsumerForTest(exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := &sarama.ConsumerMessage{Value: requestBytes(t, Request{Version: 1, ID: "c", Country: "Italy", LocationType: "church"})}
	err := c.ProcessOne(ctx, msg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}

	// A cancelled request is not remembered, so redelivery runs it.
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if exec.calls() != 2 {
		t.Fatalf("calls=%d want 2", exec.calls())
	}
}

func TestConsumeClaim_MarksInOrder(t *testing.T) {
	exec := &fakeExec{}
	c := newConsumerForTest(exec)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 10, Value: requestBytes(t, Request{Version: 1, ID: "a", Country: "Italy", LocationType: "church"})}
	ch <- &sarama.ConsumerMessage{Offset: 11, Value: []byte("garbage")}
	ch <- &sarama.ConsumerMessage{Offset: 12, Value: requestBytes(t, Request{Version: 1, ID: "b", Country: "France", LocationType: "museum"})}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 || s.marked[0] != 10 || s.marked[1] != 11 || s.marked[2] != 12 {
		t.Fatalf("marked=%v want [10 11 12]", s.marked)
	}
	if exec.calls() != 2 {
		t.Fatalf("calls=%d want 2", exec.calls())
	}
}

func TestConsumeClaim_StopsOnCancel(t *testing.T) {
	c := newConsumerForTest(&fakeExec{})
	g := &groupHandler{process: c.ProcessOne}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &sess{ctx: ctx}
	err := g.ConsumeClaim(s, &claim{msgs: make(chan *sarama.ConsumerMessage)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v", s.marked)
	}
}

func TestStart_RequiresExecutor(t *testing.T) {
	c := New(DefaultConfig(nil, "t", "g"), nil, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error without executor")
	}
}
