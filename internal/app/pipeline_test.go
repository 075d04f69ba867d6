package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/fetcher"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/events"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/runs"
)

type fakeRunner struct {
	out   fetcher.Outcome
	err   error
	opts  int
	calls atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, _, _ string, opts ...fetcher.FetchOption) (fetcher.Outcome, error) {
	f.calls.Add(1)
	f.opts = len(opts)
	return f.out, f.err
}

type recordSink struct {
	got model.Dataset
	err error
}

func (s *recordSink) Name() string { return "record" }
func (s *recordSink) Save(_ context.Context, ds model.Dataset) (string, error) {
	s.got = ds
	return "mem://" + ds.CountryCode, s.err
}

type recordPub struct {
	events []events.DatasetEvent
	err    error
}

func (p *recordPub) Publish(_ context.Context, ev events.DatasetEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func okOutcome() fetcher.Outcome {
	return fetcher.Outcome{
		CountryCode: "IT",
		Query:       "[out:json];",
		Attempts:    2,
		Elapsed:     3 * time.Second,
		Result: &model.Result{
			Raw:      json.RawMessage(`{"elements":[{"type":"node","id":1}]}`),
			Elements: []model.Element{{Type: model.KindNode, ID: 1}},
		},
	}
}

func TestExecute_StoresPublishesAndRecords(t *testing.T) {
	r := &fakeRunner{out: okOutcome()}
	sink := &recordSink{}
	pub := &recordPub{}
	hist := runs.NewHistory(4)
	p, err := New(r, WithSink(sink), WithPublisher(pub), WithHistory(hist), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := p.Execute(context.Background(), Request{Country: "Italy", LocationType: "church", MaxRetries: 5})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rep.Location != "mem://IT" || rep.Run.Status != runs.StatusOK || rep.Run.Elements != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if r.opts != 1 {
		t.Fatalf("fetch options=%d want 1", r.opts)
	}
	if sink.got.Query != "[out:json];" || sink.got.Country != "Italy" {
		t.Fatalf("dataset=%+v", sink.got)
	}
	if len(pub.events) != 1 || pub.events[0].Key() != "IT:church" || pub.events[0].Location != "mem://IT" {
		t.Fatalf("events=%+v", pub.events)
	}
	if got, ok := hist.Get(rep.Run.ID); !ok || got.Attempts != 2 {
		t.Fatalf("history=%+v ok=%v", got, ok)
	}
}

func TestExecute_FetchErrorRecorded(t *testing.T) {
	r := &fakeRunner{out: fetcher.Outcome{CountryCode: "IT", Attempts: 3}, err: &fetcher.ExhaustedError{
		Attempts: 3,
		Last:     &fetcher.AttemptError{Attempt: 3, Reason: fetcher.ReasonStatus, StatusCode: 504},
	}}
	sink := &recordSink{}
	hist := runs.NewHistory(4)
	p, _ := New(r, WithSink(sink), WithHistory(hist), WithLogger(quiet()))

	rep, err := p.Execute(context.Background(), Request{Country: "Italy", LocationType: "church"})
	if !errors.Is(err, fetcher.ErrRetriesExhausted) {
		t.Fatalf("err=%v", err)
	}
	if rep.Run.Status != runs.StatusError || rep.Run.Error == "" || rep.Run.Attempts != 3 {
		t.Fatalf("run=%+v", rep.Run)
	}
	if sink.got.Result != nil {
		t.Fatal("sink called after failed fetch")
	}
	if hist.Len() != 1 {
		t.Fatalf("history len=%d", hist.Len())
	}
}

func TestExecute_SinkErrorFailsPublishErrorDoesNot(t *testing.T) {
	p, _ := New(&fakeRunner{out: okOutcome()}, WithSink(&recordSink{err: errors.New("disk full")}), WithLogger(quiet()))
	if _, err := p.Execute(context.Background(), Request{Country: "Italy", LocationType: "church"}); err == nil {
		t.Fatal("expected sink error")
	}

	p, _ = New(&fakeRunner{out: okOutcome()}, WithPublisher(&recordPub{err: errors.New("kafka down")}), WithLogger(quiet()))
	if _, err := p.Execute(context.Background(), Request{Country: "Italy", LocationType: "church"}); err != nil {
		t.Fatalf("publish error must not fail the run: %v", err)
	}
}

func TestExecute_OverridesAboveLimitRejected(t *testing.T) {
	r := &fakeRunner{out: okOutcome()}
	hist := runs.NewHistory(4)
	p, err := New(r, WithHistory(hist), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, req := range []Request{
		{Country: "Italy", LocationType: "church", MaxRetries: DefaultLimits.MaxRetries + 1},
		{Country: "Italy", LocationType: "church", InitialDelay: time.Hour},
	} {
		if _, err := p.Execute(context.Background(), req); !errors.Is(err, ErrOverrideLimit) {
			t.Fatalf("req=%+v err=%v want ErrOverrideLimit", req, err)
		}
	}
	if r.calls.Load() != 0 || hist.Len() != 0 {
		t.Fatalf("rejected requests reached the runner: calls=%d runs=%d", r.calls.Load(), hist.Len())
	}

	p, err = New(r, WithLimits(Limits{}), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Execute(context.Background(), Request{Country: "Italy", LocationType: "church", MaxRetries: 100}); err != nil {
		t.Fatalf("zero limits should not bound overrides: %v", err)
	}
}

func TestNew_NilRunner(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error")
	}
}
