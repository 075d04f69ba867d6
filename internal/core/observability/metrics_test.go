package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit_RegistersAndExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	// second registration on the same registry is tolerated
	Init(reg, true)
	SetMode("serve")
	defer SetMode("")

	ObserveAttempt("success")
	ObserveOutcome("success", "church")
	SetElements("church", "VA", 12)
	ObserveSinkWrite("file", nil, 0.01)
	ObserveSinkWrite("redis", errors.New("boom"), 0.01)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	out := string(b)

	for _, want := range []string{
		`fetch_elements{country_code="VA",location_type="church",mode="serve"} 12`,
		`sink_writes_total{mode="serve",result="error",sink="redis"}`,
		`fetch_attempts_total{mode="serve",result="success"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics; got:\n%s", want, out)
		}
	}
}

func TestObserveAttempt_Increments(t *testing.T) {
	c := fetchAttemptsTotal.WithLabelValues("timeout", getMode())
	before := testutil.ToFloat64(c)
	ObserveAttempt("timeout")
	ObserveAttempt("timeout")
	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Fatalf("delta=%v want 2", got)
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected no metric families, got %d", len(mfs))
	}
}
