package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/observability"
	mylog "github.com/mohammed-shakir/osm-poi-fetcher/internal/logger"
)

func TestRequestLog_SetsRequestIDAndLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))

	var seen string
	h := RequestLog(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = mylog.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/types", nil))

	if seen == "" || rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("request id ctx=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
	if !strings.Contains(buf.String(), "status=418") {
		t.Fatalf("log missing status: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/types", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc" {
		t.Fatalf("incoming request id not kept: %q", seen)
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)
	observability.SetMode("serve")

	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/runs/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	before := requestCount(t, reg, "/runs/{id}", "404")
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/runs/xyz", nil))
	if got := requestCount(t, reg, "/runs/{id}", "404"); got != before+1 {
		t.Fatalf("counter=%v want %v", got, before+1)
	}
}

func requestCount(t *testing.T, reg *prometheus.Registry, route, status string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == route && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRecover(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(l)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
}
