package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	Liveness()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type tables struct{ countries, types int }

func (t tables) CountryCount() int      { return t.countries }
func (t tables) LocationTypeCount() int { return t.types }

func TestReadiness(t *testing.T) {
	cases := []struct {
		name string
		in   tables
		code int
	}{
		{"ready", tables{countries: 250, types: 4}, http.StatusOK},
		{"no countries", tables{types: 4}, http.StatusServiceUnavailable},
		{"no types", tables{countries: 250}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(tc.in)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.code {
				t.Fatalf("status=%d want %d", rr.Code, tc.code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["countries"] != float64(tc.in.countries) {
				t.Fatalf("body=%v", body)
			}
		})
	}
}
