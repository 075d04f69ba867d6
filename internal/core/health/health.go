// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// CatalogReporter exposes the sizes of the loaded lookup tables.
type CatalogReporter interface {
	CountryCount() int
	LocationTypeCount() int
}

// Readiness is 503 until both lookup tables have at least one entry.
func Readiness(c CatalogReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status        string `json:"status"`
			Countries     int    `json:"countries"`
			LocationTypes int    `json:"location_types"`
		}
		out := resp{Status: "not_ready", Countries: c.CountryCount(), LocationTypes: c.LocationTypeCount()}
		ready := out.Countries > 0 && out.LocationTypes > 0
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
