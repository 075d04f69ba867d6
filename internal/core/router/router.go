// Package router holds the HTTP handlers of the serve mode.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/app"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/fetcher"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
	"github.com/mohammed-shakir/osm-poi-fetcher/internal/runs"
)

// Executor runs one fetch and its sinks.
type Executor interface {
	Execute(ctx context.Context, req app.Request) (app.Report, error)
}

type TypeLister interface {
	LocationTypes() []*model.LocationType
}

type RunLister interface {
	Recent(n int) []runs.Run
	Get(id string) (runs.Run, bool)
}

// FetchParams is the query string of GET /fetch.
type FetchParams struct {
	Country      string        `schema:"country,required"`
	Type         string        `schema:"type,required"`
	MaxRetries   int           `schema:"max_retries"`
	InitialDelay time.Duration `schema:"initial_delay"`
}

type runsParams struct {
	Limit int `schema:"limit"`
}

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.RegisterConverter(time.Duration(0), convertDuration)
	return d
}

// convertDuration accepts Go durations ("15s") and bare seconds ("15").
func convertDuration(s string) reflect.Value {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return reflect.ValueOf(time.Duration(n) * time.Second)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return reflect.Value{}
	}
	return reflect.ValueOf(d)
}

func ParseFetchParams(r *http.Request) (FetchParams, error) {
	var p FetchParams
	if err := decoder.Decode(&p, r.URL.Query()); err != nil {
		return FetchParams{}, fmt.Errorf("invalid query: %w", err)
	}
	p.Country = strings.TrimSpace(p.Country)
	p.Type = strings.TrimSpace(p.Type)
	if p.Country == "" || p.Type == "" {
		return FetchParams{}, errors.New("country and type must not be blank")
	}
	return p, nil
}

// StatusFor maps a pipeline error to an HTTP status. Parse and sink
// failures fall through to 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrOverrideLimit):
		return http.StatusBadRequest
	case errors.Is(err, fetcher.ErrCountryNotFound), errors.Is(err, fetcher.ErrUnknownLocationType):
		return http.StatusNotFound
	case errors.Is(err, fetcher.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string    `json:"error"`
	Run   *runs.Run `json:"run,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleFetch runs a fetch and answers with the raw Overpass JSON.
func HandleFetch(logger *slog.Logger, exec Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParseFetchParams(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		rep, err := exec.Execute(r.Context(), app.Request{
			Country:      p.Country,
			LocationType: p.Type,
			MaxRetries:   p.MaxRetries,
			InitialDelay: p.InitialDelay,
		})
		if err != nil {
			code := StatusFor(err)
			logger.WarnContext(r.Context(), "fetch failed", "status", code, "err", err)
			writeJSON(w, code, errorBody{Error: err.Error(), Run: &rep.Run})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Country-Code", rep.Run.CountryCode)
		w.Header().Set("X-Element-Count", strconv.Itoa(rep.Run.Elements))
		w.Header().Set("X-Run-ID", rep.Run.ID)
		if rep.Location != "" {
			w.Header().Set("X-Dataset-Location", rep.Location)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rep.Result.Raw)
	}
}

type typeEntry struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	QueryType   string `json:"query_type"`
	TagGroups   int    `json:"tag_groups"`
}

func HandleTypes(types TypeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		lts := types.LocationTypes()
		out := make([]typeEntry, 0, len(lts))
		for _, lt := range lts {
			out = append(out, typeEntry{
				Key:         lt.Key,
				Description: lt.Description,
				QueryType:   string(lt.QueryType),
				TagGroups:   len(lt.Tags),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func HandleRuns(h RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p runsParams
		if err := decoder.Decode(&p, r.URL.Query()); err != nil || p.Limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		writeJSON(w, http.StatusOK, h.Recent(p.Limit))
	}
}

func HandleRun(h RunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := h.Get(chi.URLParam(r, "id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "run not found"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}
