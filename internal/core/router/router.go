package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/legend"
	"github.com/mohammed-shakir/osm-viewport/internal/pipeline"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
	"github.com/mohammed-shakir/osm-viewport/internal/viewport"
)

// Pipeline is the part of the orchestrator the HTTP surface drives.
type Pipeline interface {
	Ingest(ctx context.Context) (pipeline.Report, error)
	SetViewport(v model.Viewport) error
	Viewport() (model.Viewport, bool)
	Visible() ([]viewport.FilteredResult, bool)
	Recompute() ([]viewport.FilteredResult, bool)
	FilterFor(v model.Viewport) ([]viewport.FilteredResult, error)
	Collections() []store.StyledResult
	Collection(id identity.Identifier) (store.StyledResult, bool)
}

var errNoViewport = errors.New("no viewport set; PUT /viewport or pass bbox=west,south,east,north")

// Mount registers the viewport API on r.
func Mount(r chi.Router, logger *slog.Logger, p Pipeline) {
	r.Get("/visible", observed("/visible", HandleVisible(logger, p)))
	r.Get("/legend", observed("/legend", HandleLegend(logger, p)))
	r.Get("/viewport", observed("/viewport", HandleGetViewport(p)))
	r.Put("/viewport", observed("/viewport", HandlePutViewport(logger, p)))
	r.Get("/collections", observed("/collections", HandleCollections(p)))
	r.Get("/collections/{id}", observed("/collections/{id}", HandleCollection(p)))
	r.Post("/ingest", observed("/ingest", HandleIngest(logger, p)))
}

func observed(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

type visibleResponse struct {
	Viewport model.Viewport            `json:"viewport"`
	Results  []viewport.FilteredResult `json:"results"`
}

// resolve returns the visible set for the request: an explicit bbox is
// filtered on demand, otherwise the current viewport's last result is used.
func resolve(r *http.Request, p Pipeline) (model.Viewport, []viewport.FilteredResult, int, error) {
	if raw := strings.TrimSpace(r.URL.Query().Get("bbox")); raw != "" {
		v, err := model.ParseViewport(raw)
		if err != nil {
			return model.Viewport{}, nil, http.StatusBadRequest, fmt.Errorf("invalid bbox: %w", err)
		}
		rs, err := p.FilterFor(v)
		if err != nil {
			return model.Viewport{}, nil, http.StatusBadRequest, err
		}
		return v, rs, http.StatusOK, nil
	}

	v, ok := p.Viewport()
	if !ok {
		return model.Viewport{}, nil, http.StatusConflict, errNoViewport
	}
	rs, computed := p.Visible()
	if !computed {
		rs, _ = p.Recompute()
	}
	return v, rs, http.StatusOK, nil
}

func HandleVisible(logger *slog.Logger, p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, rs, code, err := resolve(r, p)
		if err != nil {
			logger.DebugContext(r.Context(), "visible rejected", "err", err)
			http.Error(w, err.Error(), code)
			return
		}
		if rs == nil {
			rs = []viewport.FilteredResult{}
		}
		writeJSON(w, http.StatusOK, visibleResponse{Viewport: v, Results: rs})
	}
}

func HandleLegend(logger *slog.Logger, p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, rs, code, err := resolve(r, p)
		if err != nil {
			logger.DebugContext(r.Context(), "legend rejected", "err", err)
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusOK, legend.Build(rs))
	}
}

func HandleGetViewport(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		v, ok := p.Viewport()
		if !ok {
			http.Error(w, errNoViewport.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func HandlePutViewport(logger *slog.Logger, p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v model.Viewport
		dec := json.NewDecoder(io.LimitReader(r.Body, 4<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			observability.IncViewportUpdate("http", err)
			http.Error(w, "invalid viewport body: "+err.Error(), http.StatusBadRequest)
			return
		}
		err := p.SetViewport(v)
		observability.IncViewportUpdate("http", err)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.DebugContext(r.Context(), "viewport updated", "viewport", v.String())
		writeJSON(w, http.StatusOK, v)
	}
}

type collectionSummary struct {
	ID       identity.Identifier `json:"id"`
	Name     string              `json:"name"`
	Style    model.Style         `json:"style"`
	Features int                 `json:"features"`
}

func HandleCollections(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := p.Collections()
		out := make([]collectionSummary, 0, len(snap))
		for _, r := range snap {
			n := 0
			if r.Collection != nil {
				n = len(r.Collection.Features)
			}
			out = append(out, collectionSummary{ID: r.ID, Name: r.Name, Style: r.Style, Features: n})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func HandleCollection(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identity.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, ok := p.Collection(id)
		if !ok {
			http.Error(w, "collection not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type ingestResponse struct {
	Outcomes []ingestOutcome `json:"outcomes"`
	Inserted int             `json:"inserted"`
	Failed   int             `json:"failed"`
}

type ingestOutcome struct {
	pipeline.Outcome
	Error string `json:"error,omitempty"`
}

func HandleIngest(logger *slog.Logger, p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := p.Ingest(r.Context())
		if err != nil {
			logger.WarnContext(r.Context(), "ingest finished with errors", "err", err)
		}
		out := ingestResponse{
			Outcomes: make([]ingestOutcome, 0, len(rep.Outcomes)),
			Inserted: rep.Count(pipeline.Inserted),
			Failed:   rep.Failed(),
		}
		for _, o := range rep.Outcomes {
			item := ingestOutcome{Outcome: o}
			if o.Err != nil {
				item.Error = o.Err.Error()
			}
			out.Outcomes = append(out.Outcomes, item)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
