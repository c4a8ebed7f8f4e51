// Package pipeline drives catalog ingest into the result store and keeps the
// visible set current as the store and the viewport change.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/osm-viewport/internal/cache/responsecache"
	"github.com/mohammed-shakir/osm-viewport/internal/catalog"
	"github.com/mohammed-shakir/osm-viewport/internal/convert"
	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/logger"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
	"github.com/mohammed-shakir/osm-viewport/internal/viewport"
)

// Fetcher returns the raw reply for a query text. *responsecache.Cache
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (responsecache.RawResponse, error)
}

// Sink receives every recomputed visible set.
type Sink interface {
	Publish(v viewport.Viewport, results []viewport.FilteredResult)
}

type SinkFunc func(v viewport.Viewport, results []viewport.FilteredResult)

func (f SinkFunc) Publish(v viewport.Viewport, results []viewport.FilteredResult) { f(v, results) }

type Option func(*Orchestrator)

// WithParallelism lets up to n fetches run at once during ingest. n <= 1
// processes queries strictly one after another.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) { o.parallelism = n }
}

func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

type Orchestrator struct {
	catalog     catalog.Catalog
	fetcher     Fetcher
	store       *store.Store
	index       *viewport.Index
	logger      *slog.Logger
	parallelism int
	sink        Sink

	ingestMu    sync.Mutex
	recomputeMu sync.Mutex

	mu       sync.RWMutex
	vp       viewport.Viewport
	hasVP    bool
	visible  []viewport.FilteredResult
	computed bool

	vpChanged chan struct{}
	ready     atomic.Bool
}

func New(cat catalog.Catalog, fetcher Fetcher, st *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     cat,
		fetcher:     fetcher,
		store:       st,
		index:       viewport.NewIndex(),
		logger:      slog.Default(),
		parallelism: 1,
		vpChanged:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest runs every catalog query through fetch, convert, identify and store,
// in catalog order. A failing query is recorded and skipped; the returned
// error aggregates all failures.
func (o *Orchestrator) Ingest(ctx context.Context) (Report, error) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	start := time.Now()
	var (
		rep  Report
		merr *multierror.Error
	)

	record := func(out Outcome) {
		rep.Outcomes = append(rep.Outcomes, out)
		if out.Err != nil {
			merr = multierror.Append(merr, out.Err)
		}
	}

	if o.parallelism > 1 {
		raws, errs := o.fetchAll(ctx)
		for i, q := range o.catalog {
			record(o.process(ctx, q, raws[i], errs[i]))
		}
	} else {
		for _, q := range o.catalog {
			if err := ctx.Err(); err != nil {
				merr = multierror.Append(merr, err)
				break
			}
			raw, err := o.fetcher.Fetch(ctx, q.Text)
			record(o.process(ctx, q, raw, err))
		}
	}

	o.ready.Store(true)
	o.logger.InfoContext(ctx, "ingest pass done",
		"queries", len(o.catalog),
		"inserted", rep.Count(Inserted),
		"duplicates", rep.Count(Duplicate),
		"failed", rep.Failed(),
		"duration", time.Since(start).String())
	return rep, merr.ErrorOrNil()
}

// fetchAll fetches every catalog query with bounded concurrency. Results are
// indexed by catalog position.
func (o *Orchestrator) fetchAll(ctx context.Context) ([]responsecache.RawResponse, []error) {
	raws := make([]responsecache.RawResponse, len(o.catalog))
	errs := make([]error, len(o.catalog))

	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i, q := range o.catalog {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			raws[i], errs[i] = o.fetcher.Fetch(ctx, q.Text)
			return nil
		})
	}
	_ = g.Wait()
	return raws, errs
}

func (o *Orchestrator) process(ctx context.Context, q catalog.Query, raw responsecache.RawResponse, fetchErr error) Outcome {
	id := q.ID()
	ctx = logger.WithQueryID(ctx, id.String())
	out := Outcome{Name: q.Name, ID: id}

	if fetchErr != nil {
		out.Result, out.Err = FetchFailed, wrapFetch(q, fetchErr)
		observability.IncIngest(string(out.Result))
		o.logger.WarnContext(ctx, "query fetch failed", "name", q.Name, "err", fetchErr)
		return out
	}

	fc, err := convert.Convert(raw)
	if err != nil {
		out.Result, out.Err = ConversionFailed, fmt.Errorf("query %s: %w", q.Name, err)
		observability.IncIngest(string(out.Result))
		o.logger.WarnContext(ctx, "query conversion failed", "name", q.Name, "err", err)
		return out
	}

	out.Features = len(fc.Features)
	if o.store.UpsertIfAbsent(id, q.Name, q.Style, fc) {
		out.Result = Inserted
		o.logger.InfoContext(ctx, "query stored", "name", q.Name, "features", out.Features)
	} else {
		out.Result = Duplicate
		o.logger.DebugContext(ctx, "query already stored", "name", q.Name)
	}
	observability.IncIngest(string(out.Result))
	return out
}

func wrapFetch(q catalog.Query, err error) error {
	var fe *responsecache.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &responsecache.FetchError{Query: q.Text, Err: err}
}

// SetViewport validates and replaces the current viewport and schedules a
// recompute.
func (o *Orchestrator) SetViewport(v viewport.Viewport) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	o.mu.Lock()
	o.vp, o.hasVP = v, true
	o.mu.Unlock()

	select {
	case o.vpChanged <- struct{}{}:
	default:
	}
	return nil
}

func (o *Orchestrator) Viewport() (viewport.Viewport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.vp, o.hasVP
}

// Run recomputes the visible set whenever the store or the viewport changes,
// until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Recompute()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.store.Changes():
			o.Recompute()
		case <-o.vpChanged:
			o.Recompute()
		}
	}
}

// Recompute filters the current store snapshot against the current viewport
// and publishes the result. It returns false while no viewport is set.
func (o *Orchestrator) Recompute() ([]viewport.FilteredResult, bool) {
	o.recomputeMu.Lock()
	defer o.recomputeMu.Unlock()

	v, ok := o.Viewport()
	if !ok {
		return nil, false
	}

	start := time.Now()
	results := o.index.Filter(v, o.store.Snapshot())
	observability.ObserveFilter(time.Since(start).Seconds(), viewport.CountFeatures(results))

	o.mu.Lock()
	o.visible, o.computed = results, true
	o.mu.Unlock()

	if o.sink != nil {
		o.sink.Publish(v, results)
	}
	return results, true
}

// Visible returns the last published visible set.
func (o *Orchestrator) Visible() ([]viewport.FilteredResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.visible, o.computed
}

// FilterFor filters the current store against v without touching the current
// viewport.
func (o *Orchestrator) FilterFor(v viewport.Viewport) ([]viewport.FilteredResult, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return o.index.Filter(v, o.store.Snapshot()), nil
}

func (o *Orchestrator) Collections() []store.StyledResult { return o.store.Snapshot() }

func (o *Orchestrator) Collection(id identity.Identifier) (store.StyledResult, bool) {
	return o.store.Get(id)
}

// Ready reports whether at least one ingest pass has completed.
func (o *Orchestrator) Ready() bool { return o.ready.Load() }
