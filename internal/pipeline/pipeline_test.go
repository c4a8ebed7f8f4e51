package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/osm-viewport/internal/cache/responsecache"
	"github.com/mohammed-shakir/osm-viewport/internal/catalog"
	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/convert"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
	"github.com/mohammed-shakir/osm-viewport/internal/viewport"
)

const hospitalsReply = `{"elements":[
	{"type":"node","id":1,"lat":5,"lon":5,"tags":{"amenity":"hospital","name":"General Hospital"}},
	{"type":"node","id":2,"lat":50,"lon":50,"tags":{"amenity":"hospital","name":"Far Hospital"}}
]}`

type stubUpstream struct {
	mu      sync.Mutex
	calls   map[string]int
	replies map[string]string
	errs    map[string]error
}

func newStub() *stubUpstream {
	return &stubUpstream{calls: map[string]int{}, replies: map[string]string{}, errs: map[string]error{}}
}

func (s *stubUpstream) Fetch(_ context.Context, q string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[q]++
	if err, ok := s.errs[q]; ok {
		return nil, err
	}
	if r, ok := s.replies[q]; ok {
		return []byte(r), nil
	}
	return []byte(`{"elements":[]}`), nil
}

func (s *stubUpstream) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func hospitalsCatalog() catalog.Catalog {
	return catalog.Catalog{{
		Name:  "hospitals",
		Text:  "find hospitals",
		Style: model.Style{Color: "rgba(255, 0, 0, 1)", Emoji: "🏥"},
	}}
}

func TestEndToEnd_FindHospitals(t *testing.T) {
	up := newStub()
	up.replies["find hospitals"] = hospitalsReply
	st := store.New()
	o := New(hospitalsCatalog(), responsecache.New(up, quiet()), st, WithLogger(quiet()))

	rep, err := o.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Count(Inserted) != 1 || !o.Ready() {
		t.Fatalf("report=%+v ready=%v", rep, o.Ready())
	}

	const h = identity.Identifier("4e0fdee91ed77c1a718f7f3cd863fcc1")
	if rep.Outcomes[0].ID != h {
		t.Fatalf("id=%s want %s", rep.Outcomes[0].ID, h)
	}

	if err := o.SetViewport(viewport.Viewport{West: 0, South: 0, East: 10, North: 10}); err != nil {
		t.Fatalf("SetViewport: %v", err)
	}
	got, ok := o.Recompute()
	if !ok || len(got) != 1 {
		t.Fatalf("Recompute ok=%v len=%d", ok, len(got))
	}
	if got[0].ID != h || got[0].Style.Emoji != "🏥" {
		t.Fatalf("unexpected result header: %+v", got[0])
	}
	var visible []string
	for _, f := range got[0].Collection.Features {
		visible = append(visible, f.Properties.MustString("name", ""))
	}
	if diff := cmp.Diff([]string{"General Hospital"}, visible); diff != "" {
		t.Fatalf("visible (-want +got):\n%s", diff)
	}

	// second pass: no upstream calls, no new entries
	rep, err = o.Ingest(context.Background())
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if rep.Count(Duplicate) != 1 || up.total() != 1 || st.Len() != 1 {
		t.Fatalf("re-run: report=%+v calls=%d stored=%d", rep, up.total(), st.Len())
	}
}

func TestIngest_IsolatesFailures(t *testing.T) {
	up := newStub()
	up.errs["broken"] = errors.New("connection refused")
	up.replies["garbled"] = `{"remark":"runtime error"}`
	up.replies["good"] = hospitalsReply
	cat := catalog.Catalog{
		{Name: "a", Text: "broken"},
		{Name: "b", Text: "garbled"},
		{Name: "c", Text: "good"},
	}
	st := store.New()
	o := New(cat, responsecache.New(up, quiet()), st, WithLogger(quiet()))

	rep, err := o.Ingest(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	var fe *responsecache.FetchError
	if !errors.As(err, &fe) || fe.Query != "broken" {
		t.Fatalf("want FetchError for broken, got %v", err)
	}
	var ce *convert.ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConversionError in %v", err)
	}

	var results []Result
	for _, out := range rep.Outcomes {
		results = append(results, out.Result)
	}
	if diff := cmp.Diff([]Result{FetchFailed, ConversionFailed, Inserted}, results); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	if st.Len() != 1 || rep.Failed() != 2 {
		t.Fatalf("stored=%d failed=%d", st.Len(), rep.Failed())
	}
	if _, ok := st.Get(identity.Identify("good")); !ok {
		t.Fatal("successful query not stored")
	}

	// the failed fetch is retried on the next pass
	delete(up.errs, "broken")
	if _, err := o.Ingest(context.Background()); err == nil {
		t.Fatal("garbled query should still fail")
	}
	if st.Len() != 2 {
		t.Fatalf("stored=%d want 2 after retry", st.Len())
	}
}

func TestIngest_ParallelKeepsCatalogOrder(t *testing.T) {
	up := newStub()
	var cat catalog.Catalog
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5", "q1"} {
		cat = append(cat, catalog.Query{Name: q, Text: q})
	}
	st := store.New()
	o := New(cat, responsecache.New(up, quiet()), st, WithParallelism(3), WithLogger(quiet()))

	rep, err := o.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Count(Inserted) != 5 || rep.Count(Duplicate) != 1 {
		t.Fatalf("report=%+v", rep)
	}
	var ids []identity.Identifier
	for _, r := range st.Snapshot() {
		ids = append(ids, r.ID)
	}
	want := []identity.Identifier{
		identity.Identify("q1"), identity.Identify("q2"), identity.Identify("q3"),
		identity.Identify("q4"), identity.Identify("q5"),
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("store order (-want +got):\n%s", diff)
	}
}

func TestSetViewport_RejectsInvalid(t *testing.T) {
	o := New(nil, responsecache.New(newStub(), quiet()), store.New())
	if err := o.SetViewport(viewport.Viewport{West: 10, South: 0, East: 0, North: 10}); err == nil {
		t.Fatal("expected error for west > east")
	}
	if _, ok := o.Viewport(); ok {
		t.Fatal("invalid viewport must not be stored")
	}
	if _, ok := o.Recompute(); ok {
		t.Fatal("recompute without a viewport should report false")
	}
}

func TestRun_RecomputesOnViewportAndStoreChanges(t *testing.T) {
	up := newStub()
	up.replies["find hospitals"] = hospitalsReply

	published := make(chan []viewport.FilteredResult, 16)
	sink := SinkFunc(func(_ viewport.Viewport, rs []viewport.FilteredResult) { published <- rs })

	o := New(hospitalsCatalog(), responsecache.New(up, quiet()), store.New(), WithSink(sink), WithLogger(quiet()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	wait := func(want int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case rs := <-published:
				if viewport.CountFeatures(rs) == want {
					return
				}
			case <-deadline:
				t.Fatalf("no publication with %d visible features", want)
			}
		}
	}

	if err := o.SetViewport(viewport.Viewport{West: 0, South: 0, East: 10, North: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	wait(1)

	if err := o.SetViewport(viewport.Viewport{West: -180, South: -90, East: 180, North: 90}); err != nil {
		t.Fatal(err)
	}
	wait(2)

	if err := o.SetViewport(viewport.Viewport{West: 100, South: 0, East: 110, North: 10}); err != nil {
		t.Fatal(err)
	}
	wait(0)

	vis, ok := o.Visible()
	if !ok || len(vis) != 1 || len(vis[0].Collection.Features) != 0 {
		t.Fatalf("empty collection should still be emitted: ok=%v %+v", ok, vis)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFilterFor_LeavesCurrentViewportAlone(t *testing.T) {
	up := newStub()
	up.replies["find hospitals"] = hospitalsReply
	o := New(hospitalsCatalog(), responsecache.New(up, quiet()), store.New(), WithLogger(quiet()))
	if _, err := o.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}
	cur := viewport.Viewport{West: 0, South: 0, East: 1, North: 1}
	if err := o.SetViewport(cur); err != nil {
		t.Fatal(err)
	}

	rs, err := o.FilterFor(viewport.Viewport{West: 40, South: 40, East: 60, North: 60})
	if err != nil {
		t.Fatal(err)
	}
	if viewport.CountFeatures(rs) != 1 {
		t.Fatalf("FilterFor visible=%d want 1", viewport.CountFeatures(rs))
	}
	if v, _ := o.Viewport(); v != cur {
		t.Fatalf("viewport changed to %v", v)
	}
	if _, err := o.FilterFor(viewport.Viewport{West: 0, South: 95, East: 1, North: 96}); err == nil {
		t.Fatal("expected validation error")
	}
}
