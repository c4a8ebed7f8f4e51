package store

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
)

func collection(names ...string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, n := range names {
		f := geojson.NewFeature(orb.Point{float64(i), float64(i)})
		f.Properties["name"] = n
		fc.Append(f)
	}
	return fc
}

func TestUpsertIfAbsent_FirstWriteWins(t *testing.T) {
	s := New()
	id := identity.Identify("find hospitals")
	red := model.Style{Color: "rgba(255, 0, 0, 1)"}

	if !s.UpsertIfAbsent(id, "hospitals", red, collection("A")) {
		t.Fatal("first insert should succeed")
	}
	if s.UpsertIfAbsent(id, "other", model.Style{Color: "blue"}, collection("B", "C")) {
		t.Fatal("duplicate insert should be a no-op")
	}

	got, ok := s.Get(id)
	if !ok {
		t.Fatal("Get: missing")
	}
	if got.Name != "hospitals" || got.Style != red || len(got.Collection.Features) != 1 {
		t.Fatalf("stored result was overwritten: %+v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
}

func TestSnapshot_InsertionOrderAndIsolation(t *testing.T) {
	s := New()
	a, b := identity.Identify("a"), identity.Identify("b")
	s.UpsertIfAbsent(a, "a", model.Style{}, collection())
	s.UpsertIfAbsent(b, "b", model.Style{}, nil)

	snap := s.Snapshot()
	var ids []identity.Identifier
	for _, r := range snap {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]identity.Identifier{a, b}, ids); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	if snap[1].Collection == nil || len(snap[1].Collection.Features) != 0 {
		t.Fatalf("nil collection should be stored as empty")
	}

	s.UpsertIfAbsent(identity.Identify("c"), "c", model.Style{}, nil)
	if len(snap) != 2 {
		t.Fatalf("snapshot changed after later insert: len=%d", len(snap))
	}
	snap[0].Name = "mutated"
	if got, _ := s.Get(a); got.Name != "a" {
		t.Fatalf("mutating snapshot leaked into store")
	}
}

func TestChanges_CoalescesSignals(t *testing.T) {
	s := New()
	for _, q := range []string{"x", "y", "z"} {
		s.UpsertIfAbsent(identity.Identify(q), q, model.Style{}, nil)
	}
	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals should coalesce into one")
	default:
	}

	s.UpsertIfAbsent(identity.Identify("x"), "x", model.Style{}, nil)
	select {
	case <-s.Changes():
		t.Fatal("duplicate insert must not signal")
	default:
	}
}

func TestUpsertIfAbsent_ConcurrentSameID(t *testing.T) {
	s := New()
	id := identity.Identify("same")

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.UpsertIfAbsent(id, "same", model.Style{}, nil) {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 || s.Len() != 1 {
		t.Fatalf("inserted=%d len=%d want 1/1", inserted, s.Len())
	}
}

func TestUpsertIfAbsent_PanicsOnMalformedID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New().UpsertIfAbsent("not-an-id", "x", model.Style{}, nil)
}
