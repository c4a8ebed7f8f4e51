package pipeline

import "github.com/mohammed-shakir/osm-viewport/internal/identity"

type Result string

const (
	Inserted         Result = "inserted"
	Duplicate        Result = "duplicate"
	FetchFailed      Result = "fetch_error"
	ConversionFailed Result = "conversion_error"
)

// Outcome is what happened to one catalog query during an ingest pass.
type Outcome struct {
	Name     string              `json:"name"`
	ID       identity.Identifier `json:"id"`
	Result   Result              `json:"result"`
	Features int                 `json:"features"`
	Err      error               `json:"-"`
}

type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

func (r Report) Count(res Result) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == res {
			n++
		}
	}
	return n
}

func (r Report) Failed() int {
	return r.Count(FetchFailed) + r.Count(ConversionFailed)
}
