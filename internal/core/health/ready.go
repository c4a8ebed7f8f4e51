package health

import (
	"encoding/json"
	"net/http"
)

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// ReadyFunc adapts a plain readiness check without partitions.
type ReadyFunc func() bool

func (f ReadyFunc) Readiness() (bool, []int32) { return f(), nil }

type all []ReadinessReporter

// All is ready when every reporter is ready; partitions are concatenated.
func All(rs ...ReadinessReporter) ReadinessReporter { return all(rs) }

func (a all) Readiness() (bool, []int32) {
	var parts []int32
	for _, r := range a {
		if r == nil {
			continue
		}
		ok, p := r.Readiness()
		if !ok {
			return false, nil
		}
		parts = append(parts, p...)
	}
	return true, parts
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		ready, parts := rr.Readiness()
		out := resp{Status: "not_ready"}
		if ready {
			out.Status = "ready"
			out.Partitions = parts
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
