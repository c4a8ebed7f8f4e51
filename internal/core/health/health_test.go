package health

import (
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
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fixed struct {
	ok    bool
	parts []int32
}

func (f fixed) Readiness() (bool, []int32) { return f.ok, f.parts }

func TestReadiness_AllReporters(t *testing.T) {
	cases := []struct {
		name     string
		rr       ReadinessReporter
		wantCode int
		wantBody string
	}{
		{"pipeline only", All(ReadyFunc(func() bool { return true }), nil), http.StatusOK, `{"status":"ready"}`},
		{"with partitions", All(ReadyFunc(func() bool { return true }), fixed{ok: true, parts: []int32{0, 2}}), http.StatusOK, `{"status":"ready","partitions":[0,2]}`},
		{"feed not ready", All(ReadyFunc(func() bool { return true }), fixed{ok: false}), http.StatusServiceUnavailable, `{"status":"not_ready"}`},
		{"no ingest yet", All(ReadyFunc(func() bool { return false })), http.StatusServiceUnavailable, `{"status":"not_ready"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Readiness(tc.rr)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.wantCode {
				t.Fatalf("status=%d want %d", rr.Code, tc.wantCode)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tc.wantBody {
				t.Fatalf("body=%s want %s", got, tc.wantBody)
			}
		})
	}
}
