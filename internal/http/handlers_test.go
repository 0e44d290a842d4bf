package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fairyhunter13/price-follower/internal/config"
	"github.com/fairyhunter13/price-follower/internal/model"
	"github.com/fairyhunter13/price-follower/internal/obs"
	"github.com/fairyhunter13/price-follower/internal/scheduler"
	"github.com/fairyhunter13/price-follower/internal/store"
)

type fakeRounds struct {
	c     scheduler.Counters
	round uint64
}

func (f fakeRounds) Counters() scheduler.Counters { return f.c }
func (f fakeRounds) Round() uint64                { return f.round }

func setupApp(t *testing.T) (*App, *store.Store, http.Handler) {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	obs.InitLogger()
	st := store.New()
	rounds := fakeRounds{
		c:     scheduler.Counters{Rounds: 3, Rows: 7, Updated: 2, Workers: 5, LastRoundAt: time.Now()},
		round: 3,
	}
	app := NewApp(cfg, st, rounds)
	return app, st, NewRouter(app)
}

func TestOpenAPIServed(t *testing.T) {
	_, _, mux := setupApp(t)
	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected content-type set")
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("openapi:")) {
		t.Fatalf("expected openapi content")
	}
}

func TestDocsServed(t *testing.T) {
	_, _, mux := setupApp(t)
	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "swagger-ui") {
		t.Fatalf("expected swagger-ui in docs body")
	}
}

func TestHealthzFollowsShutdown(t *testing.T) {
	app, _, mux := setupApp(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	app.StartShutdown()
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	_, _, mux := setupApp(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "test-req-1")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "test-req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMetricsHandler(t *testing.T) {
	_, _, mux := setupApp(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("metrics json decode: %v", err)
	}
	if m["worker_count"] != float64(5) {
		t.Fatalf("unexpected worker_count: %v", m["worker_count"])
	}
	if m["rows_processed"] != float64(7) || m["round"] != float64(3) {
		t.Fatalf("unexpected metrics: %v", m)
	}
	if _, ok := m["last_round_at"]; !ok {
		t.Fatalf("missing last_round_at")
	}
}

func TestGetRow(t *testing.T) {
	_, st, mux := setupApp(t)
	price := 10.5
	st.Upsert(model.RowReport{Row: "12", Round: 3, State: "done", Status: model.StatusUpdated, StatusText: "updated", FinalPrice: &price})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rows/12", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rep model.RowReport
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Row != "12" || rep.Status != model.StatusUpdated || rep.FinalPrice == nil || *rep.FinalPrice != 10.5 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestGetRow_NotFound(t *testing.T) {
	_, _, mux := setupApp(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rows/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var e map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e["error"] != "not_found" {
		t.Fatalf("unexpected error body: %s", rr.Body.String())
	}
}

func TestListRows(t *testing.T) {
	_, st, mux := setupApp(t)
	st.Upsert(model.RowReport{Row: "3", Round: 1})
	st.Upsert(model.RowReport{Row: "2", Round: 1})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rows", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Round uint64            `json:"round"`
		Count int               `json:"count"`
		Rows  []model.RowReport `json:"rows"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Rows[0].Row != "2" || body.Round != 3 {
		t.Fatalf("unexpected list: %+v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, mux := setupApp(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rows", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
