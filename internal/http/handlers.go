package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/price-follower/internal/config"
	httpopenapi "github.com/fairyhunter13/price-follower/internal/http/openapi"
	"github.com/fairyhunter13/price-follower/internal/scheduler"
	"github.com/fairyhunter13/price-follower/internal/store"
)

// Rounds exposes scheduler progress.
type Rounds interface {
	Counters() scheduler.Counters
	Round() uint64
}

type App struct {
	Cfg     config.Config
	Store   *store.Store
	Rounds  Rounds
	closing atomic.Bool
	started time.Time
}

type rowList struct {
	Round uint64 `json:"round"`
	Count int    `json:"count"`
	Rows  any    `json:"rows"`
}

func NewApp(cfg config.Config, st *store.Store, rounds Rounds) *App {
	return &App{Cfg: cfg, Store: st, Rounds: rounds, started: time.Now()}
}

// StartShutdown flips health to failing so load balancers stop routing.
func (a *App) StartShutdown() {
	a.closing.Store(true)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) listRowsHandler(w http.ResponseWriter, r *http.Request) {
	reps := a.Store.List()
	writeJSON(w, http.StatusOK, rowList{Round: a.Rounds.Round(), Count: len(reps), Rows: reps})
}

func (a *App) getRowHandler(w http.ResponseWriter, r *http.Request) {
	row := r.PathValue("row")
	if row == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	rep, ok := a.Store.Get(row)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "no report for row "+row)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	c := a.Rounds.Counters()
	m := map[string]any{
		"round":              a.Rounds.Round(),
		"rounds":             c.Rounds,
		"rounds_failed":      c.RoundsFailed,
		"rows_processed":     c.Rows,
		"rows_updated":       c.Updated,
		"rows_skipped":       c.Skipped,
		"rows_not_following": c.NotFollowing,
		"rows_failed":        c.Failed,
		"rows_in_flight":     c.InFlight,
		"worker_count":       c.Workers,
		"last_round_ms":      c.LastRoundMs,
		"rows_reported":      a.Store.Len(),
		"uptime_sec":         time.Since(a.started).Seconds(),
	}
	if !c.LastRoundAt.IsZero() {
		m["last_round_at"] = c.LastRoundAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

const docsPage = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Price Follower API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({ url: '/openapi.yaml', dom_id: '#swagger-ui' });
    </script>
  </body>
</html>`

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsPage))
}
