package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers the read-only status routes and wraps them with
// request id, tracing and access logging.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", app.healthHandler)
	mux.HandleFunc("GET /rows", app.listRowsHandler)
	mux.HandleFunc("GET /rows/{row}", app.getRowHandler)
	mux.HandleFunc("GET /debug/metrics", app.metricsHandler)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /openapi.yaml", app.openapiHandler)
	mux.HandleFunc("GET /docs", app.docsHandler)
	return WithRequestID(WithTracing(WithLogging(mux)))
}
