package handlers

import "net/http"

// Routes mounts the API on a new mux and wraps it with the middleware chain.
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.Handle("GET /metrics", h.metrics.Handler())

	return RequestID(h.log, AccessLog(h.log, CORS(corsOrigins, mux)))
}
