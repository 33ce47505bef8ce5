package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghostpub/ghostd/internal/logfields"
	"github.com/ghostpub/ghostd/internal/pipeline"
	"github.com/ghostpub/ghostd/internal/scan"
)

// AdminServer exposes the local operator API: build status and triggers, scan
// triggers, health and metrics. Authorization is handled by the fronting
// layer; this server binds to loopback by default.
type AdminServer struct {
	gate    *pipeline.Gate
	scanner *scan.Scanner
	srv     *http.Server
}

// NewAdminServer wires the admin endpoints.
func NewAdminServer(listen string, gate *pipeline.Gate, scanner *scan.Scanner, reg *prometheus.Registry) *AdminServer {
	a := &AdminServer{gate: gate, scanner: scanner}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/build/status", a.handleStatus)
	mux.HandleFunc("POST /api/build/trigger", a.handleTrigger)
	mux.HandleFunc("POST /api/build/run", a.handleRun)
	mux.HandleFunc("POST /api/scan", a.handleScan)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	a.srv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Start runs the server until Shutdown.
func (a *AdminServer) Start() error {
	slog.Info("Admin server listening", slog.String("addr", a.srv.Addr))
	err := a.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func (a *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.gate.Status(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *AdminServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	st, err := a.gate.RequestBuild(r.Context(), r.URL.Query().Get("reason"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *AdminServer) handleRun(w http.ResponseWriter, r *http.Request) {
	// Runs inline; a concurrent run simply reflects the in-progress state.
	st, err := a.gate.Run(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type scanRequest struct {
	All      bool `json:"all"`
	Wait     bool `json:"wait"`
	TimeoutS int  `json:"timeout_s"`
}

type scanResponse struct {
	Queued  bool `json:"queued"`
	Changed *int `json:"changed,omitempty"`
}

func (a *AdminServer) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if r.Body != nil {
		// An empty body means a default sampled async scan.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	opts := scan.Options{All: req.All}
	if req.TimeoutS > 0 {
		opts.Timeout = time.Duration(req.TimeoutS) * time.Second
	}

	if !req.Wait {
		a.scanner.Trigger(opts)
		writeJSON(w, http.StatusAccepted, scanResponse{Queued: true})
		return
	}

	outcome, err := a.scanner.Run(r.Context(), opts)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scanResponse{Queued: false, Changed: &outcome.Changed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", logfields.Error(err))
	}
}

func httpError(w http.ResponseWriter, err error) {
	slog.Error("Admin request failed", logfields.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
