// Package agent implements cortex-agent, the in-sandbox runtime owning
// the persistent Python worker and serving the wire protocol spec.md
// §6 defines for session sandboxes: POST /execute, GET /health over
// loopback HTTP.
//
// Grounded on the teacher's internal/api/server.go use of plain
// net/http + http.NewServeMux (no third-party router) for the guest-
// facing surface; the persistent-worker design is new to this core
// (the teacher has no analogous stateful execution concept) and is
// grounded instead on original_source/backend/sandbox/execution_server.py.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cortexdata/cortex/internal/domain"
)

// Config configures the in-sandbox agent server.
type Config struct {
	Addr            string
	WorkDir         string
	PythonBin       string
	DefaultTimeout  time.Duration
}

// Server serves the agent wire protocol over loopback HTTP, delegating
// actual code execution to a supervised Worker.
type Server struct {
	cfg    Config
	worker *Worker
	http   *http.Server
}

// New builds a Server. Call Start to launch the worker and begin
// serving.
func New(cfg Config) *Server {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, worker: NewWorker(cfg.PythonBin, cfg.WorkDir)}

	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start launches the persistent worker subprocess and begins serving
// HTTP. Blocks until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.worker.Stop()
		_ = s.http.Close()
	}()
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type executeRequest struct {
	Code     string `json:"code"`
	DataPath string `json:"data_path,omitempty"`
}

type executeResponse struct {
	Success        bool                               `json:"success"`
	Stdout         string                             `json:"stdout"`
	Stderr         string                             `json:"stderr"`
	Variables      map[string]domain.SerializedValue  `json:"variables"`
	Visualizations []domain.Figure                    `json:"visualizations"`
}

// handleExecute runs on a goroutine per request — net/http's default —
// so a long user computation here never blocks handleHealth. This is
// the mechanism behind the agent's health-liveness redesign: /health's
// handler never touches the worker at all.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DefaultTimeout)
	defer cancel()

	domainReq := domain.ExecutionRequest{Code: req.Code, ReloadData: req.DataPath != ""}
	envelope, err := s.worker.Run(ctx, domainReq, req.DataPath)
	if err != nil {
		if domain.IsCallerFault(err) && !errors.Is(err, domain.ErrTimeout) {
			writeJSON(w, http.StatusOK, executeResponse{Success: false, Stderr: err.Error(),
				Variables: map[string]domain.SerializedValue{}, Visualizations: []domain.Figure{}})
			return
		}
		// Timeout or transport fault: the worker may be wedged or dead.
		// Restart it before replying so the next request gets a clean
		// environment rather than inheriting a corpse.
		restartCtx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = s.worker.Restart(restartCtx)
		rcancel()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Success: envelope.Success, Stdout: envelope.Stdout, Stderr: envelope.Stderr,
		Variables: envelope.Variables, Visualizations: envelope.Visualizations,
	})
}

// handleHealth reports agent-process liveness only. It never consults
// the worker, so a stuck user computation does not wedge liveness
// probing — see REDESIGN FLAG 1.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
