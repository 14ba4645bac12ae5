// Command cortexd is the Execution Coordinator daemon: it owns the
// HTTP surface callers use to submit code, poll status, validate, and
// drop sessions, and wires together every component from C1 through
// C6 per config. Styled after the teacher's cmd/nova daemon command
// (config load -> observability init -> component wiring -> HTTP
// serve -> signal-driven graceful shutdown), trimmed to what the
// execution core needs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cortexdata/cortex/internal/backend"
	"github.com/cortexdata/cortex/internal/backend/docker"
	"github.com/cortexdata/cortex/internal/backend/subprocess"
	"github.com/cortexdata/cortex/internal/config"
	"github.com/cortexdata/cortex/internal/coordinator"
	"github.com/cortexdata/cortex/internal/dataref"
	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/logging"
	"github.com/cortexdata/cortex/internal/metrics"
	"github.com/cortexdata/cortex/internal/observability"
	"github.com/cortexdata/cortex/internal/oneshot"
	"github.com/cortexdata/cortex/internal/policy"
	"github.com/cortexdata/cortex/internal/recordstore"
	"github.com/cortexdata/cortex/internal/session"
	"github.com/cortexdata/cortex/internal/sessiondir"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortexd",
		Short: "Cortex execution coordinator daemon",
		Long:  "Runs the Cortex code execution core: policy validation, sandboxed execution, and result persistence.",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON or YAML (.yaml/.yml) config file (optional; flags and env override)")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and serve its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			coord, cleanup, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := newAPIServer(coord)
			httpServer := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: srv}

			go func() {
				logging.Op().Info("cortexd HTTP API starting", "addr", cfg.Daemon.HTTPAddr, "backend", cfg.Daemon.Backend)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Op().Error("http server exited", "error", err)
				}
			}()

			stopSweep := make(chan struct{})
			go sweepLoop(coord, cfg.Pool.CleanupInterval, stopSweep)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			close(stopSweep)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP API address (e.g. :7700)")
	return cmd
}

// wire builds every C1-C6 component from cfg and returns the assembled
// Coordinator plus a cleanup func that closes owned resources.
func wire(ctx context.Context, cfg *config.Config) (*coordinator.Coordinator, func(), error) {
	validator := policy.New(config.BuildPolicy(cfg.Policy))

	resolver, err := buildResolver(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build data resolver: %w", err)
	}

	var be backend.Backend
	switch cfg.Daemon.Backend {
	case "subprocess":
		be, err = subprocess.New(subprocess.Config{
			PythonBin:     cfg.Subprocess.PythonBin,
			WorkDir:       cfg.Subprocess.WorkDir,
			RunAsUID:      cfg.Subprocess.RunAsUID,
			RunAsGID:      cfg.Subprocess.RunAsGID,
			MemoryLimitMB: cfg.Subprocess.MemoryLimitMB,
		})
	default:
		be, err = docker.New(docker.Config{
			ImagePrefix:  cfg.Docker.ImagePrefix,
			Network:      cfg.Docker.Network,
			CodeDir:      cfg.Docker.CodeDir,
			PortRangeMin: cfg.Docker.PortRangeMin,
			PortRangeMax: cfg.Docker.PortRangeMax,
			AgentTimeout: cfg.Docker.AgentTimeout,
			SessionMemMB: cfg.Docker.SessionMemMB,
			SessionCPU:   cfg.Docker.SessionCPU,
			OneShotMemMB: cfg.Docker.OneShotMemMB,
			OneShotCPU:   cfg.Docker.OneShotCPU,
		})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("init %s backend: %w", cfg.Daemon.Backend, err)
	}

	var records recordstore.Store
	if cfg.RecordStore.Driver == "postgres" {
		records, err = recordstore.NewPostgresStore(ctx, cfg.RecordStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres record store: %w", err)
		}
	} else {
		records = recordstore.NewMemoryStore()
	}

	var dir *sessiondir.Directory
	if cfg.SessionDir.Enabled {
		dir, err = sessiondir.New(sessiondir.Config{Addr: cfg.SessionDir.RedisURL})
		if err != nil {
			return nil, nil, fmt.Errorf("init session directory: %w", err)
		}
	}

	oneShot := oneshot.New(be, validator, resolver)
	sessions := session.New(session.Config{
		QueueDepth:  cfg.Policy.SessionQueueDepth,
		IdleTimeout: cfg.Pool.IdleTimeout,
	}, be, validator, resolver)

	coord := coordinator.New(records, validator, resolver, oneShot, sessions, nil, cfg.Policy.DefaultTimeout)

	cleanup := func() {
		records.Close()
		if dir != nil {
			dir.Close()
		}
	}
	return coord, cleanup, nil
}

func buildResolver(ctx context.Context, cfg *config.Config) (dataref.Resolver, error) {
	local := &dataref.LocalResolver{BaseDir: cfg.DataSource.LocalBaseDir}
	if cfg.DataSource.S3Bucket == "" {
		return dataref.NewChain(local, nil), nil
	}
	s3r, err := dataref.NewS3Resolver(ctx, dataref.S3Config{
		Region: cfg.DataSource.S3Region,
		Bucket: cfg.DataSource.S3Bucket,
	})
	if err != nil {
		return nil, err
	}
	return dataref.NewChain(local, s3r), nil
}

func sweepLoop(coord *coordinator.Coordinator, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			coord.Sessions.Sweep(context.Background())
		}
	}
}

// apiServer exposes the Coordinator's four operations over HTTP+JSON,
// the minimal caller-facing surface spec.md treats as an external
// collaborator's concern (routing, auth) rather than part of C1-C6.
type apiServer struct {
	coord *coordinator.Coordinator
	mux   *http.ServeMux
}

func newAPIServer(coord *coordinator.Coordinator) *apiServer {
	s := &apiServer{coord: coord, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /v1/executions", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/executions/{id}", s.handleGet)
	s.mux.HandleFunc("POST /v1/validate", s.handleValidate)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDropSession)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Global().Handler())
	return s
}

func (s *apiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rec, err := s.coord.Submit(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, recordstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "execution not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Validate(body.Code))
}

func (s *apiServer) handleDropSession(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.DropSession(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
