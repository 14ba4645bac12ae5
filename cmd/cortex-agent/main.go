// Command cortex-agent runs inside a sandbox (the Docker backend's
// session container) and serves the execution wire protocol spec.md §6 defines,
// delegating to a supervised Python worker. Every setting comes from
// the environment, matching the teacher's container entrypoints,
// which take their configuration from env vars rather than flags
// since the orchestrator controls the process, not an operator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cortexdata/cortex/internal/agent"
	"github.com/cortexdata/cortex/internal/logging"
)

func main() {
	cfg := agent.Config{
		Addr:           getenv("CORTEX_AGENT_ADDR", ":5000"),
		WorkDir:        getenv("CORTEX_AGENT_WORKDIR", "/tmp/cortex-agent"),
		PythonBin:      getenv("CORTEX_AGENT_PYTHON", "python3"),
		DefaultTimeout: getenvDuration("CORTEX_AGENT_TIMEOUT", 30*time.Second),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := agent.New(cfg)
	logging.Op().Info("cortex-agent starting", "addr", cfg.Addr, "work_dir", cfg.WorkDir)
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cortex-agent:", err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
