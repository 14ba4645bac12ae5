package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.json")
	body := `{"daemon":{"backend":"subprocess","http_addr":":9999"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() = %v", err)
	}
	if cfg.Daemon.Backend != "subprocess" || cfg.Daemon.HTTPAddr != ":9999" {
		t.Fatalf("unexpected daemon config: %+v", cfg.Daemon)
	}
	// Unset fields keep DefaultConfig's values.
	if cfg.Pool.IdleTimeout != 15*time.Minute {
		t.Fatalf("Pool.IdleTimeout = %v, want default 15m", cfg.Pool.IdleTimeout)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	body := "daemon:\n  backend: subprocess\n  http_addr: \":9999\"\npolicy:\n  session_queue_depth: 4\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() = %v", err)
	}
	if cfg.Daemon.Backend != "subprocess" || cfg.Daemon.HTTPAddr != ":9999" {
		t.Fatalf("unexpected daemon config: %+v", cfg.Daemon)
	}
	if cfg.Policy.SessionQueueDepth != 4 {
		t.Fatalf("Policy.SessionQueueDepth = %d, want 4", cfg.Policy.SessionQueueDepth)
	}
	if cfg.RecordStore.Driver != "memory" {
		t.Fatalf("RecordStore.Driver = %q, want default %q", cfg.RecordStore.Driver, "memory")
	}
}

func TestLoadFromFileYmlExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.yml")
	body := "daemon:\n  backend: docker\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() = %v", err)
	}
	if cfg.Daemon.Backend != "docker" {
		t.Fatalf("Daemon.Backend = %q, want %q", cfg.Daemon.Backend, "docker")
	}
}

func TestLoadFromEnvOverridesBackend(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("CORTEX_BACKEND", "subprocess")
	t.Setenv("CORTEX_HTTP_ADDR", ":1234")

	LoadFromEnv(cfg)

	if cfg.Daemon.Backend != "subprocess" {
		t.Fatalf("Daemon.Backend = %q, want %q", cfg.Daemon.Backend, "subprocess")
	}
	if cfg.Daemon.HTTPAddr != ":1234" {
		t.Fatalf("Daemon.HTTPAddr = %q, want %q", cfg.Daemon.HTTPAddr, ":1234")
	}
}

func TestBuildPolicyConvertsLists(t *testing.T) {
	p := BuildPolicy(PolicyConfig{
		AllowedImports: []string{"pandas", "numpy"},
		DeniedTokens:   []string{"eval"},
		MaxCodeBytes:   1024,
	})
	if _, ok := p.AllowedImports["pandas"]; !ok {
		t.Fatalf("AllowedImports missing %q", "pandas")
	}
	if _, ok := p.DeniedTokens["eval"]; !ok {
		t.Fatalf("DeniedTokens missing %q", "eval")
	}
	if p.MaxCodeBytes != 1024 {
		t.Fatalf("MaxCodeBytes = %d, want 1024", p.MaxCodeBytes)
	}
}
