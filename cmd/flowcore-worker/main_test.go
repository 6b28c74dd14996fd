package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/uow"
)

func TestParseFlags_RequiresDSN(t *testing.T) {
	t.Setenv("FLOWCORE_POSTGRES_DSN", "")
	if _, err := parseFlags(nil); err == nil {
		t.Fatal("expected an error without a DSN")
	}
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("FLOWCORE_POSTGRES_DSN", "postgres://localhost/flowcore")
	t.Setenv("FLOWCORE_REDIS_ADDR", " localhost:6379 ")
	f, err := parseFlags([]string{"-lock-timeout", "2s", "-migrate=false"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.postgresDSN != "postgres://localhost/flowcore" || f.redisAddr != "localhost:6379" {
		t.Fatalf("env not applied: %+v", f)
	}
	if f.lockTimeout != 2*time.Second || f.migrate {
		t.Fatalf("flags not applied: %+v", f)
	}
}

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowcore.yaml")
	yaml := "lock_owner: node-a\nlock_lease: 90s\nmax_pool_size: 4\ncore_pool_size: 2\nhistory_enabled: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LockOwner != "node-a" || cfg.LockLease != 90*time.Second || !cfg.HistoryEnabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.QueueSize != 3 {
		t.Fatalf("default queue size lost: %d", cfg.QueueSize)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level not applied: %s", buf.String())
	}
	if _, err := newLogger(&buf, "loud"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestBuiltinLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := newLogger(&buf, "info")
	reg, err := job.NewRegistry(builtinHandlers(logger)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h, err := reg.Resolve("flowcore.log")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	j := &job.Job{Type: "flowcore.log", HandlerConfig: []byte(`{"message":"invoice sent"}`)}
	if err := h.Execute(context.Background(), uow.New(nil, nil), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(buf.String(), "invoice sent") {
		t.Fatalf("message not logged: %s", buf.String())
	}
}
