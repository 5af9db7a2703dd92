package server_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/n9te9/go-graphql-federation-gateway/server"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yaml := `
service_name: test-gateway
port: 4001
endpoint: /graphql
subscription_path: /ws
subgraph_timeout: 2s
shutdown_timeout: 3s
operation_cache_size: 64
limits:
  max_depth: 10
  max_complexity: 500
services:
  - name: products
    url: http://products.internal
    schema_files: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ServiceName != "test-gateway" {
		t.Errorf("ServiceName = %q, want test-gateway", cfg.ServiceName)
	}
	if cfg.Port != 4001 {
		t.Errorf("Port = %d, want 4001", cfg.Port)
	}
	if cfg.OperationCacheSize != 64 {
		t.Errorf("OperationCacheSize = %d, want 64", cfg.OperationCacheSize)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "products" {
		t.Fatalf("Services = %+v, want one service named products", cfg.Services)
	}
	if cfg.Limits.MaxDepth != 10 || cfg.Limits.MaxComplexity != 500 {
		t.Errorf("Limits = %+v, want MaxDepth=10 MaxComplexity=500", cfg.Limits)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := server.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte("service_name: bare\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint != "/graphql" {
		t.Errorf("Endpoint default = %q, want /graphql", cfg.Endpoint)
	}
	if cfg.SubscriptionPath != "/ws" {
		t.Errorf("SubscriptionPath default = %q, want /ws", cfg.SubscriptionPath)
	}
	if cfg.OperationCacheSize != 512 {
		t.Errorf("OperationCacheSize default = %d, want 512", cfg.OperationCacheSize)
	}
}

func TestInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	if err := server.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := server.Init(); err == nil {
		t.Fatal("expected second Init to refuse to overwrite gateway.yaml")
	}
	if _, err := os.Stat("gateway.yaml"); err != nil {
		t.Fatalf("gateway.yaml not created: %v", err)
	}
}
