package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"socialbrain/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default(".").Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestGeneratedTemplateParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if cfg.Budget.MissionLimitUSD != 5.0 {
		t.Fatalf("mission limit = %v", cfg.Budget.MissionLimitUSD)
	}
	if len(cfg.Budget.Rates) != 3 {
		t.Fatalf("rates = %d", len(cfg.Budget.Rates))
	}
	if len(cfg.Warmup.Platforms) != 5 {
		t.Fatalf("platforms = %v", cfg.Warmup.Platforms)
	}
}

func TestDuplicateRateModelRejected(t *testing.T) {
	_, err := config.FromYAML([]byte(`
server:
  addr: 127.0.0.1:3001
companion:
  url: http://127.0.0.1:3002
budget:
  rates:
    - model: gemini-2.0-flash
      input_per_1k: 0.0001
      output_per_1k: 0.0004
    - model: gemini-2.0-flash
      input_per_1k: 0.0002
      output_per_1k: 0.0008
`))
	if err == nil {
		t.Fatal("expected duplicate model error")
	}
}

func TestCompanionURLValidated(t *testing.T) {
	_, err := config.FromYAML([]byte(`
server:
  addr: 127.0.0.1:3001
companion:
  url: 127.0.0.1:3002
`))
	if err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace != dir {
		t.Fatalf("workspace = %q", cfg.Workspace)
	}
	if cfg.Companion.URL == "" {
		t.Fatal("expected default companion url")
	}
}

func TestLoadFromWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	payload := `
server:
  addr: 127.0.0.1:4000
  token: secret
companion:
  url: http://127.0.0.1:3002
`
	if err := os.WriteFile(filepath.Join(dir, "socialbrain.yml"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:4000" || cfg.Server.Token != "secret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}
