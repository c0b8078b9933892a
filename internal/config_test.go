package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/notegraph/pkg/config"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Knowledge.Threshold != 0.7 {
		t.Errorf("default threshold = %v, want 0.7", cfg.Knowledge.Threshold)
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestKnowledgeConfig_Invalid(t *testing.T) {
	for name, cfg := range map[string]KnowledgeConfig{
		"threshold above one": {Threshold: 1.5, Strategy: "auto", Concurrency: 1},
		"unknown strategy":    {Threshold: 0.5, Strategy: "telepathy", Concurrency: 1},
		"negative workers":    {Threshold: 0.5, Strategy: "lexical", Concurrency: -2},
	} {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestSweepConfig_DisabledSkipsValidation(t *testing.T) {
	cfg := SweepConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sweep should pass: %v", err)
	}
	cfg.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled sweep without interval should fail")
	}
}

func TestLLMConfig_EnabledNeedsModel(t *testing.T) {
	cfg := NewDefaultConfig().LLM
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default llm config should pass: %v", err)
	}
	cfg.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled llm without model should fail")
	}
}

func TestVaultConfig_PathNeedsOwner(t *testing.T) {
	cfg := VaultConfig{Path: "./vault"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("vault path without owner should fail")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	t.Setenv("NOTEGRAPH_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
app:
  default_owner: alice
  http:
    port: 9090
auth:
  mode: token
  token: ${NOTEGRAPH_TEST_TOKEN}
knowledge:
  threshold: 0.5
  strategy: lexical
sweep:
  interval: 5m
ledger:
  path: ./decisions
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.DefaultOwner != "alice" || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Auth.Token != "from-env" {
		t.Errorf("token = %q, want env expansion", cfg.Auth.Token)
	}
	if cfg.Knowledge.Threshold != 0.5 || cfg.Knowledge.Concurrency != 8 {
		t.Errorf("knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Sweep.Interval != 5*time.Minute || cfg.Sweep.Throttle != 15*time.Minute {
		t.Errorf("sweep = %+v", cfg.Sweep)
	}
	if cfg.Ledger.Path != "./decisions" {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
}
