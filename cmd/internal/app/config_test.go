package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.VersionSalt != "1" {
		t.Fatalf("VersionSalt = %q", cfg.VersionSalt)
	}
	if len(cfg.StaticModels) == 0 {
		t.Fatal("StaticModels is empty")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LOOM_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("LOOM_MODELS", " gemini-x , ,gemini-y ")
	t.Setenv("LOOM_GENAI_TIMEOUT", "90s")
	t.Setenv("LOOM_VERSION", "7")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if len(cfg.StaticModels) != 2 || cfg.StaticModels[0] != "gemini-x" || cfg.StaticModels[1] != "gemini-y" {
		t.Fatalf("StaticModels = %v", cfg.StaticModels)
	}
	if cfg.GenAITimeout != 90*time.Second {
		t.Fatalf("GenAITimeout = %v", cfg.GenAITimeout)
	}
	if cfg.VersionSalt != "7" {
		t.Fatalf("VersionSalt = %q", cfg.VersionSalt)
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("LOOM_TEST_CSV", "")

	if got := EnvCSV("LOOM_TEST_CSV", "a,b"); len(got) != 2 {
		t.Fatalf("default CSV = %v", got)
	}
	if got := EnvCSV("LOOM_TEST_CSV", ""); got != nil {
		t.Fatalf("empty CSV = %v", got)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	ok := Config{APIKey: "k", VersionSalt: "1"}
	if err := ValidateSecurityConfig(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	if err := ValidateSecurityConfig(Config{VersionSalt: "1"}); err == nil {
		t.Fatal("missing API key accepted")
	}
	if err := ValidateSecurityConfig(Config{APIKey: "k"}); err == nil {
		t.Fatal("empty version salt accepted")
	}
}
