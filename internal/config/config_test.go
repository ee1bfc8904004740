package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestDefaults_MaxIterationsIsSix(t *testing.T) {
	if got := Defaults().General.MaxIterations; got != 6 {
		t.Fatalf("expected 6 iterations by default, got %d", got)
	}
}

func TestValidate_MaxIterations_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.General.MaxIterations = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxIterations=0")
	}

	cfg.General.MaxIterations = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxIterations=1 should be valid: %v", err)
	}

	cfg.General.MaxIterations = 51
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxIterations=51")
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "nope"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "defaultProvider") {
		t.Fatalf("expected defaultProvider error, got %v", err)
	}
}

func TestValidate_FailoverChainUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.FailoverChain = []string{"groq", "ghost"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown failover provider")
	}
}

func TestValidate_ProviderKind(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["weird"] = ProviderConfig{Kind: "smoke-signal"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestValidate_DuplicateTables(t *testing.T) {
	cfg := Defaults()
	cfg.Datasets.Entries = append(cfg.Datasets.Entries, DatasetConfig{Name: "again", Table: "hospitals"})
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate table")
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Datasets.Entries[0].Driver = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
	cfg.Datasets.Entries[0].DSN = "postgres://localhost/bd"
	if err := Validate(cfg); err != nil {
		t.Fatalf("postgres with dsn should be valid: %v", err)
	}
}

func TestValidate_SearchProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Search.Provider = "altavista"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown search provider")
	}
	for _, p := range []string{"duckduckgo", "google", "none"} {
		cfg.Search.Provider = p
		if err := Validate(cfg); err != nil {
			t.Fatalf("search provider %q should be valid: %v", p, err)
		}
	}
}

// --- Load ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.LogLevel = "debug"
	cfg.Search.Provider = "none"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.General.LogLevel != "debug" {
		t.Fatalf("expected logLevel debug, got %q", loaded.General.LogLevel)
	}
	if loaded.Search.Provider != "none" {
		t.Fatalf("expected search provider none, got %q", loaded.Search.Provider)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadOrDefault_MissingFileUsesDefaults(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing file")
	}
	if cfg.General.DefaultProvider != "groq" {
		t.Fatalf("expected groq default provider, got %q", cfg.General.DefaultProvider)
	}
}

func TestLoadOrDefault_InvalidFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"general": {"maxIterations": 0}}`), 0o644)

	if _, _, err := LoadOrDefault(path); err == nil {
		t.Fatal("expected validation error to be returned")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_BDAGENT_SEARCH", "none")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"search": {"provider": "${TEST_BDAGENT_SEARCH}", "timeoutSeconds": 5}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.Provider != "none" {
		t.Fatalf("expected env substitution, got %q", cfg.Search.Provider)
	}
}

// --- ApplyEnv ---

func TestApplyEnv_GroqKeyAndModel(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test_123456789")
	t.Setenv("GROQ_MODEL", "llama-3.3-70b-versatile")

	cfg := Defaults()
	ApplyEnv(cfg)

	groq := cfg.Providers["groq"]
	if groq.APIKey != "gsk_test_123456789" {
		t.Fatalf("expected key from env, got %q", groq.APIKey)
	}
	if groq.DefaultModel != "llama-3.3-70b-versatile" {
		t.Fatalf("expected model from env, got %q", groq.DefaultModel)
	}
}

func TestApplyEnv_ExplicitKeyWins(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "from-env")

	cfg := Defaults()
	groq := cfg.Providers["groq"]
	groq.APIKey = "from-config"
	cfg.Providers["groq"] = groq
	ApplyEnv(cfg)

	if got := cfg.Providers["groq"].APIKey; got != "from-config" {
		t.Fatalf("expected config key to win, got %q", got)
	}
}

func TestApplyEnv_ModelDefaultWhenUnset(t *testing.T) {
	t.Setenv("GROQ_MODEL", "")
	cfg := Defaults()
	ApplyEnv(cfg)
	if got := cfg.Providers["groq"].DefaultModel; got != DefaultGroqModel {
		t.Fatalf("expected %q, got %q", DefaultGroqModel, got)
	}
}

func TestLoadEnvFile_LoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	os.WriteFile(path, []byte("BDAGENT_TEST_DOTENV=loaded\n"), 0o644)
	t.Setenv("HOME", dir)
	t.Setenv("BDAGENT_TEST_DOTENV", "")
	os.Unsetenv("BDAGENT_TEST_DOTENV")

	t.Chdir(dir)
	got, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got != path {
		t.Fatalf("expected %q to be loaded, got %q", path, got)
	}
	if v := os.Getenv("BDAGENT_TEST_DOTENV"); v != "loaded" {
		t.Fatalf("expected variable from .env, got %q", v)
	}
}

// --- GetByPath / Sanitize ---

func TestGetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "general.defaultProvider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "groq" {
		t.Fatalf("expected 'groq', got %v", val)
	}

	val, err = GetByPath(cfg, "datasets.entries.1.table")
	if err != nil {
		t.Fatalf("get array element: %v", err)
	}
	if val != "hospitals" {
		t.Fatalf("expected 'hospitals', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	if _, err := GetByPath(Defaults(), "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	groq := cfg.Providers["groq"]
	groq.APIKey = "gsk_1234567890abcdefghijklmnop"
	cfg.Providers["groq"] = groq
	cfg.Search.APIKey = "AIzaSyABCDEFGHIJKLMNOP"

	sanitized := Sanitize(cfg)

	if sanitized.Providers["groq"].APIKey == groq.APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Search.APIKey == cfg.Search.APIKey {
		t.Fatal("search key should be masked")
	}
	if cfg.Providers["groq"].APIKey != "gsk_1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	if got := maskString("short"); got != "***" {
		t.Fatalf("expected ***, got %q", got)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	result := ExpandEnvVars(`"model": "${BDAGENT_UNSET_MODEL:-llama-3.1-8b-instant}"`)
	if result != `"model": "llama-3.1-8b-instant"` {
		t.Fatalf("unexpected: %s", result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	input := `"key": "${BDAGENT_DEFINITELY_UNSET}"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected unchanged, got %s", result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("BDAGENT_TEST_PORT", "9090")
	if result := ExpandEnvVars("${BDAGENT_TEST_PORT:-8080}"); result != "9090" {
		t.Fatalf("expected 9090, got %s", result)
	}
}
