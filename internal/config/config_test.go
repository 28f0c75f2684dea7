package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.75")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.75 {
		t.Fatalf("expected 0.75, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "abc")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-float value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="abc" is not a valid float` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidEmbeddingDimensions(t *testing.T) {
	t.Setenv("NOESIS_EMBEDDING_DIMENSIONS", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid NOESIS_EMBEDDING_DIMENSIONS")
	}
	if got := err.Error(); !contains(got, "NOESIS_EMBEDDING_DIMENSIONS") || !contains(got, "abc") {
		t.Fatalf("error should mention NOESIS_EMBEDDING_DIMENSIONS and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("NOESIS_EMBEDDING_DIMENSIONS", "abc")
	t.Setenv("NOESIS_BUDGET_ALERT_PCT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "NOESIS_EMBEDDING_DIMENSIONS") {
		t.Fatalf("error should mention NOESIS_EMBEDDING_DIMENSIONS, got: %s", got)
	}
	if !contains(got, "NOESIS_BUDGET_ALERT_PCT") {
		t.Fatalf("error should mention NOESIS_BUDGET_ALERT_PCT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.EmbeddingDimensions != 1024 {
		t.Fatalf("expected default embedding dimensions 1024, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.BudgetAlertPct != 0.8 {
		t.Fatalf("expected default budget alert pct 0.8, got %f", cfg.BudgetAlertPct)
	}
	if cfg.IntegrityProofInterval != 5*time.Minute {
		t.Fatalf("expected default integrity proof interval 5m, got %s", cfg.IntegrityProofInterval)
	}
}

func TestValidate_RejectsZeroOrNegativeAlertPct(t *testing.T) {
	cfg := Config{DatabaseURL: "x", EmbeddingDimensions: 1, IntegrityProofInterval: time.Second, BudgetAlertPct: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject BudgetAlertPct of 0")
	}

	cfg.BudgetAlertPct = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject BudgetAlertPct > 1")
	}
}

func TestValidate_RejectsNegativeMonthlyBudget(t *testing.T) {
	cfg := Config{DatabaseURL: "x", EmbeddingDimensions: 1, IntegrityProofInterval: time.Second, BudgetAlertPct: 0.5, BudgetMonthlyUSD: -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject a negative monthly budget")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_EmbeddingProviderSelection(t *testing.T) {
	t.Setenv("NOESIS_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("OLLAMA_URL", "http://localhost:11434")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.EmbeddingProvider != "ollama" {
		t.Fatalf("expected EmbeddingProvider %q, got %q", "ollama", cfg.EmbeddingProvider)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("expected OllamaURL %q, got %q", "http://localhost:11434", cfg.OllamaURL)
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		// QDRANT_URL is not set; default should be empty.
		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("NOTIFY_URL", "postgres://test:test@db:5432/testdb_notify")
	t.Setenv("NOESIS_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("OTEL_SERVICE_NAME", "noesis-test")
	t.Setenv("NOESIS_LOG_LEVEL", "debug")
	t.Setenv("NOESIS_DECAY_CONFIG", "/etc/noesis/decay.yaml")
	t.Setenv("NOESIS_BUDGET_RATES_CONFIG", "/etc/noesis/rates.yaml")
	t.Setenv("NOESIS_BUDGET_MONTHLY_USD", "250.5")
	t.Setenv("NOESIS_BUDGET_ALERT_PCT", "0.9")
	t.Setenv("NOESIS_INTEGRITY_PROOF_INTERVAL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != "postgres://test:test@db:5432/testdb_notify" {
		t.Fatalf("expected NotifyURL %q, got %q", "postgres://test:test@db:5432/testdb_notify", cfg.NotifyURL)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected EmbeddingDimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.ServiceName != "noesis-test" {
		t.Fatalf("expected ServiceName %q, got %q", "noesis-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if cfg.DecayConfigPath != "/etc/noesis/decay.yaml" {
		t.Fatalf("expected DecayConfigPath %q, got %q", "/etc/noesis/decay.yaml", cfg.DecayConfigPath)
	}
	if cfg.BudgetRatesPath != "/etc/noesis/rates.yaml" {
		t.Fatalf("expected BudgetRatesPath %q, got %q", "/etc/noesis/rates.yaml", cfg.BudgetRatesPath)
	}
	if cfg.BudgetMonthlyUSD != 250.5 {
		t.Fatalf("expected BudgetMonthlyUSD 250.5, got %f", cfg.BudgetMonthlyUSD)
	}
	if cfg.BudgetAlertPct != 0.9 {
		t.Fatalf("expected BudgetAlertPct 0.9, got %f", cfg.BudgetAlertPct)
	}
	if cfg.IntegrityProofInterval != 10*time.Minute {
		t.Fatalf("expected IntegrityProofInterval 10m, got %s", cfg.IntegrityProofInterval)
	}
}
