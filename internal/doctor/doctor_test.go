package doctor

import (
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/relaygw/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.API.Auth.Tokens = []config.APIToken{{Token: "tok", Scopes: []string{"events:ro", "workers:rw"}}}
	cfg.API.CORS.AllowedOrigins = []string{"https://example.com"}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_UnknownScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens[0].Scopes = []string{"jobs:ro"}
	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid config")
	}
	assertHasError(t, r, "token_scopes", "jobs:ro")
}

func TestValidate_EmptyTokenValue(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = append(cfg.API.Auth.Tokens, config.APIToken{Scopes: []string{"*"}})
	r := New(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "empty")
}

func TestValidate_WarnNoAdminAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.Tokens = nil
	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "api", "not mounted")
}

func TestValidate_WarnBothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.Auth.APIKey = "old-key"
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "both")
}

func TestValidate_WarnOpenCORSWithAdmin(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.API.CORS.AllowedOrigins = nil
	r := New(cfg).Validate()
	assertHasWarning(t, r, "api", "every origin")
}

func TestValidate_WarnShortLiveness(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Broker.LivenessThreshold = 5 * time.Second
	cfg.Broker.SweepInterval = time.Second
	cfg.Broker.ResultTTL = time.Minute
	r := New(cfg).Validate()
	assertHasWarning(t, r, "broker", "poll intervals")
}

func TestValidate_WarnSlowSweep(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Broker.SweepInterval = 5 * time.Minute
	cfg.Broker.ResultTTL = 10 * time.Minute
	r := New(cfg).Validate()
	assertHasWarning(t, r, "broker", "liveness threshold")
}

func TestValidate_WarnJournal(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Journal.Retention = 0
	assertHasWarning(t, New(cfg).Validate(), "journal", "without bound")

	cfg.Journal.Enabled = false
	assertHasWarning(t, New(cfg).Validate(), "journal", "503")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
	if !strings.Contains(out, "WARN  [test] odd") {
		t.Fatalf("expected warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
