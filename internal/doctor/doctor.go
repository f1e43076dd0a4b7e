// Package doctor checks a loaded relaygw configuration for settings that
// parse cleanly but will misbehave at runtime.
package doctor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/relaygw/internal/auth"
	"github.com/mattjoyce/relaygw/internal/config"
)

// WorkerPollInterval is how often the browser extension polls.
const WorkerPollInterval = 6 * time.Second

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTokenScopes(r)
	d.warnAdminSurface(r)
	d.warnBrokerTiming(r)
	d.warnJournal(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

var knownScopes = map[string]bool{
	auth.ScopeAll:       true,
	auth.ScopeEventsRO:  true,
	auth.ScopeWorkersRO: true,
	auth.ScopeWorkersRW: true,
	auth.ScopeHistoryRO: true,
}

// validateTokenScopes rejects scopes no endpoint checks for.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range token.Scopes {
			if knownScopes[strings.TrimSpace(scope)] {
				continue
			}
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
				fmt.Sprintf("unknown scope %q", scope))
		}
	}
}

func (d *Doctor) warnAdminSurface(r *Result) {
	a := d.cfg.API.Auth
	if !auth.Enabled(a.APIKey, toAuthTokens(a.Tokens)) {
		d.addWarning(r, "api", "api.auth",
			"no admin credentials configured; /events and /admin/* are not mounted")
		return
	}
	if a.APIKey != "" && len(a.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; api_key grants every scope")
	}
	if len(d.cfg.API.CORS.AllowedOrigins) == 0 {
		d.addWarning(r, "api", "api.cors.allowed_origins",
			"admin endpoints are enabled and every origin is allowed")
	}
}

func (d *Doctor) warnBrokerTiming(r *Result) {
	b := d.cfg.Broker
	if b.LivenessThreshold > 0 && b.LivenessThreshold < 2*WorkerPollInterval {
		d.addWarning(r, "broker", "broker.liveness_threshold",
			fmt.Sprintf("%s is shorter than two worker poll intervals (%s); live workers may be evicted",
				b.LivenessThreshold, 2*WorkerPollInterval))
	}
	if b.SweepInterval > b.LivenessThreshold && b.LivenessThreshold > 0 {
		d.addWarning(r, "broker", "broker.sweep_interval",
			"sweep runs less often than the liveness threshold; stale workers linger")
	}
	if b.QueryTimeout > 10*time.Minute {
		d.addWarning(r, "broker", "broker.query_timeout",
			fmt.Sprintf("%s is long; callers and proxies may give up first", b.QueryTimeout))
	}
	if b.ResultTTL > 0 && b.ResultTTL < b.SweepInterval {
		d.addWarning(r, "broker", "broker.result_ttl",
			"result_ttl is shorter than sweep_interval; orphaned results live until the next sweep")
	}
}

func (d *Doctor) warnJournal(r *Result) {
	j := d.cfg.Journal
	if !j.Enabled {
		d.addWarning(r, "journal", "journal.enabled", "journal disabled; /admin/history will return 503")
		return
	}
	if j.Retention == 0 {
		d.addWarning(r, "journal", "journal.retention", "retention is 0; the journal grows without bound")
	}
}

func toAuthTokens(in []config.APIToken) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(in))
	for _, t := range in {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
