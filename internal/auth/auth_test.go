package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateAPIKeyGrantsAll(t *testing.T) {
	p, ok := Authenticate("admin-key", "admin-key", nil)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeHistoryRO))
	assert.True(t, HasAnyScope(p, ScopeWorkersRW))
}

func TestAuthenticateScopedToken(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "viewer", Scopes: []string{" events:ro ", ""}},
		{Token: "ops", Scopes: []string{ScopeWorkersRW}},
	}

	p, ok := Authenticate("viewer", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeEventsRO))
	assert.False(t, HasAnyScope(p, ScopeWorkersRO))

	p, ok = Authenticate("ops", "", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeWorkersRO), "rw implies ro")
	assert.False(t, HasAnyScope(p, ScopeHistoryRO))

	_, ok = Authenticate("nope", "", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", tokens)
	assert.False(t, ok, "empty never matches an empty api key")
}

func TestEnabled(t *testing.T) {
	assert.False(t, Enabled("", nil))
	assert.False(t, Enabled("", []TokenConfig{{Scopes: []string{ScopeAll}}}))
	assert.True(t, Enabled("k", nil))
	assert.True(t, Enabled("", []TokenConfig{{Token: "t"}}))
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer    ", wantErr: true},
		{header: "Bearer abc ", want: "abc"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/admin/workers", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, err := ExtractBearerToken(r)
		if tc.wantErr {
			assert.Error(t, err, tc.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}
