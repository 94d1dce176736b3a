package oauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMatchRedirectURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate string
		patterns  []string
		want      bool
	}{
		{"exact match", "https://app.example.com/cb", []string{"https://app.example.com/cb"}, true},
		{"exact mismatch", "https://app.example.com/cb2", []string{"https://app.example.com/cb"}, false},
		{"case sensitive", "https://APP.example.com/cb", []string{"https://app.example.com/cb"}, false},
		{"no prefix match", "https://app.example.com/cb/extra", []string{"https://app.example.com/cb"}, false},
		{"wildcard segment", "g-abc123", []string{"g-*"}, true},
		{"wildcard does not cross slash", "g-abc/123", []string{"g-*"}, false},
		{"wildcard matches empty", "g-", []string{"g-*"}, true},
		{"wildcard subdomain", "https://g-42.example.com/cb", []string{"https://g-*.example.com/cb"}, true},
		{"wildcard subdomain with path injection", "https://g-42.evil.com/x.example.com/cb", []string{"https://g-*.example.com/cb"}, false},
		{"metacharacters are literal", "https://appXexample.com/cb", []string{"https://app.example.com/cb"}, false},
		{"metacharacters literal in pattern", "https://appXexample.com/g-1", []string{"https://app.example.com/g-*"}, false},
		{"second pattern matches", "http://localhost:8080/cb", []string{"https://app.example.com/cb", "http://localhost:*/cb"}, true},
		{"empty allow-list", "https://app.example.com/cb", nil, false},
		{"query string literal", "https://app.example.com/cb?x=1", []string{"https://app.example.com/cb?x=1"}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MatchRedirectURI(tt.candidate, tt.patterns))
		})
	}
}

func TestMatchRedirectURICachesPatterns(t *testing.T) {
	t.Parallel()

	pattern := "https://cache-*.example.com/cb"
	assert.True(t, MatchRedirectURI("https://cache-1.example.com/cb", []string{pattern}))
	first, ok := patternCache.Load(pattern)
	require.True(t, ok)
	assert.True(t, MatchRedirectURI("https://cache-2.example.com/cb", []string{pattern}))
	second, _ := patternCache.Load(pattern)
	assert.Same(t, first, second)
}

func TestRedirectURIsUnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want RedirectURIs
	}{
		{"native list", `["https://a/cb","https://b/cb"]`, RedirectURIs{"https://a/cb", "https://b/cb"}},
		{"encoded list", `"[\"https://a/cb\",\"https://b/cb\"]"`, RedirectURIs{"https://a/cb", "https://b/cb"}},
		{"bare string", `"https://a/cb"`, RedirectURIs{"https://a/cb"}},
		{"empty string", `""`, RedirectURIs{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got RedirectURIs
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad RedirectURIs
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestRedirectURIsUnmarshalYAML(t *testing.T) {
	t.Parallel()

	var doc struct {
		List   RedirectURIs `yaml:"list"`
		Single RedirectURIs `yaml:"single"`
	}
	in := `
list:
  - https://a/cb
  - https://g-*.example.com/cb
single: https://only/cb
`
	require.NoError(t, yaml.Unmarshal([]byte(in), &doc))
	assert.Equal(t, RedirectURIs{"https://a/cb", "https://g-*.example.com/cb"}, doc.List)
	assert.Equal(t, RedirectURIs{"https://only/cb"}, doc.Single)
}
