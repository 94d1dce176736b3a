package oauth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// wildcardSegment is what a '*' in a registered redirect pattern expands to.
// It never crosses a path separator.
const wildcardSegment = `[^/]*`

var patternCache sync.Map // pattern string -> *regexp.Regexp

// MatchRedirectURI reports whether candidate matches any of the registered
// patterns. Matching is exact and case-sensitive; '*' matches a run of
// non-slash characters.
func MatchRedirectURI(candidate string, patterns []string) bool {
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") {
			if pattern == candidate {
				return true
			}
			continue
		}
		if compilePattern(pattern).MatchString(candidate) {
			return true
		}
	}
	return false
}

func compilePattern(pattern string) *regexp.Regexp {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re := regexp.MustCompile("^" + strings.Join(parts, wildcardSegment) + "$")
	patternCache.Store(pattern, re)
	return re
}

// RedirectURIs is a client's redirect allow-list. Stored representations
// vary between backends and older records, so it decodes from a native list,
// a JSON-encoded list inside a string, or a bare single URI string.
type RedirectURIs []string

// ParseRedirectURIs normalizes a raw stored value into a list.
func ParseRedirectURIs(raw string) RedirectURIs {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RedirectURIs{}
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return RedirectURIs(list)
		}
	}
	return RedirectURIs{raw}
}

func (r *RedirectURIs) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("redirect_uris must be a list or a string: %w", err)
	}
	*r = ParseRedirectURIs(s)
	return nil
}

func (r *RedirectURIs) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*r = list
	case yaml.ScalarNode:
		*r = ParseRedirectURIs(node.Value)
	default:
		return fmt.Errorf("redirect_uris must be a list or a string")
	}
	return nil
}
