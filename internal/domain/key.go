package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ProviderKey is the dotted identifier providerId.alias.modelId. Model ids
// may themselves contain dots, so parsing splits on the first two dots only.
type ProviderKey string

// legacyAliasPattern matches the old alias encoding that prefixed a numeric
// sequence onto the alias, e.g. "antigravity.3-foo.gemini-3-pro".
var legacyAliasPattern = regexp.MustCompile(`^([^.]+)\.(\d+)-([^.]+)\.(.+)$`)

// ParseProviderKey validates and canonicalizes a dotted provider key.
func ParseProviderKey(s string) (ProviderKey, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("invalid provider key %q: want providerId.alias.modelId", s)
	}
	return CanonicalProviderKey(s), nil
}

// CanonicalProviderKey strips the legacy numeric sequence prefix from the
// alias segment. All consumers of a ProviderKey see the canonical form.
func CanonicalProviderKey(s string) ProviderKey {
	if m := legacyAliasPattern.FindStringSubmatch(s); m != nil {
		return ProviderKey(m[1] + "." + m[3] + "." + m[4])
	}
	return ProviderKey(s)
}

// Provider returns the providerId segment.
func (k ProviderKey) Provider() string {
	if i := strings.IndexByte(string(k), '.'); i >= 0 {
		return string(k)[:i]
	}
	return string(k)
}

// Alias returns the alias/key segment.
func (k ProviderKey) Alias() string {
	parts := strings.SplitN(string(k), ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Model returns the modelId segment, which may contain dots.
func (k ProviderKey) Model() string {
	parts := strings.SplitN(string(k), ".", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func (k ProviderKey) String() string { return string(k) }
