// Package router classifies canonical requests into named routes and picks
// a ready target from the route's tiered pools.
package router

import (
	"regexp"
	"strings"

	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/tokens"
)

// directivePattern matches inline routing directives embedded in the last
// user message, e.g. <**thinking**> or <**glm.key1.glm-4.6**>.
var directivePattern = regexp.MustCompile(`<\*\*([^*<>]+)\*\*>`)

// Classification is the classifier's verdict for one request.
type Classification struct {
	RouteName string

	// PinnedKey is set when an inline directive names a full provider key;
	// selection then bypasses pool ordering entirely.
	PinnedKey domain.ProviderKey

	EstimatedTokens int
}

// Classifier derives the route name for a request.
type Classifier struct {
	estimator          *tokens.Estimator
	routes             map[string][]domain.RouteTier
	longContextTokens  int
	thinkingKeywords   []string
	backgroundKeywords []string
}

// NewClassifier builds a classifier over the configured route table.
func NewClassifier(estimator *tokens.Estimator, routes map[string][]domain.RouteTier, longContextTokens int, thinking, background []string) *Classifier {
	return &Classifier{
		estimator:          estimator,
		routes:             routes,
		longContextTokens:  longContextTokens,
		thinkingKeywords:   thinking,
		backgroundKeywords: background,
	}
}

// Classify picks the route for a request. Precedence: explicit route hint,
// inline directive, long context, thinking keywords, background keywords,
// default. Inline directives are stripped from the message so they never
// reach the provider.
func (c *Classifier) Classify(req *domain.CanonicalRequest, routeHint string) Classification {
	if routeHint != "" && c.routeExists(routeHint) {
		return Classification{RouteName: routeHint, EstimatedTokens: c.estimator.Count(req)}
	}

	if cl, ok := c.extractDirective(req); ok {
		cl.EstimatedTokens = c.estimator.Count(req)
		return cl
	}

	estimated := c.estimator.Count(req)
	if c.longContextTokens > 0 && estimated >= c.longContextTokens && c.routeExists("longcontext") {
		return Classification{RouteName: "longcontext", EstimatedTokens: estimated}
	}

	last := lastUserContent(req)
	lower := strings.ToLower(last)
	if c.matchesAny(lower, c.thinkingKeywords) && c.routeExists("thinking") {
		return Classification{RouteName: "thinking", EstimatedTokens: estimated}
	}
	if c.matchesAny(lower, c.backgroundKeywords) && c.routeExists("background") {
		return Classification{RouteName: "background", EstimatedTokens: estimated}
	}

	return Classification{RouteName: "default", EstimatedTokens: estimated}
}

// extractDirective scans the last user message for an inline directive and
// removes it from the content. A directive with two dots is a full provider
// key pin; otherwise it names a route.
func (c *Classifier) extractDirective(req *domain.CanonicalRequest) (Classification, bool) {
	idx := lastUserIndex(req)
	if idx < 0 {
		return Classification{}, false
	}
	content := req.Messages[idx].Content
	m := directivePattern.FindStringSubmatch(content)
	if m == nil {
		return Classification{}, false
	}
	directive := strings.TrimSpace(m[1])
	req.Messages[idx].Content = strings.TrimSpace(directivePattern.ReplaceAllString(content, ""))

	if strings.Count(directive, ".") >= 2 {
		return Classification{
			RouteName: "default",
			PinnedKey: domain.CanonicalProviderKey(directive),
		}, true
	}
	if c.routeExists(directive) {
		return Classification{RouteName: directive}, true
	}
	return Classification{}, false
}

func (c *Classifier) routeExists(name string) bool {
	_, ok := c.routes[name]
	return ok
}

func (c *Classifier) matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func lastUserIndex(req *domain.CanonicalRequest) int {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return i
		}
	}
	return -1
}

func lastUserContent(req *domain.CanonicalRequest) string {
	if i := lastUserIndex(req); i >= 0 {
		return req.Messages[i].Content
	}
	return ""
}
