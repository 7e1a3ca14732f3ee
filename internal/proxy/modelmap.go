package proxy

import "strings"

// flashModelForWebSearch is the model forced whenever a request carries a
// web_search tool, regardless of what the caller asked for: grounding via
// google_search is exposed only on the flash line upstream.
const flashModelForWebSearch = "gemini-2.5-flash"

// fallbackModel is returned when nothing else matches. Kept as a
// Claude-shaped name (not a Gemini one) for parity with callers that log or
// branch on the returned model string expecting an Anthropic-style id; see
// the note under the Model Mapper section (4.C) of SPEC_FULL.md.
const fallbackModel = "claude-sonnet-4-5"

// supportedModels is the passthrough whitelist: requests naming one of these
// exactly go upstream unchanged.
var supportedModels = map[string]bool{
	"gemini-2.5-pro":        true,
	"gemini-2.5-flash":      true,
	"gemini-2.5-flash-lite": true,
}

// exactAliases maps well-known Claude-style model names to a concrete
// upstream Gemini model.
var exactAliases = map[string]string{
	"claude-opus-4-1":       "gemini-2.5-pro",
	"claude-opus-4-5":       "gemini-2.5-pro",
	"claude-opus-4-6":       "gemini-2.5-pro",
	"claude-sonnet-4-5":     "gemini-2.5-pro",
	"claude-sonnet-4-0":     "gemini-2.5-pro",
	"claude-sonnet-4-20250514": "gemini-2.5-pro",
	"claude-3-7-sonnet":     "gemini-2.5-pro",
	"claude-3-5-sonnet":     "gemini-2.5-flash",
	"claude-3-5-haiku":      "gemini-2.5-flash",
	"claude-3-haiku":        "gemini-2.5-flash-lite",
	"claude-haiku-4-5":      "gemini-2.5-flash-lite",
	"claude-3-opus":         "gemini-2.5-pro",
}

// fuzzyRule is a substring predicate over the lower-cased model name paired
// with the upstream model it should map to. Rules are evaluated in order;
// the first match wins.
type fuzzyRule struct {
	contains []string
	target   string
}

var fuzzyRules = []fuzzyRule{
	{contains: []string{"opus"}, target: "gemini-2.5-pro"},
	{contains: []string{"sonnet"}, target: "gemini-2.5-pro"},
	{contains: []string{"thinking"}, target: "gemini-2.5-pro"},
	{contains: []string{"haiku", "lite"}, target: "gemini-2.5-flash-lite"},
	{contains: []string{"haiku"}, target: "gemini-2.5-flash"},
}

// MapModel resolves the model name a client asked for into the concrete
// Gemini model to call upstream (component C). hasWebSearch forces the
// flash line regardless of what the rest of the precedence chain would
// otherwise choose, since grounding is only wired up against flash.
// customMap is the operator-supplied override table (config.ModelsConfig.Map);
// an exact match there wins over everything except the web_search force,
// letting an operator pin a model name to a specific upstream without a
// code change.
func MapModel(requested string, hasWebSearch bool, customMap map[string]string) string {
	if hasWebSearch {
		return flashModelForWebSearch
	}

	trimmed := strings.TrimSpace(requested)
	if trimmed == "" {
		return fallbackModel
	}

	if target, ok := customMap[trimmed]; ok {
		return target
	}

	if supportedModels[trimmed] {
		return trimmed
	}

	if target, ok := exactAliases[trimmed]; ok {
		return target
	}

	lower := strings.ToLower(trimmed)
	for _, rule := range fuzzyRules {
		if containsAll(lower, rule.contains) {
			return rule.target
		}
	}

	if strings.HasPrefix(lower, "gemini-") {
		return trimmed
	}

	return fallbackModel
}

func containsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
