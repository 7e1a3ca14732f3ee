package proxy

import "strings"

// DefaultThinkingBudget is the thinking-token budget used when the client
// asks for extended thinking but gives no explicit budget_tokens.
const DefaultThinkingBudget = 8191

// FlashThinkingBudgetLimit caps the thinking budget on flash-line models,
// which accept a narrower range than pro.
const FlashThinkingBudgetLimit = 24576

// harmCategories are the five upstream safety categories the Config Builder
// disables outright, mirroring the Anthropic client's own content-safety
// posture rather than layering a second one on top of it.
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

// IsGeminiFlash reports whether model is on the flash line (including
// flash-lite), which the thinking budget and a handful of other upstream
// parameters treat differently from pro.
func IsGeminiFlash(model string) bool {
	return strings.Contains(strings.ToLower(model), "flash")
}

// thinkingCapableSubstrings are the lowercased name fragments that mark a
// model as supporting extended thinking, whether named in Claude's style or
// Gemini's.
var thinkingCapableSubstrings = []string{
	"sonnet", "thinking", "claude-3-7", "opus", "gemini-2.5", "gemini-3",
}

// SupportsThinking reports whether model accepts a thinkingConfig block.
func SupportsThinking(model string) bool {
	lower := strings.ToLower(model)
	for _, s := range thinkingCapableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// CalculateThinkingBudget resolves the effective thinking-token budget for a
// request, capping it at FlashThinkingBudgetLimit on flash models and at
// DefaultThinkingBudget otherwise, and falling back to DefaultThinkingBudget
// when the client didn't ask for a specific amount.
func CalculateThinkingBudget(model string, requested int) int {
	budget := requested
	if budget <= 0 {
		budget = DefaultThinkingBudget
	}
	if IsGeminiFlash(model) {
		if budget > FlashThinkingBudgetLimit {
			budget = FlashThinkingBudgetLimit
		}
	} else if budget > DefaultThinkingBudget {
		budget = DefaultThinkingBudget
	}
	return budget
}

// BuildThinkingConfig translates an Anthropic ThinkingConfig into the
// upstream ThinkingBudget shape, or returns nil if the model doesn't support
// thinking or the client didn't ask for it.
func BuildThinkingConfig(model string, thinking *ThinkingConfig) *ThinkingBudget {
	if thinking == nil || thinking.Type != "enabled" || !SupportsThinking(model) {
		return nil
	}
	return &ThinkingBudget{
		IncludeThoughts: true,
		ThinkingBudget:  CalculateThinkingBudget(model, thinking.BudgetTokens),
	}
}

// BuildSafetySettings returns the fixed set of disabled safety categories
// applied to every upstream request.
func BuildSafetySettings() []SafetySetting {
	settings := make([]SafetySetting, 0, len(harmCategories))
	for _, category := range harmCategories {
		settings = append(settings, SafetySetting{Category: category, Threshold: "OFF"})
	}
	return settings
}

// defaultTemperature, defaultTopP and defaultMaxOutputTokens are used when
// the client omits them; Gemini, unlike the Anthropic API, requires all
// three to be present.
const (
	defaultTemperature     = 1.0
	defaultTopP            = 0.95
	defaultMaxOutputTokens = 16384
)

// BuildGenerationConfig assembles the upstream generationConfig object for
// req against the resolved upstream model (component D).
func BuildGenerationConfig(model string, req *Request) *GenerationConfig {
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	topP := defaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	maxOutputTokens := req.MaxTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}

	cfg := &GenerationConfig{
		Temperature:     temperature,
		TopP:            topP,
		MaxOutputTokens: maxOutputTokens,
		CandidateCount:  1,
		ThinkingConfig:  BuildThinkingConfig(model, req.Thinking),
	}
	return cfg
}
