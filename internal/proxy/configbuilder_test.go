package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGeminiFlash(t *testing.T) {
	assert.True(t, IsGeminiFlash("gemini-2.5-flash"))
	assert.True(t, IsGeminiFlash("gemini-2.5-flash-lite"))
	assert.False(t, IsGeminiFlash("gemini-2.5-pro"))
}

func TestSupportsThinking(t *testing.T) {
	assert.True(t, SupportsThinking("gemini-2.5-pro"))
	assert.False(t, SupportsThinking("gemini-1.5-pro"))
}

func TestCalculateThinkingBudget(t *testing.T) {
	assert.Equal(t, DefaultThinkingBudget, CalculateThinkingBudget("gemini-2.5-pro", 0))
	assert.Equal(t, 5000, CalculateThinkingBudget("gemini-2.5-pro", 5000))
	assert.Equal(t, FlashThinkingBudgetLimit, CalculateThinkingBudget("gemini-2.5-flash", 100000))
	assert.Equal(t, 1000, CalculateThinkingBudget("gemini-2.5-flash", 1000))
}

func TestBuildThinkingConfigDisabled(t *testing.T) {
	assert.Nil(t, BuildThinkingConfig("gemini-2.5-pro", nil))
	assert.Nil(t, BuildThinkingConfig("gemini-2.5-pro", &ThinkingConfig{Type: "disabled"}))
	assert.Nil(t, BuildThinkingConfig("gemini-1.5-pro", &ThinkingConfig{Type: "enabled"}))
}

func TestBuildThinkingConfigEnabled(t *testing.T) {
	cfg := BuildThinkingConfig("gemini-2.5-pro", &ThinkingConfig{Type: "enabled", BudgetTokens: 2000})
	assert.NotNil(t, cfg)
	assert.True(t, cfg.IncludeThoughts)
	assert.Equal(t, 2000, cfg.ThinkingBudget)
}

func TestBuildSafetySettings(t *testing.T) {
	settings := BuildSafetySettings()
	assert.Len(t, settings, 5)
	for _, s := range settings {
		assert.Equal(t, "OFF", s.Threshold)
	}
}

func TestBuildGenerationConfigDefaults(t *testing.T) {
	req := &Request{MaxTokens: 1024}
	cfg := BuildGenerationConfig("gemini-2.5-pro", req)
	assert.Equal(t, defaultTemperature, cfg.Temperature)
	assert.Equal(t, defaultTopP, cfg.TopP)
	assert.Equal(t, 1024, cfg.MaxOutputTokens)
	assert.Equal(t, 1, cfg.CandidateCount)
	assert.Nil(t, cfg.ThinkingConfig)
}

func TestBuildGenerationConfigOverrides(t *testing.T) {
	temp := 0.3
	topP := 0.8
	req := &Request{
		MaxTokens:   512,
		Temperature: &temp,
		TopP:        &topP,
		Thinking:    &ThinkingConfig{Type: "enabled", BudgetTokens: 100},
	}
	cfg := BuildGenerationConfig("gemini-2.5-flash", req)
	assert.Equal(t, 0.3, cfg.Temperature)
	assert.Equal(t, 0.8, cfg.TopP)
	assert.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, 100, cfg.ThinkingConfig.ThinkingBudget)
}
