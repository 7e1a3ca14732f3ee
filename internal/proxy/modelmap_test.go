package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapModelWebSearchForced(t *testing.T) {
	assert.Equal(t, flashModelForWebSearch, MapModel("claude-opus-4-1", true, nil))
	assert.Equal(t, flashModelForWebSearch, MapModel("gemini-2.5-pro", true, nil))
}

func TestMapModelCustomMapWinsOverAllButWebSearch(t *testing.T) {
	custom := map[string]string{"gemini-2.5-pro": "gemini-3-preview"}
	assert.Equal(t, "gemini-3-preview", MapModel("gemini-2.5-pro", false, custom))
	assert.Equal(t, flashModelForWebSearch, MapModel("gemini-2.5-pro", true, custom), "web_search still forces flash over a custom map entry")
}

func TestMapModelExactAlias(t *testing.T) {
	assert.Equal(t, "gemini-2.5-pro", MapModel("claude-opus-4-1", false, nil))
	assert.Equal(t, "gemini-2.5-flash", MapModel("claude-3-5-sonnet", false, nil))
	assert.Equal(t, "gemini-2.5-flash-lite", MapModel("claude-3-haiku", false, nil))
}

func TestMapModelPassthroughWhitelist(t *testing.T) {
	assert.Equal(t, "gemini-2.5-pro", MapModel("gemini-2.5-pro", false, nil))
	assert.Equal(t, "gemini-2.5-flash-lite", MapModel("gemini-2.5-flash-lite", false, nil))
}

func TestMapModelFuzzyRules(t *testing.T) {
	assert.Equal(t, "gemini-2.5-pro", MapModel("claude-3.9-opus-preview", false, nil))
	assert.Equal(t, "gemini-2.5-flash-lite", MapModel("some-haiku-lite-variant", false, nil))
	assert.Equal(t, "gemini-2.5-flash", MapModel("future-haiku-model", false, nil))
}

func TestMapModelGeminiPassthroughPrefix(t *testing.T) {
	assert.Equal(t, "gemini-3.0-ultra", MapModel("gemini-3.0-ultra", false, nil))
}

func TestMapModelFallback(t *testing.T) {
	assert.Equal(t, fallbackModel, MapModel("totally-unknown-model", false, nil))
	assert.Equal(t, fallbackModel, MapModel("", false, nil))
}
