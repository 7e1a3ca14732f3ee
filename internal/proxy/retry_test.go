package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationMS(t *testing.T) {
	cases := []struct {
		in     string
		wantMS int64
		wantOK bool
	}{
		{"1.203608125s", 1204, true},
		{"0.5s", 500, true},
		{"2s", 2000, true},
		{"331.167174ms", 331, true},
		{"500ms", 500, true},
		{"1000ms", 1000, true},
		{"1h16m0.667923083s", 4560668, true},
		{"1h", 3600000, true},
		{"30m", 1800000, true},
		{"", 0, false},
		{"   ", 0, false},
		{"invalid", 0, false},
		{"123", 0, false},
	}
	for _, c := range cases {
		ms, ok := ParseDurationMS(c.in)
		assert.Equal(t, c.wantOK, ok, "input %q", c.in)
		if c.wantOK {
			assert.Equal(t, c.wantMS, ms, "input %q", c.in)
		}
	}
}

func TestParseRetryDelayMSRetryInfo(t *testing.T) {
	body := `{
		"error": {
			"code": 429,
			"message": "Resource exhausted",
			"details": [
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "1.5s"}
			]
		}
	}`
	ms, ok := ParseRetryDelayMS(body)
	assert.True(t, ok)
	assert.EqualValues(t, 1500, ms)
}

func TestParseRetryDelayMSQuotaReset(t *testing.T) {
	body := `{
		"error": {
			"code": 429,
			"details": [
				{"@type": "type.googleapis.com/google.rpc.QuotaFailure", "metadata": {"quotaResetDelay": "331.167174ms"}}
			]
		}
	}`
	ms, ok := ParseRetryDelayMS(body)
	assert.True(t, ok)
	assert.EqualValues(t, 331, ms)
}

func TestParseRetryDelayMSNoDetails(t *testing.T) {
	_, ok := ParseRetryDelayMS(`{"error": {"code": 429, "message": "Rate limited"}}`)
	assert.False(t, ok)
}

func TestDecideRetryAction(t *testing.T) {
	shortDelay := `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"1.5s"}]}}`
	a := DecideRetryAction(429, shortDelay)
	assert.Equal(t, RetryWaitAndRetry, a.Kind)
	assert.EqualValues(t, 1700, a.DelayMS)

	longDelay := `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"10s"}]}}`
	a = DecideRetryAction(429, longDelay)
	assert.Equal(t, RetryRotateAccount, a.Kind)

	a = DecideRetryAction(429, `{"error":{"code":429,"message":"Rate limited"}}`)
	assert.Equal(t, RetryRotateAccount, a.Kind)

	a = DecideRetryAction(404, "Not found")
	assert.Equal(t, RetryRotateAccount, a.Kind)

	a = DecideRetryAction(403, "Permission denied")
	assert.Equal(t, RetryRotateAccount, a.Kind)

	a = DecideRetryAction(500, "Internal error")
	assert.Equal(t, RetryNone, a.Kind)
}

func TestShouldRetryEmptyResponse(t *testing.T) {
	assert.True(t, ShouldRetryEmptyResponse("", "MAX_TOKENS"))
	assert.True(t, ShouldRetryEmptyResponse("", "max_tokens"))
	assert.True(t, ShouldRetryEmptyResponse("", "STOP"))
	assert.True(t, ShouldRetryEmptyResponse("", "stop"))
	assert.True(t, ShouldRetryEmptyResponse("", "length"))

	assert.False(t, ShouldRetryEmptyResponse("Hello", "STOP"))
	assert.False(t, ShouldRetryEmptyResponse("", ""))
	assert.False(t, ShouldRetryEmptyResponse("", "SAFETY"))
}
