package proxy

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/evanreyes/geminiproxy/internal/metrics"
)

// RetryAction is the decision the Retry Policy hands back to the Pipeline.
type RetryAction struct {
	Kind   RetryActionKind
	DelayMS int64 // only meaningful when Kind == RetryWaitAndRetry
}

// RetryActionKind discriminates the three possible retry decisions.
type RetryActionKind int

const (
	// RetryNone means do not retry; surface the error to the client.
	RetryNone RetryActionKind = iota
	// RetryWaitAndRetry means sleep DelayMS then retry the same account.
	RetryWaitAndRetry
	// RetryRotateAccount means retry with the next account in rotation.
	RetryRotateAccount
)

var durationTokenRE = regexp.MustCompile(`([\d.]+)\s*(ms|s|m|h)`)

// ParseDurationMS parses a Go-duration-like string such as
// "1h16m0.667923083s" or "331.167174ms" into a millisecond count, summing
// every matched numeric+unit token. Returns ok=false if no token matched at
// all (including an empty or whitespace-only input).
func ParseDurationMS(s string) (ms int64, ok bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, false
	}

	var total float64
	matched := false

	for _, m := range durationTokenRE.FindAllStringSubmatch(trimmed, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		matched = true
		switch m[2] {
		case "ms":
			total += value
		case "s":
			total += value * 1000
		case "m":
			total += value * 60 * 1000
		case "h":
			total += value * 60 * 60 * 1000
		}
	}

	if !matched {
		return 0, false
	}
	return int64(total + 0.5), true
}

// retryInfoErrorBody is the minimal shape needed to walk a 429 JSON error
// body's error.details[] array for RetryInfo.retryDelay or
// metadata.quotaResetDelay.
type retryInfoErrorBody struct {
	Error struct {
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
			Metadata   struct {
				QuotaResetDelay string `json:"quotaResetDelay"`
			} `json:"metadata"`
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelayMS extracts a retry delay (in milliseconds) from an
// upstream 429 error body, preferring RetryInfo.retryDelay and falling back
// to metadata.quotaResetDelay.
func ParseRetryDelayMS(errorBody string) (ms int64, ok bool) {
	var body retryInfoErrorBody
	if err := json.Unmarshal([]byte(errorBody), &body); err != nil {
		return 0, false
	}

	for _, d := range body.Error.Details {
		if strings.Contains(d.Type, "RetryInfo") && d.RetryDelay != "" {
			if parsed, parsedOK := ParseDurationMS(d.RetryDelay); parsedOK {
				return parsed, true
			}
		}
	}
	for _, d := range body.Error.Details {
		if d.Metadata.QuotaResetDelay != "" {
			if parsed, parsedOK := ParseDurationMS(d.Metadata.QuotaResetDelay); parsedOK {
				return parsed, true
			}
		}
	}
	return 0, false
}

// waitRetryBufferMS is added to a parsed short delay so the retry lands
// just after the upstream's stated reset point rather than exactly on it.
const waitRetryBufferMS = 200

// shortDelayThresholdMS is the boundary under which a 429 delay is worth
// waiting out locally instead of rotating accounts.
const shortDelayThresholdMS = 5000

// DecideRetryAction implements the Retry Policy (component A): given an
// upstream HTTP status and its raw error body, decide whether to wait and
// retry the same account, rotate to the next account, or give up.
func DecideRetryAction(status int, errorBody string) RetryAction {
	action := decideRetryAction(status, errorBody)
	metrics.RetryDecisions.WithLabelValues(retryActionLabel(action.Kind)).Inc()
	return action
}

func decideRetryAction(status int, errorBody string) RetryAction {
	switch {
	case status == 429:
		if delay, ok := ParseRetryDelayMS(errorBody); ok && delay <= shortDelayThresholdMS {
			return RetryAction{Kind: RetryWaitAndRetry, DelayMS: delay + waitRetryBufferMS}
		}
		return RetryAction{Kind: RetryRotateAccount}
	case status == 403 || status == 404:
		return RetryAction{Kind: RetryRotateAccount}
	default:
		return RetryAction{Kind: RetryNone}
	}
}

func retryActionLabel(kind RetryActionKind) string {
	switch kind {
	case RetryWaitAndRetry:
		return "wait"
	case RetryRotateAccount:
		return "rotate"
	default:
		return "none"
	}
}

// emptyRetryFinishReasons are the finish-reason strings (in either case
// convention observed upstream) that indicate the response was truncated
// rather than deliberately empty.
var emptyRetryFinishReasons = map[string]bool{
	"MAX_TOKENS": true,
	"STOP":       true,
	"max_tokens": true,
	"stop":       true,
	"length":     true,
}

// ShouldRetryEmptyResponse reports whether an empty assistant completion
// with the given finish reason should trigger a whole-call retry.
func ShouldRetryEmptyResponse(content string, finishReason string) bool {
	if content != "" {
		return false
	}
	return emptyRetryFinishReasons[finishReason]
}
