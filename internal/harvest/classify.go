package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Decoder extracts the expected payload from a 2xx body. found=false signals an empty
// result envelope; a non-nil error signals a malformed body.
type Decoder func(body []byte) (payload json.RawMessage, found bool, err error)

// NewHTTPClassifier returns a Classifier applying the standard HTTP rules with decode for 2xx bodies.
// clock dates Retry-After values; nil means wall time.
func NewHTTPClassifier(decode Decoder, clock Clock) Classifier {
	return func(resp RawResponse, err error) Outcome {
		now := time.Now()
		if clock != nil {
			now = clock.Now()
		}
		return ClassifyHTTPAt(resp, err, decode, now)
	}
}

// ClassifyHTTP is ClassifyHTTPAt evaluated at wall time.
func ClassifyHTTP(resp RawResponse, err error, decode Decoder) Outcome {
	return ClassifyHTTPAt(resp, err, decode, time.Now())
}

// ClassifyHTTPAt maps a response or transport error to exactly one Outcome. now resolves
// HTTP-date Retry-After values.
//   - unbuildable request: permanent
//   - transport error or timeout: retryable
//   - 2xx: success, not-found for an empty envelope, retryable for a malformed body
//   - 400, 404: permanent
//   - 403, 429, 5xx and any other status: retryable
func ClassifyHTTPAt(resp RawResponse, err error, decode Decoder, now time.Time) Outcome {
	if errors.Is(err, ErrInvalidRequest) {
		return Outcome{
			Kind:   OutcomePermanentFailure,
			Reason: err.Error(),
		}
	}
	if err != nil {
		return Outcome{
			Kind:   OutcomeRetryableFailure,
			Reason: "transport: " + err.Error(),
		}
	}
	code := resp.StatusCode
	out := Outcome{StatusCode: code}
	switch {
	case code >= 200 && code < 300:
		if decode == nil {
			decode = PassthroughDecoder
		}
		payload, found, decErr := decode(resp.Body)
		switch {
		case decErr != nil:
			out.Kind = OutcomeRetryableFailure
			out.Reason = "malformed body: " + decErr.Error()
		case !found:
			out.Kind = OutcomeNotFound
			out.Reason = "no match"
		default:
			out.Kind = OutcomeSuccess
			out.Payload = payload
		}
	case code == http.StatusNotFound || code == http.StatusBadRequest:
		out.Kind = OutcomePermanentFailure
		out.Reason = statusReason(code, resp.Body)
	case code == http.StatusTooManyRequests:
		out.Kind = OutcomeRetryableFailure
		out.Reason = "rate limited"
		out.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	case code == http.StatusForbidden:
		out.Kind = OutcomeRetryableFailure
		out.Reason = "forbidden (quota)"
		out.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	case code >= 500 && code < 600:
		out.Kind = OutcomeRetryableFailure
		out.Reason = statusReason(code, resp.Body)
		out.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	default:
		out.Kind = OutcomeRetryableFailure
		out.Reason = "unexpected " + statusReason(code, resp.Body)
	}
	return out
}

// PassthroughDecoder accepts any valid JSON body that is not an empty envelope.
func PassthroughDecoder(body []byte) (json.RawMessage, bool, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, false, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, false, fmt.Errorf("invalid json")
	}
	if IsEmptyJSON(json.RawMessage(trimmed)) {
		return nil, false, nil
	}
	return json.RawMessage(trimmed), true, nil
}

// IsEmptyJSON reports whether raw is null, {}, [] or "".
func IsEmptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return strings.TrimSpace(t) == ""
	case nil:
		return true
	}
	return false
}

// ParseRetryAfter interprets a Retry-After header as seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func statusReason(code int, body []byte) string {
	reason := fmt.Sprintf("status %d", code)
	if snippet := truncateBody(body); snippet != "" {
		reason += ": " + snippet
	}
	return reason
}

func truncateBody(body []byte) string {
	const limit = 160
	s := string(body)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
