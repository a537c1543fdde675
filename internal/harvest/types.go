package harvest

import (
	"encoding/json"
	"net/http"
	"time"
)

// WorkItem is one unit of harvesting work. ID is the stable deduplication key.
type WorkItem struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Field returns the named payload field, or "" when absent.
func (w WorkItem) Field(name string) string {
	if w.Fields == nil {
		return ""
	}
	return w.Fields[name]
}

// Request is a fully built upstream request for a single attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RequestBuilder renders the upstream request for a work item.
type RequestBuilder func(item WorkItem) (Request, error)

// RawResponse is the unclassified result of one fetch attempt.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// OutcomeKind tags the classification of a fetch attempt.
type OutcomeKind int

// Outcome kinds. NotFound is the terminal "no match" result and is not an error.
const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeNotFound
	OutcomePermanentFailure
	OutcomeRetryableFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomePermanentFailure:
		return "permanent_failure"
	case OutcomeRetryableFailure:
		return "retryable_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends retrying for an item.
func (k OutcomeKind) Terminal() bool {
	return k == OutcomeSuccess || k == OutcomeNotFound || k == OutcomePermanentFailure
}

// Outcome classifies a single attempt.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	StatusCode int
	Payload    json.RawMessage
	// RetryAfter is an upstream-provided minimum wait, zero when absent.
	RetryAfter time.Duration
}

// Classifier maps one attempt's response or transport error into an Outcome.
type Classifier func(resp RawResponse, err error) Outcome

// ResultStatus is the terminal state persisted for a processed item.
type ResultStatus string

// Persisted result states.
const (
	StatusSuccess  ResultStatus = "success"
	StatusNotFound ResultStatus = "not_found"
	StatusFailed   ResultStatus = "failed"
)

// Result is the accumulated output for one processed work item.
type Result struct {
	ID          string          `json:"id"`
	Status      ResultStatus    `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ResultFromOutcome converts a terminal outcome into a persisted result. An upstream 404 is
// recorded as not_found; every other permanent failure as failed.
func ResultFromOutcome(id string, o Outcome, attempts int, at time.Time) Result {
	res := Result{
		ID:          id,
		Reason:      o.Reason,
		Attempts:    attempts,
		CompletedAt: at,
	}
	switch o.Kind {
	case OutcomeSuccess:
		res.Status = StatusSuccess
		res.Payload = o.Payload
		res.Reason = ""
	case OutcomeNotFound:
		res.Status = StatusNotFound
	case OutcomePermanentFailure:
		res.Status = StatusFailed
		if o.StatusCode == http.StatusNotFound {
			res.Status = StatusNotFound
		}
	default:
		res.Status = StatusFailed
	}
	return res
}

// Stats holds aggregate counters for a checkpoint.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
}

// Processed returns the number of items with a terminal result.
func (s Stats) Processed() int {
	return s.Succeeded + s.NotFound + s.Failed
}

// Remaining returns how many items of the work set are still outstanding.
func (s Stats) Remaining() int {
	if r := s.Total - s.Processed(); r > 0 {
		return r
	}
	return 0
}
