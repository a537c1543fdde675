package harvest

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned when a result is appended for an id that was already processed.
var ErrDuplicate = errors.New("item already processed")

// Record is the durable unit of progress. ProcessedIDs and Results are aligned by index.
type Record struct {
	RunID        string    `json:"run_id,omitempty"`
	ProcessedIDs []string  `json:"processed_ids"`
	Results      []Result  `json:"results"`
	Stats        Stats     `json:"stats"`
	LastUpdated  time.Time `json:"last_updated"`

	index map[string]struct{}
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{
		ProcessedIDs: []string{},
		Results:      []Result{},
		index:        make(map[string]struct{}),
	}
}

// Has reports whether id already has a terminal result.
func (r *Record) Has(id string) bool {
	if r.index == nil {
		r.Reindex()
	}
	_, ok := r.index[id]
	return ok
}

// Len returns the number of processed items.
func (r *Record) Len() int {
	return len(r.ProcessedIDs)
}

// Append marks res.ID processed and stores its result, updating the counters.
func (r *Record) Append(res Result) error {
	if res.ID == "" {
		return errors.New("result id is required")
	}
	if r.Has(res.ID) {
		return fmt.Errorf("append %q: %w", res.ID, ErrDuplicate)
	}
	r.ProcessedIDs = append(r.ProcessedIDs, res.ID)
	r.Results = append(r.Results, res)
	r.index[res.ID] = struct{}{}
	switch res.Status {
	case StatusSuccess:
		r.Stats.Succeeded++
	case StatusNotFound:
		r.Stats.NotFound++
	default:
		r.Stats.Failed++
	}
	if res.CompletedAt.After(r.LastUpdated) {
		r.LastUpdated = res.CompletedAt
	}
	return nil
}

// Reindex rebuilds the membership index from ProcessedIDs.
func (r *Record) Reindex() {
	r.index = make(map[string]struct{}, len(r.ProcessedIDs))
	for _, id := range r.ProcessedIDs {
		r.index[id] = struct{}{}
	}
}

// Validate checks the alignment invariant between ProcessedIDs and Results.
func (r *Record) Validate() error {
	if len(r.ProcessedIDs) != len(r.Results) {
		return fmt.Errorf("record has %d ids but %d results", len(r.ProcessedIDs), len(r.Results))
	}
	seen := make(map[string]struct{}, len(r.ProcessedIDs))
	for i, id := range r.ProcessedIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("id %q appears more than once", id)
		}
		seen[id] = struct{}{}
		if r.Results[i].ID != id {
			return fmt.Errorf("result %d has id %q, expected %q", i, r.Results[i].ID, id)
		}
	}
	return nil
}

// Repair rebuilds ProcessedIDs and the outcome counters from Results, dropping duplicate
// or anonymous results. It returns the number of results that were dropped.
func (r *Record) Repair() int {
	results := r.Results
	fresh := NewRecord()
	fresh.RunID = r.RunID
	fresh.LastUpdated = r.LastUpdated
	fresh.Stats.Total = r.Stats.Total
	dropped := 0
	for _, res := range results {
		if err := fresh.Append(res); err != nil {
			dropped++
		}
	}
	*r = *fresh
	return dropped
}

// Clone returns a copy safe to serialize while the original keeps changing.
func (r *Record) Clone() *Record {
	out := &Record{
		RunID:        r.RunID,
		ProcessedIDs: append([]string(nil), r.ProcessedIDs...),
		Results:      append([]Result(nil), r.Results...),
		Stats:        r.Stats,
		LastUpdated:  r.LastUpdated,
	}
	if out.ProcessedIDs == nil {
		out.ProcessedIDs = []string{}
	}
	if out.Results == nil {
		out.Results = []Result{}
	}
	out.Reindex()
	return out
}
