package run

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/mirrorsync/pkg/errors"
)

// Pass names an engine entry point.
type Pass string

// Passes.
const (
	Forward     Pass = "forward"
	Reverse     Pass = "reverse"
	Reprovision Pass = "reprovision"
)

// Stats counts what a pass did.
type Stats struct {
	Scanned          int `json:"scanned" yaml:"scanned"`
	Processed        int `json:"processed" yaml:"processed"`
	OwnersCreated    int `json:"owners_created" yaml:"owners_created"`
	MirrorsCreated   int `json:"mirrors_created" yaml:"mirrors_created"`
	RowsInserted     int `json:"rows_inserted" yaml:"rows_inserted"`
	RowsUpdated      int `json:"rows_updated" yaml:"rows_updated"`
	RowsUnchanged    int `json:"rows_unchanged" yaml:"rows_unchanged"`
	Deferred         int `json:"deferred" yaml:"deferred"`
	Pushed           int `json:"pushed" yaml:"pushed"`
	Reconciled       int `json:"reconciled" yaml:"reconciled"`
	Skipped          int `json:"skipped" yaml:"skipped"`
	SubTablesCreated int `json:"sub_tables_created" yaml:"sub_tables_created"`
	FieldsAdded      int `json:"fields_added" yaml:"fields_added"`
	Errors           int `json:"errors" yaml:"errors"`
}

// Counter is one labelled statistic.
type Counter struct {
	Name  string
	Value int
}

// Counters returns the statistics in display order.
func (s Stats) Counters() []Counter {
	return []Counter{
		{"Scanned", s.Scanned},
		{"Processed", s.Processed},
		{"Owners created", s.OwnersCreated},
		{"Mirrors created", s.MirrorsCreated},
		{"Rows inserted", s.RowsInserted},
		{"Rows updated", s.RowsUpdated},
		{"Rows unchanged", s.RowsUnchanged},
		{"Deferred", s.Deferred},
		{"Pushed", s.Pushed},
		{"Reconciled", s.Reconciled},
		{"Skipped", s.Skipped},
		{"Sub-tables created", s.SubTablesCreated},
		{"Fields added", s.FieldsAdded},
		{"Errors", s.Errors},
	}
}

// Writes returns the number of store writes the counters account for.
func (s Stats) Writes() int {
	return s.OwnersCreated + s.MirrorsCreated + s.RowsInserted + s.RowsUpdated +
		s.Pushed + s.Reconciled + s.SubTablesCreated
}

// ErrorDetail records one isolated failure.
type ErrorDetail struct {
	Kind    errors.Kind `json:"kind" yaml:"kind"`
	Record  string      `json:"record,omitempty" yaml:"record,omitempty"`
	Owner   string      `json:"owner,omitempty" yaml:"owner,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

// Result is the outcome of a pass. It is safe for concurrent updates.
type Result struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Pass       Pass          `json:"pass" yaml:"pass"`
	StartedAt  utc.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt utc.Time      `json:"finished_at" yaml:"finished_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Stats      Stats         `json:"stats" yaml:"stats"`
	Errors     []ErrorDetail `json:"errors,omitempty" yaml:"errors,omitempty"`

	mu      sync.Mutex
	started time.Time
}

// NewResult starts a result for a pass.
func NewResult(pass Pass, runID string) *Result {
	return &Result{
		RunID:     runID,
		Pass:      pass,
		StartedAt: utc.Now(),
		started:   time.Now(),
	}
}

// Update applies fn to the statistics under the result's lock.
func (r *Result) Update(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.Stats)
}

// Fail records an isolated failure.
func (r *Result) Fail(record, owner string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stats.Errors++
	r.Errors = append(r.Errors, ErrorDetail{
		Kind:    errors.KindOf(err),
		Record:  record,
		Owner:   owner,
		Message: err.Error(),
	})
}

// Finish stamps the end time.
func (r *Result) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = utc.Now()
	r.Duration = time.Since(r.started)
}

// Snapshot returns a copy of the statistics.
func (r *Result) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Stats
}

// HasErrors reports whether any failure was recorded.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Stats.Errors > 0
}

// Summary returns a human-readable summary of the result.
func (r *Result) Summary() string {
	s := r.Snapshot()
	var parts []string
	for _, c := range s.Counters() {
		if c.Value > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.Value, strings.ToLower(c.Name)))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: nothing to do", r.Pass)
	}
	return fmt.Sprintf("%s: %s", r.Pass, strings.Join(parts, ", "))
}
