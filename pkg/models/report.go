package models

import (
	"sort"
	"time"

	"github.com/jobscan/jobscan/pkg/utils"
)

// Failure records one error with enough detail to diagnose it from the report.
type Failure struct {
	Stage    Stage  `json:"stage"`
	Cause    string `json:"cause"`
	Category string `json:"category"`
	Subject  string `json:"subject,omitempty"` // Candidate title or URL, when the failure is per-candidate
}

// ScanOutcome summarizes one visit of one source.
type ScanOutcome struct {
	SourceID         string        `json:"source_id"`
	Status           OutcomeStatus `json:"status"`
	SkipReason       string        `json:"skip_reason,omitempty"`
	PagesFetched     int           `json:"pages_fetched"`
	Extracted        int           `json:"extracted"`
	Created          int           `json:"created"`
	Updated          int           `json:"updated"`
	SkippedDuplicate int           `json:"skipped_duplicate"`
	Failed           int           `json:"failed"` // Candidate failures, plus one when the visit itself failed
	Degraded         int           `json:"degraded"`
	NoPostings       bool          `json:"no_postings,omitempty"`
	Failures         []Failure     `json:"failures,omitempty"`
	Warnings         []string      `json:"warnings,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// NewScanOutcome starts an outcome for sourceID.
func NewScanOutcome(sourceID string, startedAt time.Time) *ScanOutcome {
	return &ScanOutcome{SourceID: sourceID, StartedAt: startedAt}
}

// SkippedOutcome builds the outcome of a source that was never started.
func SkippedOutcome(sourceID, reason string, at time.Time) *ScanOutcome {
	return &ScanOutcome{SourceID: sourceID, Status: OutcomeSkipped, SkipReason: reason, StartedAt: at}
}

// RecordFailure attaches err to the outcome under stage.
func (o *ScanOutcome) RecordFailure(stage Stage, subject string, err error) {
	o.Failures = append(o.Failures, Failure{
		Stage:    stage,
		Cause:    err.Error(),
		Category: utils.CategorizeError(err),
		Subject:  subject,
	})
}

// RecordDecision counts a persisted reconciliation decision.
func (o *ScanOutcome) RecordDecision(kind DecisionKind) {
	switch kind {
	case DecisionCreate:
		o.Created++
	case DecisionUpdateIfChanged:
		o.Updated++
	case DecisionSkipDuplicate:
		o.SkippedDuplicate++
	}
}

// Succeeded reports whether the visit counts as successful for last-scan bookkeeping.
func (o *ScanOutcome) Succeeded() bool {
	return o != nil && o.Status == OutcomeCompleted
}

// ScanReport aggregates the outcomes of one cycle, keyed by source id.
type ScanReport struct {
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Outcomes  map[string]*ScanOutcome `json:"outcomes"`
}

// NewScanReport returns an empty report.
func NewScanReport(startedAt time.Time) *ScanReport {
	return &ScanReport{StartedAt: startedAt, Outcomes: make(map[string]*ScanOutcome)}
}

// SortedSourceIDs returns the report's source ids in lexical order, for stable printing.
func (r *ScanReport) SortedSourceIDs() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for id := range r.Outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScanTotals are report-wide sums.
type ScanTotals struct {
	Sources          int `json:"sources"`
	Completed        int `json:"completed"`
	FailedSources    int `json:"failed_sources"`
	SkippedSources   int `json:"skipped_sources"`
	Extracted        int `json:"extracted"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Failures         int `json:"failures"`
	Warnings         int `json:"warnings"`
}

// Totals sums the per-source outcomes.
func (r *ScanReport) Totals() ScanTotals {
	var t ScanTotals
	for _, o := range r.Outcomes {
		t.Sources++
		switch o.Status {
		case OutcomeCompleted:
			t.Completed++
		case OutcomeFailed:
			t.FailedSources++
		case OutcomeSkipped:
			t.SkippedSources++
		}
		t.Extracted += o.Extracted
		t.Created += o.Created
		t.Updated += o.Updated
		t.SkippedDuplicate += o.SkippedDuplicate
		t.Failures += o.Failed
		t.Warnings += len(o.Warnings)
	}
	return t
}
