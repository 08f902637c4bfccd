package models

// StrategyTag selects how a source's documents are fetched and split into posting blocks
type StrategyTag string

const (
	StrategyUnset            StrategyTag = ""                  // Zero value = not configured
	StrategyStaticPage       StrategyTag = "static-page"       // One page, one posting
	StrategyPaginatedListing StrategyTag = "paginated-listing" // Repeated listing entries across pages
	StrategyMarkdownDocument StrategyTag = "markdown-document" // Markdown file, one posting per heading
)

// String implements fmt.Stringer for logging
func (s StrategyTag) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the tag is one of the supported strategies
func (s StrategyTag) IsValid() bool {
	switch s {
	case StrategyStaticPage, StrategyPaginatedListing, StrategyMarkdownDocument:
		return true
	}
	return false
}

// DecisionKind is the outcome of reconciling a candidate against stored records
type DecisionKind string

const (
	DecisionUnset           DecisionKind = ""                  // Zero value = not reconciled
	DecisionCreate          DecisionKind = "create"            // No record shares the identity key
	DecisionUpdateIfChanged DecisionKind = "update_if_changed" // Record exists and its content digest differs
	DecisionSkipDuplicate   DecisionKind = "skip_duplicate"    // Record exists with identical content
)

// String implements fmt.Stringer for logging
func (d DecisionKind) String() string {
	if d == "" {
		return "unset"
	}
	return string(d)
}

// IsValid returns true if the decision is a known operational value
func (d DecisionKind) IsValid() bool {
	switch d {
	case DecisionCreate, DecisionUpdateIfChanged, DecisionSkipDuplicate:
		return true
	}
	return false
}

// OutcomeStatus is the overall result of one source visit
type OutcomeStatus string

const (
	OutcomeUnset     OutcomeStatus = ""          // Zero value = visit not finished
	OutcomeCompleted OutcomeStatus = "completed" // Pipeline ran to the end (candidate failures allowed)
	OutcomeFailed    OutcomeStatus = "failed"    // Fetch or extraction setup failed
	OutcomeSkipped   OutcomeStatus = "skipped"   // Not started, see SkipReason
)

// String implements fmt.Stringer for logging
func (s OutcomeStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s OutcomeStatus) IsValid() bool {
	switch s {
	case OutcomeCompleted, OutcomeFailed, OutcomeSkipped:
		return true
	}
	return false
}

// Stage names the pipeline step a failure was recorded in
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageReconcile Stage = "reconcile"
	StagePersist   Stage = "persist"
	StageSchedule  Stage = "schedule"
)
