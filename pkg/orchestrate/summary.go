package orchestrate

import (
	"github.com/jobscan/jobscan/pkg/models"
)

// logSummary logs a summary of all source outcomes
func (e *Engine) logSummary(report *models.ScanReport) {
	e.log.Info("============================================")
	e.log.Infof("Scan completed in %v", report.Duration)
	e.log.Info("Source Results:")

	for _, id := range report.SortedSourceIDs() {
		o := report.Outcomes[id]
		switch o.Status {
		case models.OutcomeSkipped:
			e.log.Infof("  %s: SKIPPED - %s", id, o.SkipReason)
			continue
		case models.OutcomeFailed:
			e.log.Infof("  %s: FAILED in %v", id, o.Duration)
		default:
			e.log.Infof("  %s: SUCCESS - %d extracted, %d created, %d updated, %d unchanged, %d failed in %v",
				id, o.Extracted, o.Created, o.Updated, o.SkippedDuplicate, o.Failed, o.Duration)
		}
		for _, f := range o.Failures {
			e.log.Infof("    Error [%s/%s]: %s", f.Stage, f.Category, f.Cause)
		}
		for _, w := range o.Warnings {
			e.log.Infof("    Warning: %s", w)
		}
	}

	t := report.Totals()
	e.log.Info("--------------------------------------------")
	e.log.Infof("Total: %d sources (%d completed, %d failed, %d skipped), %d postings (%d new, %d updated, %d unchanged, %d failed)",
		t.Sources, t.Completed, t.FailedSources, t.SkippedSources,
		t.Extracted, t.Created, t.Updated, t.SkippedDuplicate, t.Failures)
	e.log.Info("============================================")
}
