package orchestrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

// visit runs fetch, extract, reconcile and persist for one source. Stages are
// strictly sequential. A per-candidate failure is recorded and the remaining
// candidates still run.
func (e *Engine) visit(ctx context.Context, src models.Source) *models.ScanOutcome {
	startTime := e.clock.Now()
	outcome := models.NewScanOutcome(src.ID, startTime)
	srcLog := e.log.WithFields(logrus.Fields{"source_id": src.ID, "strategy": src.Strategy})
	defer func() {
		outcome.Duration = e.clock.Now().Sub(startTime)
		e.markVisited(outcome)
	}()

	srcLog.Info("Visiting source")

	doc, err := e.fetcher.Fetch(ctx, src)
	if err != nil {
		e.failVisit(ctx, outcome, models.StageFetch, src.SeedURL, err)
		srcLog.WithError(err).Warn("Fetch failed")
		return outcome
	}
	outcome.PagesFetched = len(doc.Pages)

	it, err := e.extractor.Extract(doc, src)
	if err != nil {
		e.failVisit(ctx, outcome, models.StageExtract, doc.FinalURL(), err)
		srcLog.WithError(err).Warn("Extraction failed")
		return outcome
	}

	for {
		if ctx.Err() != nil {
			e.failVisit(ctx, outcome, models.StageReconcile, "", ctx.Err())
			srcLog.Warn("Visit interrupted before all candidates were reconciled")
			return outcome
		}
		candidate, ok := it.Next()
		if !ok {
			break
		}
		e.processCandidate(ctx, outcome, candidate, srcLog)
	}

	outcome.NoPostings = outcome.Extracted == 0
	outcome.Status = models.OutcomeCompleted
	if outcome.NoPostings {
		srcLog.Warn("No postings found")
	}
	srcLog.WithFields(logrus.Fields{
		"extracted": outcome.Extracted,
		"created":   outcome.Created,
		"updated":   outcome.Updated,
		"skipped":   outcome.SkippedDuplicate,
		"failed":    outcome.Failed,
	}).Info("Source visit complete")
	return outcome
}

func (e *Engine) processCandidate(ctx context.Context, outcome *models.ScanOutcome, c *models.JobCandidate, srcLog *logrus.Entry) {
	outcome.Extracted++
	title := c.Title.String()

	if e.filler != nil {
		if err := e.filler.Fill(ctx, c); err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("model fill for %q: %v", title, err))
		}
	}
	if len(c.Degraded) > 0 {
		outcome.Degraded++
	}

	applied, err := e.dedup.Apply(ctx, c)
	outcome.Warnings = append(outcome.Warnings, applied.Decision.Warnings...)
	if err != nil {
		stage := models.StageReconcile
		if errors.Is(err, utils.ErrStorage) {
			stage = models.StagePersist
		}
		outcome.Failed++
		outcome.RecordFailure(stage, title, err)
		srcLog.WithError(err).WithFields(logrus.Fields{"stage": stage, "title": title}).Warn("Candidate failed")
		return
	}
	outcome.RecordDecision(applied.Decision.Kind)
}

// failVisit marks the whole visit failed. Interruptions by the cycle deadline
// are reported as cycle timeouts.
func (e *Engine) failVisit(ctx context.Context, outcome *models.ScanOutcome, stage models.Stage, subject string, err error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", utils.ErrCycleTimeout, err)
	}
	outcome.Status = models.OutcomeFailed
	outcome.Failed++
	outcome.RecordFailure(stage, subject, err)
}

// PreviewItem is a candidate with the decision a scan would take for it
type PreviewItem struct {
	Candidate *models.JobCandidate `json:"candidate"`
	Decision  models.Decision      `json:"decision"`
	Error     string               `json:"error,omitempty"`
}

// Preview fetches and extracts one source and reconciles every candidate
// without writing. Last scan times are left untouched.
func (e *Engine) Preview(ctx context.Context, sourceID string) ([]PreviewItem, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	src, ok := e.findSource(sourceID)
	if !ok || !src.Enabled {
		return nil, fmt.Errorf("%w: %q", utils.ErrUnknownSource, sourceID)
	}
	cycleCtx, cancel := e.cycleContext(ctx)
	defer cancel()

	doc, err := e.fetcher.Fetch(cycleCtx, src)
	if err != nil {
		return nil, err
	}
	it, err := e.extractor.Extract(doc, src)
	if err != nil {
		return nil, err
	}

	var items []PreviewItem
	for {
		c, ok := it.Next()
		if !ok {
			break
		}
		if e.filler != nil {
			if err := e.filler.Fill(cycleCtx, c); err != nil {
				e.log.WithField("source_id", src.ID).Debugf("Preview model fill failed: %v", err)
			}
		}
		item := PreviewItem{Candidate: c}
		decision, err := e.dedup.Reconcile(cycleCtx, c)
		item.Decision = decision
		if err != nil {
			item.Error = err.Error()
		}
		items = append(items, item)
	}
	return items, nil
}
