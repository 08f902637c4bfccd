package watch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	applog "github.com/jobscan/jobscan/pkg/log"
	"github.com/jobscan/jobscan/pkg/models"
)

// DefaultSchedule is used when no schedule is configured
const DefaultSchedule = "@every 6h"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scanner runs full scan cycles. *orchestrate.Engine implements it.
type Scanner interface {
	ScanAll(ctx context.Context) (*models.ScanReport, error)
	Sources() []models.Source
}

// Scheduler manages periodic scan cycles
type Scheduler struct {
	scanner      Scanner
	stateManager *StateManager
	spec         string
	schedule     cron.Schedule
	cron         *cron.Cron
	clock        clock.Clock
	log          *logrus.Entry

	cycleMu sync.Mutex // one cycle at a time
}

// NewScheduler creates a new watch scheduler. schedule is a cron expression,
// a descriptor such as @daily, or an interval such as 6h or 1d.
func NewScheduler(scanner Scanner, stateManager *StateManager, schedule string, clk clock.Clock, log *logrus.Entry) (*Scheduler, error) {
	spec, err := ScheduleSpec(schedule)
	if err != nil {
		return nil, err
	}
	parsed, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if clk == nil {
		clk = clock.WallClock
	}

	cronLog := applog.NewCronLogrusAdapter(log)
	return &Scheduler{
		scanner:      scanner,
		stateManager: stateManager,
		spec:         spec,
		schedule:     parsed,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		clock: clk,
		log:   log,
	}, nil
}

// Run starts the watch scheduler and blocks until ctx is cancelled. Sources
// that missed their slot while the process was down are scanned immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("Starting watch mode for %d sources with schedule %q", len(s.enabledSources()), s.spec)
	s.logSchedule()

	if due := s.getDueSources(); len(due) > 0 {
		s.log.Infof("Sources overdue at startup: %v", due)
		s.RunCycle(ctx)
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule scans: %w", err)
	}
	s.cron.Start()

	<-ctx.Done()
	s.log.Info("Watch scheduler shutting down...")
	<-s.cron.Stop().Done()
	return nil
}

// RunCycle runs one full scan and persists the resulting state. Overlapping
// calls wait for the running cycle.
func (s *Scheduler) RunCycle(ctx context.Context) *models.ScanReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	report, err := s.scanner.ScanAll(ctx)
	if err != nil {
		s.log.Errorf("Scan cycle failed: %v", err)
		return nil
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
	return report
}

// NextRun returns the first scheduled time after from
func (s *Scheduler) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *Scheduler) enabledSources() []models.Source {
	var enabled []models.Source
	for _, src := range s.scanner.Sources() {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled
}

// getDueSources returns sources never visited or whose next slot has passed
func (s *Scheduler) getDueSources() []string {
	now := s.clock.Now()
	var due []string
	for _, src := range s.enabledSources() {
		state, ok := s.stateManager.GetSourceState(src.ID)
		if !ok || !s.NextRun(state.LastRunTime).After(now) {
			due = append(due, src.ID)
		}
	}
	return due
}

// logSchedule logs the current schedule, soonest first
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	now := s.clock.Now()
	for _, st := range SortedStatus(s.GetStatus()) {
		if st.NeverRun {
			s.log.Infof("  %s: never run, will run immediately", st.SourceID)
			continue
		}
		due := "now"
		if st.NextRunTime.After(now) {
			due = "in " + FormatInterval(st.NextRunTime.Sub(now))
		}
		s.log.Infof("  %s: last run %v (%s, %d extracted), next run %s",
			st.SourceID,
			st.State.LastRunTime.Format(time.RFC3339),
			st.State.LastStatus,
			st.State.Extracted,
			due)
	}
}

// logNextRun logs when the next cycle will occur
func (s *Scheduler) logNextRun() {
	now := s.clock.Now()
	next := s.NextRun(now)
	s.log.Infof("Next scan in %v (at %s)", next.Sub(now).Round(time.Second), next.Format("15:04:05"))
}

// GetStatus returns the current status of all enabled sources
func (s *Scheduler) GetStatus() map[string]SourceStatus {
	status := make(map[string]SourceStatus)
	now := s.clock.Now()

	for _, src := range s.enabledSources() {
		state, exists := s.stateManager.GetSourceState(src.ID)
		nextRun := now
		if exists {
			nextRun = s.NextRun(state.LastRunTime)
		}
		status[src.ID] = SourceStatus{
			SourceID:    src.ID,
			State:       state,
			NextRunTime: nextRun,
			NeverRun:    !exists,
		}
	}

	return status
}

// SourceStatus contains the status of a watched source
type SourceStatus struct {
	SourceID    string
	State       SourceState
	NextRunTime time.Time
	NeverRun    bool
}

// SortedStatus returns statuses ordered by next run time, then source id
func SortedStatus(status map[string]SourceStatus) []SourceStatus {
	out := make([]SourceStatus, 0, len(status))
	for _, st := range status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunTime.Equal(out[j].NextRunTime) {
			return out[i].NextRunTime.Before(out[j].NextRunTime)
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// ScheduleSpec turns a configured schedule into a cron spec. Cron expressions
// and descriptors pass through; intervals such as 30m or 1d12h become @every.
func ScheduleSpec(schedule string) (string, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return DefaultSchedule, nil
	}
	if _, err := cronParser.Parse(schedule); err == nil {
		return schedule, nil
	}
	d, err := ParseInterval(schedule)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q: not a cron expression or interval", schedule)
	}
	if d <= 0 {
		return "", fmt.Errorf("schedule interval must be positive: %s", schedule)
	}
	return "@every " + d.String(), nil
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Check for day suffix
	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
