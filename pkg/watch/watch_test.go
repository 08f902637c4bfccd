package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func completedOutcome(id string, created int) *models.ScanOutcome {
	o := models.NewScanOutcome(id, t0)
	o.Status = models.OutcomeCompleted
	o.Extracted = created
	o.Created = created
	return o
}

func TestStateManager(t *testing.T) {
	// Create temp directory for state file
	tmpDir := t.TempDir()

	sm := NewStateManager(tmpDir, testclock.NewClock(t0))

	// Test initial state
	if err := sm.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, ok := sm.LastSuccess("ssc"); ok {
		t.Error("LastSuccess() should be false for a new source")
	}

	sm.RecordOutcome(completedOutcome("ssc", 4), t0)

	state, ok := sm.GetSourceState("ssc")
	if !ok {
		t.Fatal("GetSourceState() should return true for existing source")
	}
	if state.LastStatus != models.OutcomeCompleted {
		t.Errorf("LastStatus = %q, want completed", state.LastStatus)
	}
	if state.Created != 4 {
		t.Errorf("Created = %d, want 4", state.Created)
	}
	if last, ok := sm.LastSuccess("ssc"); !ok || !last.Equal(t0) {
		t.Errorf("LastSuccess() = %v, %v; want %v, true", last, ok, t0)
	}

	// Test Save
	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	// Verify state file exists and no temp file is left behind
	statePath := filepath.Join(tmpDir, stateFileName)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		t.Error("State file should exist after Save()")
	}
	if _, err := os.Stat(statePath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary state file should be renamed away")
	}

	// Test Load from saved state
	sm2 := NewStateManager(tmpDir, nil)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}

	state2, ok := sm2.GetSourceState("ssc")
	if !ok {
		t.Error("GetSourceState() should return true after Load()")
	}
	if state2.Created != 4 {
		t.Errorf("Loaded Created = %d, want 4", state2.Created)
	}
}

func TestStateManagerFailureKeepsLastSuccess(t *testing.T) {
	sm := NewStateManager(t.TempDir(), nil)
	_ = sm.Load()

	sm.RecordOutcome(completedOutcome("ssc", 2), t0)

	failed := models.NewScanOutcome("ssc", t0)
	failed.Status = models.OutcomeFailed
	failed.RecordFailure(models.StageFetch, "https://ssc.gov.in", errors.New("connection refused"))
	later := t0.Add(time.Hour)
	sm.RecordOutcome(failed, later)

	state, _ := sm.GetSourceState("ssc")
	if !state.LastRunTime.Equal(later) {
		t.Errorf("LastRunTime = %v, want %v", state.LastRunTime, later)
	}
	if !state.LastSuccessTime.Equal(t0) {
		t.Errorf("LastSuccessTime = %v, want %v", state.LastSuccessTime, t0)
	}
	if state.ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q, want 'connection refused'", state.ErrorMessage)
	}

	// Skipped sources were never visited
	sm.RecordOutcome(models.SkippedOutcome("ssc", "cycle deadline exceeded", later.Add(time.Hour)), later.Add(time.Hour))
	state, _ = sm.GetSourceState("ssc")
	if state.LastStatus != models.OutcomeFailed {
		t.Errorf("LastStatus = %q after skip, want failed", state.LastStatus)
	}
}

func TestStateManagerGetAllSourceStates(t *testing.T) {
	sm := NewStateManager(t.TempDir(), nil)
	_ = sm.Load()

	sm.RecordOutcome(completedOutcome("source1", 5), t0)
	sm.RecordOutcome(completedOutcome("source2", 0), t0)
	sm.RecordOutcome(completedOutcome("source3", 20), t0)

	states := sm.GetAllSourceStates()
	if len(states) != 3 {
		t.Errorf("GetAllSourceStates() returned %d states, want 3", len(states))
	}
	if states["source3"].Created != 20 {
		t.Errorf("source3 Created = %d, want 20", states["source3"].Created)
	}
}

func TestStateManagerCorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, stateFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewStateManager(tmpDir, nil).Load(); err == nil {
		t.Error("Load() should fail on a corrupt state file")
	}
}

func TestScheduleSpec(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"", DefaultSchedule, false},
		{"6h", "@every 6h0m0s", false},
		{"1d", "@every 24h0m0s", false},
		{"0 */6 * * *", "0 */6 * * *", false},
		{"@daily", "@daily", false},
		{"@every 30m", "@every 30m", false},
		{"0s", "", true},
		{"whenever", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ScheduleSpec(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ScheduleSpec(%q) expected error, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScheduleSpec(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ScheduleSpec(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// fakeScanner records cycles and feeds outcomes to the state manager the way the engine does
type fakeScanner struct {
	mu      sync.Mutex
	sources []models.Source
	state   *StateManager
	at      time.Time
	cycles  int
	ran     chan struct{}
}

func (f *fakeScanner) ScanAll(context.Context) (*models.ScanReport, error) {
	f.mu.Lock()
	f.cycles++
	f.mu.Unlock()

	report := models.NewScanReport(f.at)
	for _, src := range f.sources {
		if !src.Enabled {
			continue
		}
		o := completedOutcome(src.ID, 1)
		report.Outcomes[src.ID] = o
		f.state.RecordOutcome(o, f.at)
	}
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return report, nil
}

func (f *fakeScanner) Sources() []models.Source { return f.sources }

func (f *fakeScanner) cycleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cycles
}

func newFakeScanner(state *StateManager) *fakeScanner {
	return &fakeScanner{
		sources: []models.Source{{ID: "ssc", Enabled: true}, {ID: "upsc", Enabled: true}, {ID: "off", Enabled: false}},
		state:   state,
		at:      t0,
		ran:     make(chan struct{}, 1),
	}
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	sm := NewStateManager(t.TempDir(), nil)
	if _, err := NewScheduler(newFakeScanner(sm), sm, "every tuesday", nil, testLogger()); err == nil {
		t.Error("NewScheduler() should reject an unparseable schedule")
	}
}

func TestSchedulerRunCycleSavesState(t *testing.T) {
	tmpDir := t.TempDir()
	clk := testclock.NewClock(t0)
	sm := NewStateManager(tmpDir, clk)
	scanner := newFakeScanner(sm)

	s, err := NewScheduler(scanner, sm, "1h", clk, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	report := s.RunCycle(context.Background())
	if report == nil || len(report.Outcomes) != 2 {
		t.Fatalf("RunCycle() report = %+v, want 2 outcomes", report)
	}

	reloaded := NewStateManager(tmpDir, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, ok := reloaded.GetSourceState("upsc"); !ok {
		t.Error("cycle state should be persisted")
	}
}

func TestSchedulerDueSources(t *testing.T) {
	clk := testclock.NewClock(t0)
	sm := NewStateManager(t.TempDir(), clk)
	scanner := newFakeScanner(sm)
	s, err := NewScheduler(scanner, sm, "1h", clk, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	if due := s.getDueSources(); len(due) != 2 {
		t.Errorf("getDueSources() = %v, want both enabled sources", due)
	}

	sm.RecordOutcome(completedOutcome("ssc", 1), t0)
	sm.RecordOutcome(completedOutcome("upsc", 1), t0.Add(-2*time.Hour))
	due := s.getDueSources()
	if len(due) != 1 || due[0] != "upsc" {
		t.Errorf("getDueSources() = %v, want [upsc]", due)
	}

	clk.Advance(time.Hour)
	if due := s.getDueSources(); len(due) != 2 {
		t.Errorf("getDueSources() after an hour = %v, want both", due)
	}

	status := s.GetStatus()
	if len(status) != 2 {
		t.Fatalf("GetStatus() returned %d entries, want 2", len(status))
	}
	if !status["ssc"].NextRunTime.Equal(t0.Add(time.Hour)) {
		t.Errorf("ssc NextRunTime = %v, want %v", status["ssc"].NextRunTime, t0.Add(time.Hour))
	}
	sorted := SortedStatus(status)
	if sorted[0].SourceID != "upsc" {
		t.Errorf("SortedStatus()[0] = %s, want upsc", sorted[0].SourceID)
	}
}

func TestSchedulerRunScansOverdueSourcesAtStartup(t *testing.T) {
	sm := NewStateManager(t.TempDir(), nil)
	scanner := newFakeScanner(sm)
	s, err := NewScheduler(scanner, sm, "@daily", nil, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-scanner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("startup cycle did not run")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if n := scanner.cycleCount(); n != 1 {
		t.Errorf("cycles = %d, want 1", n)
	}
}

func TestSchedulerRunCycleAfterCancelIsNoop(t *testing.T) {
	sm := NewStateManager(t.TempDir(), nil)
	scanner := newFakeScanner(sm)
	s, _ := NewScheduler(scanner, sm, "", nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if report := s.RunCycle(ctx); report != nil {
		t.Error("RunCycle() should not scan with a cancelled context")
	}
	if scanner.cycleCount() != 0 {
		t.Error("scanner should not be called")
	}
}
