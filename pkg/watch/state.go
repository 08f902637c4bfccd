package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const stateFileName = "watch_state.json"

// SourceState contains the last visit information for a source
type SourceState struct {
	LastRunTime     time.Time            `json:"last_run_time"`
	LastSuccessTime time.Time            `json:"last_success_time,omitempty"`
	LastStatus      models.OutcomeStatus `json:"last_status"`
	Extracted       int                  `json:"extracted"`
	Created         int                  `json:"created"`
	Updated         int                  `json:"updated"`
	Failed          int                  `json:"failed"`
	ErrorMessage    string               `json:"error_message,omitempty"`
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Sources   map[string]SourceState `json:"sources"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateManager handles persisting and loading watch state. It records every
// engine visit, including single-source scans triggered outside the schedule.
type StateManager struct {
	stateDir  string
	statePath string
	clock     clock.Clock
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a new state manager. A nil clock uses the wall clock.
func NewStateManager(stateDir string, clk clock.Clock) *StateManager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		clock:     clk,
		state: WatchState{
			Sources: make(map[string]SourceState),
		},
	}
}

// Load loads the state from disk
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No state file yet, start fresh
			m.state = WatchState{
				Sources: make(map[string]SourceState),
			}
			return nil
		}
		return fmt.Errorf("%w: failed to read state file: %w", utils.ErrFilesystem, err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("%w: failed to parse state file: %w", utils.ErrParsing, err)
	}

	if m.state.Sources == nil {
		m.state.Sources = make(map[string]SourceState)
	}

	return nil
}

// Save writes the state to disk through a temporary file
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = m.clock.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create state directory: %w", utils.ErrFilesystem, err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write state file: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("%w: failed to replace state file: %w", utils.ErrFilesystem, err)
	}

	return nil
}

// GetSourceState returns the state for a specific source
func (m *StateManager) GetSourceState(sourceID string) (SourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sources[sourceID]
	return state, ok
}

// LastSuccess returns when the source was last visited successfully
func (m *StateManager) LastSuccess(sourceID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sources[sourceID]
	if !ok || state.LastSuccessTime.IsZero() {
		return time.Time{}, false
	}
	return state.LastSuccessTime, true
}

// RecordOutcome updates the source's state from one visit. Skipped sources
// were never visited and leave the state untouched.
func (m *StateManager) RecordOutcome(outcome *models.ScanOutcome, at time.Time) {
	if outcome == nil || outcome.Status == models.OutcomeSkipped {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Sources[outcome.SourceID]
	next := SourceState{
		LastRunTime:     at,
		LastSuccessTime: prev.LastSuccessTime,
		LastStatus:      outcome.Status,
		Extracted:       outcome.Extracted,
		Created:         outcome.Created,
		Updated:         outcome.Updated,
		Failed:          outcome.Failed,
	}
	if outcome.Succeeded() {
		next.LastSuccessTime = at
	}
	if len(outcome.Failures) > 0 {
		next.ErrorMessage = outcome.Failures[0].Cause
	}
	m.state.Sources[outcome.SourceID] = next
}

// GetAllSourceStates returns all source states
func (m *StateManager) GetAllSourceStates() map[string]SourceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy
	result := make(map[string]SourceState, len(m.state.Sources))
	for k, v := range m.state.Sources {
		result[k] = v
	}
	return result
}
