package delegate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// RunStatus is the execution state of a delegation run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// IsTerminal returns true for finished runs
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// maxTrackedResult caps the result text kept in the registry; the full text
// goes back to the orchestrator either way.
const maxTrackedResult = 500

// RunRecord is one tracked delegation
type RunRecord struct {
	ID               string    `json:"id"`
	ParentSessionKey string    `json:"parent_session_key,omitempty"`
	SpecialistID     string    `json:"specialist_id"`
	Task             string    `json:"task"`
	Status           RunStatus `json:"status"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        int64     `json:"started_at"`
	CompletedAt      *int64    `json:"completed_at,omitempty"`
}

type registryFile struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated int64        `json:"last_updated"`
}

// Tracker records delegation runs in a JSON registry for observability
type Tracker struct {
	runs         map[string]*RunRecord
	registryPath string
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// NewTracker creates a tracker and loads any existing registry. A corrupt or
// unreadable registry file starts an empty one rather than failing.
func NewTracker(registryPath string, logger zerolog.Logger) (*Tracker, error) {
	if registryPath == "" {
		return nil, fmt.Errorf("registry path is required")
	}

	t := &Tracker{
		runs:         make(map[string]*RunRecord),
		registryPath: registryPath,
		logger:       logger.With().Str("component", "delegate_tracker").Logger(),
	}

	data, err := os.ReadFile(registryPath)
	if err == nil {
		var registry registryFile
		if err := json.Unmarshal(data, &registry); err != nil {
			t.logger.Error().Err(err).Msg("Failed to parse run registry, starting empty")
		} else {
			for _, run := range registry.Runs {
				t.runs[run.ID] = run
			}
		}
	} else if !os.IsNotExist(err) {
		t.logger.Error().Err(err).Msg("Failed to read run registry, starting empty")
	}

	return t, nil
}

// Begin registers a new run and returns its id
func (t *Tracker) Begin(parentSessionKey, specialistID, task string) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}

	record := &RunRecord{
		ID:               runID,
		ParentSessionKey: parentSessionKey,
		SpecialistID:     specialistID,
		Task:             task,
		Status:           StatusRunning,
		StartedAt:        time.Now().UnixMilli(),
	}

	t.mu.Lock()
	t.runs[runID] = record
	t.mu.Unlock()
	t.save()

	t.logger.Info().
		Str("run_id", runID).
		Str("specialist_id", specialistID).
		Msg("Delegation run started")
	return runID, nil
}

// Complete marks a run finished with its (truncated) result
func (t *Tracker) Complete(runID, result string) {
	t.finish(runID, StatusCompleted, result, "")
}

// Fail marks a run failed
func (t *Tracker) Fail(runID, errMsg string) {
	t.finish(runID, StatusFailed, "", errMsg)
}

func (t *Tracker) finish(runID string, status RunStatus, result, errMsg string) {
	t.mu.Lock()
	record, exists := t.runs[runID]
	if exists {
		record.Status = status
		if len(result) > maxTrackedResult {
			result = result[:maxTrackedResult]
		}
		record.Result = result
		record.Error = errMsg
		now := time.Now().UnixMilli()
		record.CompletedAt = &now
	}
	t.mu.Unlock()

	if !exists {
		t.logger.Warn().Str("run_id", runID).Msg("Finish for unknown run")
		return
	}
	t.save()
}

// Get returns a run record, or nil when unknown
func (t *Tracker) Get(runID string) *RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if record, ok := t.runs[runID]; ok {
		copied := *record
		return &copied
	}
	return nil
}

// List returns all tracked runs
func (t *Tracker) List() []*RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*RunRecord, 0, len(t.runs))
	for _, record := range t.runs {
		copied := *record
		out = append(out, &copied)
	}
	return out
}

// Cleanup removes terminal runs older than the retention window
func (t *Tracker) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-retention).UnixMilli()

	t.mu.Lock()
	removed := 0
	for runID, record := range t.runs {
		if record.Status.IsTerminal() && record.CompletedAt != nil && *record.CompletedAt < cutoff {
			delete(t.runs, runID)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.save()
		t.logger.Info().Int("removed", removed).Msg("Run registry cleaned up")
	}
	return removed
}

// save persists the registry with a temp-file-and-rename atomic write.
// Persistence is best effort; a failed save never fails the delegation.
func (t *Tracker) save() {
	t.mu.RLock()
	runs := make([]*RunRecord, 0, len(t.runs))
	for _, record := range t.runs {
		runs = append(runs, record)
	}
	t.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(t.registryPath), 0700); err != nil {
		t.logger.Error().Err(err).Msg("Failed to create registry directory")
		return
	}

	data, err := json.MarshalIndent(registryFile{
		Version:     1,
		Runs:        runs,
		LastUpdated: time.Now().UnixMilli(),
	}, "", "  ")
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to marshal run registry")
		return
	}

	tempPath := t.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		t.logger.Error().Err(err).Msg("Failed to write temp registry file")
		return
	}
	if err := os.Rename(tempPath, t.registryPath); err != nil {
		t.logger.Error().Err(err).Msg("Failed to rename registry file")
		os.Remove(tempPath)
	}
}
