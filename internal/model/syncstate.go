package model

import (
	"fmt"
	"time"
)

// Status values for a sync run. Transitions are monotone: pending ->
// in_progress -> {completed, failed}, with paused reachable only from
// in_progress and returning to in_progress on resume.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusPaused     = "paused"
)

// Progress tracks location-level completion for a run.
type Progress struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percentage"`
}

// Checkpoint is an immutable fact that a unit of work completed. Appended
// after a stage finishes, never mutated. Resume reconstructs "what has
// definitely been done" from these, not from progress counters.
type Checkpoint struct {
	Step        string    `json:"step"`
	DataType    DataType  `json:"data_type,omitempty"`
	LocationID  string    `json:"location_id,omitempty"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Checkpoint step names.
const (
	StepDiscovery = "discovery"
	StepFetch     = "fetch"
	StepLocation  = "location"
	StepFinalize  = "finalize"
)

// Checkpoint statuses.
const (
	CheckpointCompleted = "completed"
	CheckpointFailed    = "failed"
)

// SyncError records a non-fatal failure during a run.
type SyncError struct {
	Step       string    `json:"step"`
	LocationID string    `json:"location_id,omitempty"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Retryable  bool      `json:"retryable"`
	RetryCount int       `json:"retry_count"`
}

// SyncState is the persisted, resumable progress record for one sync run.
// Mutated only by the orchestrator that owns the run, and persisted in full
// after every mutation so a crash leaves the last-written state durable.
type SyncState struct {
	ID                string       `json:"id"`
	OwnerID           string       `json:"owner_id"`
	ExternalAccountID string       `json:"external_account_id"`
	Status            string       `json:"status"`
	CurrentStep       string       `json:"current_step"`
	Progress          Progress     `json:"progress"`
	Checkpoints       []Checkpoint `json:"checkpoints"`
	Errors            []SyncError  `json:"errors"`
	StartedAt         time.Time    `json:"started_at"`
	LastUpdatedAt     time.Time    `json:"last_updated_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

// NewSyncState creates a pending state for a new run.
func NewSyncState(id, ownerID string) *SyncState {
	now := time.Now().UTC()
	return &SyncState{
		ID:            id,
		OwnerID:       ownerID,
		Status:        StatusPending,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

// validTransitions maps each status to the statuses reachable from it.
var validTransitions = map[string][]string{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPaused},
	StatusPaused:     {StatusInProgress, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// TransitionTo moves the run to a new status, enforcing the monotone
// transition graph. Terminal states (completed, failed) cannot be left.
func (s *SyncState) TransitionTo(status string) error {
	for _, allowed := range validTransitions[s.Status] {
		if allowed == status {
			s.Status = status
			now := time.Now().UTC()
			s.LastUpdatedAt = now
			if status == StatusCompleted || status == StatusFailed {
				s.CompletedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", s.Status, status)
}

// SetStep updates the current stage name and touch time.
func (s *SyncState) SetStep(step string) {
	s.CurrentStep = step
	s.LastUpdatedAt = time.Now().UTC()
}

// SetTotal initializes the progress total once location discovery is done.
func (s *SyncState) SetTotal(total int) {
	s.Progress.Total = total
	s.recalc()
}

// MarkCompleted increments the completed counter, capped at total.
func (s *SyncState) MarkCompleted(n int) {
	s.Progress.Completed += n
	if s.Progress.Total > 0 && s.Progress.Completed > s.Progress.Total {
		s.Progress.Completed = s.Progress.Total
	}
	s.recalc()
}

func (s *SyncState) recalc() {
	if s.Progress.Total > 0 {
		s.Progress.Percent = float64(s.Progress.Completed) / float64(s.Progress.Total) * 100
	}
	s.LastUpdatedAt = time.Now().UTC()
}

// AddCheckpoint appends an immutable completion fact.
func (s *SyncState) AddCheckpoint(cp Checkpoint) {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	s.LastUpdatedAt = time.Now().UTC()
}

// AddError appends a non-fatal failure record.
func (s *SyncState) AddError(e SyncError) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.Errors = append(s.Errors, e)
	s.LastUpdatedAt = time.Now().UTC()
}

// CompletedLocations returns the set of location ids covered by a completed
// location-level checkpoint. This is the durable source of truth for resume.
func (s *SyncState) CompletedLocations() map[string]bool {
	done := make(map[string]bool)
	for _, cp := range s.Checkpoints {
		if cp.Step == StepLocation && cp.Status == CheckpointCompleted && cp.LocationID != "" {
			done[cp.LocationID] = true
		}
	}
	return done
}

// Terminal reports whether the run can no longer change status.
func (s *SyncState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}
