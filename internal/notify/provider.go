package notify

import "time"

// Provider defines the notification contract for sync events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// SyncStarted sends notification when a sync run starts.
	SyncStarted(runID, accountID string, locationCount int) error

	// SyncCompleted sends notification when a run completes cleanly.
	SyncCompleted(runID string, startTime time.Time, duration time.Duration, locationCount, recordCount int) error

	// SyncCompletedWithErrors sends notification when a run finishes but some
	// locations or records failed.
	SyncCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, processed, failed, recordCount int, failures []string) error

	// SyncFailed sends notification when a run cannot proceed at all.
	SyncFailed(runID string, err error, duration time.Duration) error

	// LocationSyncFailed sends notification for an individual location failure.
	LocationSyncFailed(runID, locationID string, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
