package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/bizsync/internal/logging"
)

// SyncUpdate represents a JSON progress update for automation.
type SyncUpdate struct {
	Timestamp          string  `json:"timestamp"`
	Step               string  `json:"step"`
	LocationsComplete  int     `json:"locations_complete"`
	LocationsTotal     int     `json:"locations_total"`
	ProgressPct        float64 `json:"progress_pct"`
	CurrentLocation    string  `json:"current_location,omitempty"`
	CurrentDataType    string  `json:"current_data_type,omitempty"`
	ErrorCount         int     `json:"error_count,omitempty"`
}

// Reporter defines the interface for progress reporting.
type Reporter interface {
	// Report emits a progress update (may be throttled)
	Report(update SyncUpdate)
	// ReportImmediate emits a progress update immediately, bypassing throttling
	ReportImmediate(update SyncUpdate)
	// Close cleans up any resources
	Close()
}

// JSONReporter outputs JSON progress updates to a writer (typically stderr).
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
}

// NewJSONReporter creates a new JSON progress reporter.
// interval specifies the minimum time between updates (to avoid flooding).
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		interval: interval,
	}
}

// Report emits a JSON progress update to the writer.
// Updates are throttled based on the configured interval.
func (r *JSONReporter) Report(update SyncUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	now := time.Now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.lastReport = now

	if update.Timestamp == "" {
		update.Timestamp = now.Format(time.RFC3339)
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
}

// ReportImmediate emits a progress update immediately, bypassing throttling.
// Use for important state changes like step transitions.
func (r *JSONReporter) ReportImmediate(update SyncUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if update.Timestamp == "" {
		update.Timestamp = time.Now().Format(time.RFC3339)
	}

	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}

	fmt.Fprintln(r.writer, string(data))
	r.lastReport = time.Now()
}

// Close marks the reporter as closed.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// NullReporter is a no-op reporter for when progress reporting is disabled.
type NullReporter struct{}

// Report does nothing.
func (r *NullReporter) Report(update SyncUpdate) {}

// ReportImmediate does nothing.
func (r *NullReporter) ReportImmediate(update SyncUpdate) {}

// Close does nothing.
func (r *NullReporter) Close() {}
