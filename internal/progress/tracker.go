// Package progress renders sync progress for humans (terminal bar) and
// automation (JSON lines on stderr).
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/bizsync/internal/logging"
)

// Tracker renders a terminal progress bar over locations.
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a new progress tracker
func New() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// SetTotal sets the total number of locations to sync
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Syncing"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("locations"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// SetCurrent moves the bar to an absolute position. Used on resume so the
// bar starts from the checkpointed count instead of zero.
func (t *Tracker) SetCurrent(n int64) {
	delta := n - t.current.Load()
	if delta > 0 {
		t.Add(delta)
	}
}

// Add increments the progress counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Describe updates the bar label with the location being synced
func (t *Tracker) Describe(name string) {
	if t.bar != nil && name != "" {
		t.bar.Describe(fmt.Sprintf("Syncing %s", name))
	}
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	fmt.Println()
	logging.Info("Sync complete: %d locations in %s",
		t.current.Load(), elapsed.Round(time.Second))
}
