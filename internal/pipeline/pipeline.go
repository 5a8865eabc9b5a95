// Package pipeline converts raw provider payloads into persistence-ready
// records through a four-stage sanitize -> transform -> validate -> enrich
// pass. Records are processed independently: one record's failure never
// aborts its batch. Each pipeline carries a run-level error ceiling; once
// reached, further records of that type are dropped before processing.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/johndauphine/bizsync/internal/logging"
)

// Target is the owning-location reference attached during transform.
type Target struct {
	LocationID string
	StoreID    string
}

// Result is the outcome of processing one record.
type Result[T any] struct {
	Success  bool
	Data     T
	Errors   []string
	Warnings []string
}

// Config parameterizes a pipeline for one record type.
type Config[R, T any] struct {
	// Name identifies the record type in logs ("reviews", "posts", ...).
	Name string

	// Sanitize coerces raw fields into expected shapes. Unparseable values
	// fall back to safe defaults and produce warnings, never errors.
	Sanitize func(raw R) (R, []string)

	// Transform attaches the owning-location reference and derives the
	// persistence-ready record.
	Transform func(raw R, target Target) (T, error)

	// Validate checks required fields and value ranges; a non-empty return
	// drops the record from persistence. Nil disables validation.
	Validate func(rec T) []string

	// Enrich attaches default operational fields the provider payload does
	// not supply.
	Enrich func(rec *T)

	// MaxErrors is the run-level error ceiling for this record type.
	MaxErrors int
}

// BatchStats summarizes one ProcessBatch call.
type BatchStats struct {
	Processed      int
	Dropped        int
	Skipped        int // dropped before processing because the ceiling was reached
	Errors         []string
	Warnings       []string
	CeilingReached bool
}

// Pipeline processes raw records of one type for the duration of a run.
type Pipeline[R, T any] struct {
	cfg Config[R, T]

	mu         sync.Mutex
	errorCount int
	ceilingLog bool
}

// New creates a pipeline from a config.
func New[R, T any](cfg Config[R, T]) *Pipeline[R, T] {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 50
	}
	return &Pipeline[R, T]{cfg: cfg}
}

// Process runs one record through all four stages.
func (p *Pipeline[R, T]) Process(raw R, target Target) Result[T] {
	var result Result[T]

	sanitized := raw
	if p.cfg.Sanitize != nil {
		var warnings []string
		sanitized, warnings = p.cfg.Sanitize(raw)
		result.Warnings = append(result.Warnings, warnings...)
	}

	rec, err := p.cfg.Transform(sanitized, target)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s transform: %v", p.cfg.Name, err))
		return result
	}

	if p.cfg.Validate != nil {
		if errs := p.cfg.Validate(rec); len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
			return result
		}
	}

	if p.cfg.Enrich != nil {
		p.cfg.Enrich(&rec)
	}

	result.Success = true
	result.Data = rec
	return result
}

// ProcessBatch processes a batch of raw records independently and returns
// the records that survived all stages. Once the run-level error ceiling is
// reached, remaining records are skipped without processing.
func (p *Pipeline[R, T]) ProcessBatch(raws []R, target Target) ([]T, BatchStats) {
	var out []T
	var stats BatchStats

	for i, raw := range raws {
		if p.CeilingReached() {
			stats.Skipped += len(raws) - i
			stats.CeilingReached = true
			p.logCeilingOnce()
			break
		}

		res := p.Process(raw, target)
		stats.Warnings = append(stats.Warnings, res.Warnings...)
		if !res.Success {
			stats.Dropped++
			stats.Errors = append(stats.Errors, res.Errors...)
			p.recordErrors(len(res.Errors))
			continue
		}
		out = append(out, res.Data)
		stats.Processed++
	}

	if p.CeilingReached() {
		stats.CeilingReached = true
	}
	return out, stats
}

// ErrorCount returns the accumulated error count for the run.
func (p *Pipeline[R, T]) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCount
}

// CeilingReached reports whether the run-level error ceiling is hit.
func (p *Pipeline[R, T]) CeilingReached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCount >= p.cfg.MaxErrors
}

func (p *Pipeline[R, T]) recordErrors(n int) {
	if n == 0 {
		n = 1
	}
	p.mu.Lock()
	p.errorCount += n
	p.mu.Unlock()
}

func (p *Pipeline[R, T]) logCeilingOnce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ceilingLog {
		p.ceilingLog = true
		logging.Warn("%s: error ceiling reached (%d), dropping further records for this run",
			p.cfg.Name, p.cfg.MaxErrors)
	}
}
