// Package orchestrator drives a sync run end to end: discover locations,
// fetch each data type with bounded concurrency, pipeline the payloads, and
// persist them idempotently. Progress is checkpointed after every location
// so an interrupted run resumes where it stopped instead of starting over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/bizsync/internal/breaker"
	"github.com/johndauphine/bizsync/internal/config"
	"github.com/johndauphine/bizsync/internal/logging"
	"github.com/johndauphine/bizsync/internal/model"
	"github.com/johndauphine/bizsync/internal/notify"
	"github.com/johndauphine/bizsync/internal/provider"
	"github.com/johndauphine/bizsync/internal/store"
)

// ErrNotResumable reports that no run matched a resume request.
var ErrNotResumable = errors.New("run not found or not resumable")

// Stats aggregates per-run volume counters.
type Stats struct {
	TotalLocations      int   `json:"total_locations"`
	ProcessedLocations  int   `json:"processed_locations"`
	TotalReviews        int   `json:"total_reviews"`
	TotalPosts          int   `json:"total_posts"`
	TotalInsights       int   `json:"total_insights"`
	TotalSearchKeywords int   `json:"total_search_keywords"`
	Errors              int   `json:"errors"`
	Warnings            int   `json:"warnings"`
	DurationMs          int64 `json:"duration_ms"`
}

// SyncResult is the terminal outcome of one run. Success stays true when
// individual locations or records failed; it flips to false only when the
// run itself could not proceed (discovery or initialization failure).
type SyncResult struct {
	Success  bool             `json:"success"`
	State    *model.SyncState `json:"sync_state"`
	Stats    Stats            `json:"stats"`
	Errors   []string         `json:"errors,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ProgressEvent is emitted as the run advances.
type ProgressEvent struct {
	Step       string
	Completed  int
	Total      int
	Message    string
	DataType   model.DataType
	LocationID string
}

// Orchestrator owns the sync loop for one configured provider account.
type Orchestrator struct {
	cfg      *config.Config
	client   provider.Client
	store    store.Store
	breakers *breaker.Registry
	notifier notify.Provider
	onEvent  func(ProgressEvent)

	pauseRequested atomic.Bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProgress registers a progress event callback.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(o *Orchestrator) { o.onEvent = fn }
}

// WithNotifier registers a notification backend for run lifecycle events.
func WithNotifier(n notify.Provider) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an orchestrator.
func New(cfg *config.Config, client provider.Client, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		client: client,
		store:  st,
		breakers: breaker.NewRegistry(breaker.Settings{
			Threshold: uint32(cfg.Sync.BreakerThreshold),
			Cooldown:  time.Duration(cfg.Sync.BreakerCooldownSecs) * time.Second,
		}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pause requests a graceful stop at the next batch boundary. In-flight
// location work finishes and is checkpointed before the run parks itself.
func (o *Orchestrator) Pause() {
	o.pauseRequested.Store(true)
}

// StartSync runs a fresh sync from discovery.
func (o *Orchestrator) StartSync(ctx context.Context) (*SyncResult, error) {
	state := model.NewSyncState(uuid.NewString(), o.cfg.Provider.OwnerID)
	if err := state.TransitionTo(model.StatusInProgress); err != nil {
		return nil, err
	}
	if err := o.store.SaveSyncState(ctx, state); err != nil {
		return nil, fmt.Errorf("saving initial state: %w", err)
	}
	return o.run(ctx, state)
}

// ResumeSync continues an interrupted run. With an empty id it picks the
// most recent resumable run. Completed work is identified from location
// checkpoints and skipped.
func (o *Orchestrator) ResumeSync(ctx context.Context, runID string) (*SyncResult, error) {
	var state *model.SyncState
	var err error
	if runID == "" {
		state, err = o.store.LastIncompleteSyncState(ctx)
	} else {
		state, err = o.store.GetSyncState(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run state: %w", err)
	}
	if state == nil || state.Terminal() {
		return nil, ErrNotResumable
	}

	// A crashed run is still marked in_progress; only paused and pending
	// runs need the transition back.
	if state.Status != model.StatusInProgress {
		if err := state.TransitionTo(model.StatusInProgress); err != nil {
			return nil, err
		}
	}
	if err := o.store.SaveSyncState(ctx, state); err != nil {
		return nil, fmt.Errorf("saving resumed state: %w", err)
	}

	logging.Info("Resuming run %s (%d/%d locations done)",
		state.ID, state.Progress.Completed, state.Progress.Total)
	return o.run(ctx, state)
}

// run executes the sync loop against a state that is already in_progress.
func (o *Orchestrator) run(ctx context.Context, state *model.SyncState) (*SyncResult, error) {
	started := time.Now()
	result := &SyncResult{State: state}

	fail := func(step string, err error) (*SyncResult, error) {
		state.AddError(model.SyncError{Step: step, Message: err.Error()})
		state.AddCheckpoint(model.Checkpoint{Step: step, Status: model.CheckpointFailed, Error: err.Error()})
		state.TransitionTo(model.StatusFailed)
		o.store.SaveSyncState(ctx, state)
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		result.Stats.Errors = len(result.Errors)
		result.Stats.DurationMs = time.Since(started).Milliseconds()
		return result, err
	}

	state.SetStep(model.StepDiscovery)
	o.emit(ProgressEvent{Step: model.StepDiscovery, Message: "discovering locations"})

	locations, accountID, err := o.discoverLocations(ctx)
	if err != nil {
		return fail(model.StepDiscovery, fmt.Errorf("location discovery: %w", err))
	}
	state.ExternalAccountID = accountID
	state.SetTotal(len(locations))
	state.AddCheckpoint(model.Checkpoint{
		Step:        model.StepDiscovery,
		RecordCount: len(locations),
		Status:      model.CheckpointCompleted,
	})
	if err := o.store.SaveSyncState(ctx, state); err != nil {
		return fail(model.StepDiscovery, fmt.Errorf("saving discovery checkpoint: %w", err))
	}

	result.Stats.TotalLocations = len(locations)
	logging.Info("Discovered %d locations in account %s", len(locations), accountID)
	if o.notifier != nil {
		if nerr := o.notifier.SyncStarted(state.ID, accountID, len(locations)); nerr != nil {
			logging.Warn("Failed to send start notification: %v", nerr)
		}
	}

	done := state.CompletedLocations()
	var pending []provider.Location
	for _, loc := range locations {
		if !done[loc.LocationID] {
			pending = append(pending, loc)
		}
	}
	if skipped := len(locations) - len(pending); skipped > 0 {
		logging.Info("Skipping %d locations already checkpointed", skipped)
	}

	pipes := newPipelines(o.cfg.Sync.MaxErrors)
	state.SetStep(model.StepFetch)

	persistDelay := time.Duration(o.cfg.Sync.PersistDelayMs) * time.Millisecond
	batchSize := o.cfg.Sync.LocationBatchSize

	for start := 0; start < len(pending); start += batchSize {
		if o.pauseRequested.Load() || ctx.Err() != nil {
			return o.pause(ctx, state, result, started)
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		payloads := o.fetchBatch(ctx, batch)

		for _, loc := range batch {
			if ctx.Err() != nil {
				return o.pause(ctx, state, result, started)
			}
			o.processLocation(ctx, state, result, pipes, loc, payloads[loc.LocationID])
			o.store.SaveSyncState(ctx, state)
			o.emit(ProgressEvent{
				Step:       model.StepLocation,
				Completed:  state.Progress.Completed,
				Total:      state.Progress.Total,
				LocationID: loc.LocationID,
				Message:    fmt.Sprintf("synced %s", loc.Name),
			})
		}

		if persistDelay > 0 && end < len(pending) {
			time.Sleep(persistDelay)
		}
	}

	state.SetStep(model.StepFinalize)
	state.AddCheckpoint(model.Checkpoint{Step: model.StepFinalize, Status: model.CheckpointCompleted})
	if err := state.TransitionTo(model.StatusCompleted); err != nil {
		return fail(model.StepFinalize, err)
	}
	if err := o.store.SaveSyncState(ctx, state); err != nil {
		return fail(model.StepFinalize, fmt.Errorf("saving final state: %w", err))
	}

	result.Success = true
	result.Stats.Errors = len(result.Errors)
	result.Stats.Warnings = len(result.Warnings)
	result.Stats.DurationMs = time.Since(started).Milliseconds()
	o.emit(ProgressEvent{
		Step:      model.StepFinalize,
		Completed: state.Progress.Completed,
		Total:     state.Progress.Total,
		Message:   "sync complete",
	})
	return result, nil
}

// pause parks the run for a later resume. Pausing is not a failure.
func (o *Orchestrator) pause(ctx context.Context, state *model.SyncState, result *SyncResult, started time.Time) (*SyncResult, error) {
	if err := state.TransitionTo(model.StatusPaused); err == nil {
		// Persist with a fresh context: the caller's may already be canceled.
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.store.SaveSyncState(saveCtx, state)
	}
	logging.Info("Run %s paused at %d/%d locations",
		state.ID, state.Progress.Completed, state.Progress.Total)

	result.Success = true
	result.Stats.Errors = len(result.Errors)
	result.Stats.Warnings = len(result.Warnings)
	result.Stats.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

// discoverLocations walks accounts and collects every location to sync.
func (o *Orchestrator) discoverLocations(ctx context.Context) ([]provider.Location, string, error) {
	accounts, err := o.client.ListAccounts(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, "", errors.New("no accounts visible to this token")
	}

	var locations []provider.Location
	var accountID string
	for _, acct := range accounts {
		if !o.accountMatches(acct) {
			logging.Debug("Account %s filtered out", acct.AccountID)
			continue
		}
		if accountID == "" {
			accountID = acct.AccountID
		}
		locs, err := o.client.ListLocations(ctx, acct.AccountID)
		if err != nil {
			return nil, "", fmt.Errorf("listing locations for account %s: %w", acct.AccountID, err)
		}
		locations = append(locations, locs...)
	}
	if accountID == "" {
		return nil, "", errors.New("account filter matched no accounts")
	}
	return locations, accountID, nil
}

func (o *Orchestrator) accountMatches(acct provider.Account) bool {
	if len(o.cfg.Provider.AccountFilter) == 0 {
		return true
	}
	for _, pattern := range o.cfg.Provider.AccountFilter {
		if ok, _ := path.Match(pattern, acct.Name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, acct.AccountID); ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}
