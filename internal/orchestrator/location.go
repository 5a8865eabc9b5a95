package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johndauphine/bizsync/internal/fetch"
	"github.com/johndauphine/bizsync/internal/logging"
	"github.com/johndauphine/bizsync/internal/model"
	"github.com/johndauphine/bizsync/internal/pipeline"
	"github.com/johndauphine/bizsync/internal/provider"
	"github.com/johndauphine/bizsync/internal/store"
)

// payload bundles everything fetched for one location.
type payload struct {
	reviews  fetch.Result[[]provider.Review]
	posts    fetch.Result[[]provider.Post]
	insights fetch.Result[[]*provider.InsightReport]
	keywords fetch.Result[[]provider.SearchKeywordCount]
}

// pipelines holds the per-run record pipelines. Error ceilings are per run
// and per type, so the same instances live for the whole run.
type pipelines struct {
	reviews  *pipeline.Pipeline[provider.Review, model.Review]
	posts    *pipeline.Pipeline[provider.Post, model.Post]
	insights *pipeline.Pipeline[*provider.InsightReport, model.Insight]
	keywords *pipeline.Pipeline[provider.SearchKeywordCount, model.SearchKeyword]
}

func newPipelines(maxErrors int) *pipelines {
	return &pipelines{
		reviews:  pipeline.Reviews(maxErrors),
		posts:    pipeline.Posts(maxErrors),
		insights: pipeline.Insights(maxErrors),
		keywords: pipeline.Keywords(maxErrors),
	}
}

func (o *Orchestrator) fetchOptions(class model.DataType) fetch.Options {
	return fetch.Options{
		MaxConcurrent: o.cfg.Sync.MaxConcurrent,
		BatchSize:     o.cfg.Sync.LocationBatchSize,
		MaxRetries:    o.cfg.Sync.MaxRetries,
		RetryDelay:    time.Duration(o.cfg.Sync.RetryDelayMs) * time.Millisecond,
		Timeout:       time.Duration(o.cfg.Sync.FetchTimeoutSecs) * time.Second,
		Breaker:       o.breakers,
		ServiceClass:  string(class),
		Retryable:     provider.IsRetryable,
	}
}

// fetchBatch pulls every enabled data type for a batch of locations. Each
// type runs through its own circuit breaker class so a rate-limited insights
// endpoint cannot block review fetching.
func (o *Orchestrator) fetchBatch(ctx context.Context, batch []provider.Location) map[string]*payload {
	ids := make([]string, len(batch))
	payloads := make(map[string]*payload, len(batch))
	for i, loc := range batch {
		ids[i] = loc.LocationID
		payloads[loc.LocationID] = &payload{}
	}

	for _, dt := range model.AllDataTypes {
		if !o.cfg.DataTypeEnabled(string(dt)) {
			continue
		}
		switch dt {
		case model.DataReviews:
			for id, res := range fetch.All(ctx, ids, o.client.ListReviews, o.fetchOptions(dt), nil) {
				payloads[id].reviews = res
			}
		case model.DataPosts:
			for id, res := range fetch.All(ctx, ids, o.client.ListPosts, o.fetchOptions(dt), nil) {
				payloads[id].posts = res
			}
		case model.DataInsights:
			for id, res := range fetch.All(ctx, ids, o.fetchInsights, o.fetchOptions(dt), nil) {
				payloads[id].insights = res
			}
		case model.DataSearchKeywords:
			for id, res := range fetch.All(ctx, ids, o.fetchKeywords, o.fetchOptions(dt), nil) {
				payloads[id].keywords = res
			}
		}
	}
	return payloads
}

// fetchInsights pulls one report per configured trailing window. The windows
// overlap; each persists as its own period.
func (o *Orchestrator) fetchInsights(ctx context.Context, locationID string) ([]*provider.InsightReport, error) {
	windows := pipeline.InsightWindows(time.Now(), o.cfg.Sync.InsightWindowsDays)
	reports := make([]*provider.InsightReport, 0, len(windows))
	for _, w := range windows {
		report, err := o.client.GetInsights(ctx, locationID, w[0], w[1])
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (o *Orchestrator) fetchKeywords(ctx context.Context, locationID string) ([]provider.SearchKeywordCount, error) {
	now := time.Now().UTC()
	to := now.Format("2006-01")
	from := now.AddDate(0, -o.cfg.Sync.KeywordMonths, 0).Format("2006-01")
	return o.client.ListSearchKeywords(ctx, locationID, from, to)
}

// processLocation resolves the owning store, pipelines each fetched payload,
// and persists the survivors. The location gets a completed checkpoint only
// when every enabled data type landed; record-level drops and warnings do
// not block the checkpoint.
func (o *Orchestrator) processLocation(ctx context.Context, state *model.SyncState,
	result *SyncResult, pipes *pipelines, loc provider.Location, pl *payload) {

	st, err := o.store.ResolveStore(ctx, model.Store{
		LocationID: loc.LocationID,
		AccountID:  loc.AccountID,
		Name:       loc.Name,
		Address:    loc.Address,
		Category:   loc.Category,
	})
	if err != nil {
		o.recordLocationFailure(state, result, loc.LocationID, "",
			fmt.Errorf("resolving store: %w", err), false)
		return
	}

	target := pipeline.Target{LocationID: loc.LocationID, StoreID: st.ID}
	healthy := true

	if o.cfg.DataTypeEnabled(string(model.DataReviews)) {
		n, ok := syncDataType(ctx, o, state, result, loc.LocationID, model.DataReviews,
			pl.reviews, pipes.reviews, target, o.store.UpsertReviews)
		result.Stats.TotalReviews += n
		healthy = healthy && ok
	}
	if o.cfg.DataTypeEnabled(string(model.DataPosts)) {
		n, ok := syncDataType(ctx, o, state, result, loc.LocationID, model.DataPosts,
			pl.posts, pipes.posts, target, o.store.UpsertPosts)
		result.Stats.TotalPosts += n
		healthy = healthy && ok
	}
	if o.cfg.DataTypeEnabled(string(model.DataInsights)) {
		n, ok := syncDataType(ctx, o, state, result, loc.LocationID, model.DataInsights,
			pl.insights, pipes.insights, target, o.store.UpsertInsights)
		result.Stats.TotalInsights += n
		healthy = healthy && ok
	}
	if o.cfg.DataTypeEnabled(string(model.DataSearchKeywords)) {
		n, ok := syncDataType(ctx, o, state, result, loc.LocationID, model.DataSearchKeywords,
			pl.keywords, pipes.keywords, target, o.store.UpsertSearchKeywords)
		result.Stats.TotalSearchKeywords += n
		healthy = healthy && ok
	}

	if !healthy {
		return
	}
	state.AddCheckpoint(model.Checkpoint{
		Step:       model.StepLocation,
		LocationID: loc.LocationID,
		Status:     model.CheckpointCompleted,
	})
	state.MarkCompleted(1)
	result.Stats.ProcessedLocations++
}

// syncDataType runs one fetched payload through its pipeline and upserts the
// survivors, checkpointing the outcome. It returns the persisted count and
// whether the data type landed cleanly enough to checkpoint the location.
func syncDataType[R, T any](ctx context.Context, o *Orchestrator, state *model.SyncState,
	result *SyncResult, locationID string, dataType model.DataType,
	fetched fetch.Result[[]R], pipe *pipeline.Pipeline[R, T], target pipeline.Target,
	upsert func(context.Context, []T) (store.BatchResult, error)) (int, bool) {

	if fetched.Err != nil {
		if errors.Is(fetched.Err, provider.ErrFeatureUnavailable) {
			// Not every location has every feature enabled; skip quietly.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: %s unavailable for this location", locationID, dataType))
			return 0, true
		}
		o.recordLocationFailure(state, result, locationID, dataType,
			fmt.Errorf("fetching %s: %w", dataType, fetched.Err), provider.IsRetryable(fetched.Err))
		return 0, false
	}

	recs, stats := pipe.ProcessBatch(fetched.Value, target)
	result.Warnings = append(result.Warnings, stats.Warnings...)
	for _, e := range stats.Errors {
		result.Errors = append(result.Errors, e)
		state.AddError(model.SyncError{Step: model.StepFetch, LocationID: locationID, Message: e})
	}

	batch, err := upsert(ctx, recs)
	if err != nil {
		o.recordLocationFailure(state, result, locationID, dataType,
			fmt.Errorf("persisting %s: %w", dataType, err), true)
		return 0, false
	}
	for _, f := range batch.Failed {
		msg := fmt.Sprintf("%s %s: %s", dataType, f.ExternalID, f.Err)
		result.Errors = append(result.Errors, msg)
		state.AddError(model.SyncError{Step: model.StepLocation, LocationID: locationID, Message: msg})
	}

	state.AddCheckpoint(model.Checkpoint{
		Step:        model.StepFetch,
		DataType:    dataType,
		LocationID:  locationID,
		RecordCount: batch.Upserted,
		Status:      model.CheckpointCompleted,
	})
	return batch.Upserted, true
}

// recordLocationFailure notes a failed location or data type without failing
// the run. The location gets no completed checkpoint, so a resume retries it.
func (o *Orchestrator) recordLocationFailure(state *model.SyncState, result *SyncResult,
	locationID string, dataType model.DataType, err error, retryable bool) {

	result.Errors = append(result.Errors, err.Error())
	state.AddError(model.SyncError{
		Step:       model.StepLocation,
		LocationID: locationID,
		Message:    err.Error(),
		Retryable:  retryable,
	})
	state.AddCheckpoint(model.Checkpoint{
		Step:       model.StepLocation,
		DataType:   dataType,
		LocationID: locationID,
		Status:     model.CheckpointFailed,
		Error:      err.Error(),
	})
	if o.notifier != nil {
		if nerr := o.notifier.LocationSyncFailed(state.ID, locationID, err); nerr != nil {
			logging.Warn("Failed to send location failure notification: %v", nerr)
		}
	}
}
