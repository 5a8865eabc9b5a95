package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/johndauphine/bizsync/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "bizsync.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func resolveTestStore(t *testing.T, s *SQLite, locationID string) model.Store {
	t.Helper()
	st, err := s.ResolveStore(context.Background(), model.Store{
		LocationID: locationID,
		AccountID:  "acct-1",
		Name:       "Main St",
	})
	if err != nil {
		t.Fatalf("resolving store: %v", err)
	}
	return st
}

func TestResolveStoreCreatesOnFirstSight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveStore(ctx, model.Store{
		LocationID: "loc-1", AccountID: "acct-1", Name: "Main St", Category: "cafe",
	})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.ID == "" {
		t.Fatal("new store should get an id")
	}
	if first.Status != "active" {
		t.Errorf("status = %q, want active", first.Status)
	}

	// Same location again: same store, refreshed fields, no duplicate.
	second, err := s.ResolveStore(ctx, model.Store{
		LocationID: "loc-1", AccountID: "acct-1", Name: "Main Street Cafe", Category: "cafe",
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("store id changed on re-resolve: %s != %s", second.ID, first.ID)
	}
	if second.Name != "Main Street Cafe" {
		t.Errorf("name not refreshed: %q", second.Name)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Stores != 1 {
		t.Errorf("stores = %d, want 1", counts.Stores)
	}
}

func TestUpsertReviewsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := resolveTestStore(t, s, "loc-1")

	rec := model.Review{
		ExternalID: "rev-1",
		LocationID: "loc-1",
		StoreID:    st.ID,
		Reviewer:   "Jo",
		Rating:     4,
		Comment:    "good",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
		Source:     model.SourceProvider,
		Status:     model.StatusActive,
	}

	res, err := s.UpsertReviews(ctx, []model.Review{rec})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if res.Upserted != 1 || len(res.Failed) != 0 {
		t.Fatalf("first upsert result = %+v", res)
	}

	// Same external id with newer values updates in place.
	rec.Rating = 5
	rec.Reply = "thanks!"
	res, err = s.UpsertReviews(ctx, []model.Review{rec})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res.Upserted != 1 {
		t.Fatalf("second upsert result = %+v", res)
	}

	counts, _ := s.Counts(ctx)
	if counts.Reviews != 1 {
		t.Errorf("reviews = %d, want 1 after double upsert", counts.Reviews)
	}

	var rating int
	var reply string
	err = s.db.QueryRow(`SELECT rating, reply FROM reviews WHERE external_id = 'rev-1'`).
		Scan(&rating, &reply)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if rating != 5 || reply != "thanks!" {
		t.Errorf("row = rating %d reply %q, want latest values", rating, reply)
	}
}

func TestUpsertBatchReportsPerItemFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := resolveTestStore(t, s, "loc-1")

	recs := []model.SearchKeyword{
		{ExternalID: "loc-1:coffee:2026-07", LocationID: "loc-1", StoreID: st.ID,
			Keyword: "coffee", Month: "2026-07", Impressions: 10, Source: model.SourceProvider, Status: model.StatusActive},
		// Missing store reference violates the foreign key.
		{ExternalID: "loc-1:tea:2026-07", LocationID: "loc-1", StoreID: "",
			Keyword: "tea", Month: "2026-07", Impressions: 5, Source: model.SourceProvider, Status: model.StatusActive},
		{ExternalID: "loc-1:espresso:2026-07", LocationID: "loc-1", StoreID: st.ID,
			Keyword: "espresso", Month: "2026-07", Impressions: 3, Source: model.SourceProvider, Status: model.StatusActive},
	}

	res, err := s.UpsertSearchKeywords(ctx, recs)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// SQLite enforces the reference only with foreign_keys on; either way
	// the healthy rows must land.
	if res.Upserted < 2 {
		t.Errorf("upserted = %d, want at least the 2 healthy rows", res.Upserted)
	}
	for _, f := range res.Failed {
		if f.ExternalID != "loc-1:tea:2026-07" {
			t.Errorf("unexpected failed item %+v", f)
		}
	}
}

func TestInsightOverlappingPeriodsDistinct(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	st := resolveTestStore(t, s, "loc-1")

	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	var recs []model.Insight
	for _, days := range []int{7, 30, 90, 365} {
		start := end.AddDate(0, 0, -days)
		recs = append(recs, model.Insight{
			ExternalID:  "loc-1:" + start.Format("2006-01-02") + ":" + end.Format("2006-01-02"),
			LocationID:  "loc-1",
			StoreID:     st.ID,
			PeriodStart: start,
			PeriodEnd:   end,
			SearchViews: int64(days),
			Source:      model.SourceProvider,
			Status:      model.StatusActive,
		})
	}

	res, err := s.UpsertInsights(ctx, recs)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Upserted != 4 {
		t.Fatalf("upserted = %d, want 4 distinct periods", res.Upserted)
	}

	counts, _ := s.Counts(ctx)
	if counts.Insights != 4 {
		t.Errorf("insights = %d, want 4 overlapping periods stored distinctly", counts.Insights)
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := model.NewSyncState("run-1", "owner-1")
	state.ExternalAccountID = "acct-1"
	if err := state.TransitionTo(model.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	state.SetStep(model.StepFetch)
	state.SetTotal(4)
	state.MarkCompleted(2)
	state.AddCheckpoint(model.Checkpoint{
		Step: model.StepLocation, LocationID: "loc-1",
		RecordCount: 12, Status: model.CheckpointCompleted,
	})
	state.AddError(model.SyncError{
		Step: model.StepFetch, LocationID: "loc-2", Message: "rate limited", Retryable: true,
	})

	if err := s.SaveSyncState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetSyncState(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("state not found")
	}
	if got.Status != model.StatusInProgress || got.CurrentStep != model.StepFetch {
		t.Errorf("status/step = %s/%s", got.Status, got.CurrentStep)
	}
	if got.Progress.Completed != 2 || got.Progress.Total != 4 || got.Progress.Percent != 50 {
		t.Errorf("progress = %+v", got.Progress)
	}
	if len(got.Checkpoints) != 1 || !got.CompletedLocations()["loc-1"] {
		t.Errorf("checkpoints = %+v", got.Checkpoints)
	}
	if len(got.Errors) != 1 || got.Errors[0].Message != "rate limited" {
		t.Errorf("errors = %+v", got.Errors)
	}

	// Save again after mutation: update, not duplicate.
	state.MarkCompleted(2)
	if err := state.TransitionTo(model.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSyncState(ctx, state); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = s.GetSyncState(ctx, "run-1")
	if got.Status != model.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("terminal state not persisted: %+v", got)
	}

	states, err := s.ListSyncStates(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("runs = %d, want 1", len(states))
	}
}

func TestGetSyncStateMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetSyncState(context.Background(), "nope")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil for missing run", got)
	}
}

func TestLastIncompleteSyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := model.NewSyncState("run-done", "owner-1")
	done.TransitionTo(model.StatusInProgress)
	done.TransitionTo(model.StatusCompleted)
	if err := s.SaveSyncState(ctx, done); err != nil {
		t.Fatal(err)
	}

	got, err := s.LastIncompleteSyncState(ctx)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != nil {
		t.Fatalf("completed run should not be resumable, got %s", got.ID)
	}

	paused := model.NewSyncState("run-paused", "owner-1")
	paused.StartedAt = time.Now().UTC().Add(time.Minute)
	paused.TransitionTo(model.StatusInProgress)
	paused.TransitionTo(model.StatusPaused)
	if err := s.SaveSyncState(ctx, paused); err != nil {
		t.Fatal(err)
	}

	got, err = s.LastIncompleteSyncState(ctx)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got == nil || got.ID != "run-paused" {
		t.Errorf("got = %+v, want run-paused", got)
	}
}

func TestDeleteSyncStatesBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := model.NewSyncState("run-old", "owner-1")
	old.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
	old.TransitionTo(model.StatusInProgress)
	old.TransitionTo(model.StatusFailed)
	s.SaveSyncState(ctx, old)

	oldActive := model.NewSyncState("run-old-active", "owner-1")
	oldActive.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
	oldActive.TransitionTo(model.StatusInProgress)
	oldActive.TransitionTo(model.StatusPaused)
	s.SaveSyncState(ctx, oldActive)

	recent := model.NewSyncState("run-recent", "owner-1")
	recent.TransitionTo(model.StatusInProgress)
	recent.TransitionTo(model.StatusCompleted)
	s.SaveSyncState(ctx, recent)

	deleted, err := s.DeleteSyncStatesBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want only the old terminal run", deleted)
	}
	if got, _ := s.GetSyncState(ctx, "run-old-active"); got == nil {
		t.Error("non-terminal run must survive cleanup")
	}
	if got, _ := s.GetSyncState(ctx, "run-recent"); got == nil {
		t.Error("recent run must survive cleanup")
	}
}
