// Package store persists synced records and run state. Two backends
// implement the same interface: SQLite for the default single-binary setup
// and PostgreSQL for shared deployments.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/bizsync/internal/config"
	"github.com/johndauphine/bizsync/internal/model"
)

// ItemError records one record that failed to persist within a batch.
type ItemError struct {
	ExternalID string
	Err        string
}

// BatchResult is the per-item outcome of one bulk upsert. A failed item
// never fails the batch; it is reported here and the rest are written.
type BatchResult struct {
	Upserted int
	Failed   []ItemError
}

// Counts summarizes stored record volumes.
type Counts struct {
	Stores         int64
	Reviews        int64
	Posts          int64
	Insights       int64
	SearchKeywords int64
}

// Store is the document store for synced records and run state. All upserts
// are idempotent, keyed by the provider external id: re-running a sync
// updates rows in place instead of duplicating them.
type Store interface {
	// ResolveStore returns the local store owning a provider location,
	// creating it on first sight. Existing stores get their descriptive
	// fields refreshed from the provider payload.
	ResolveStore(ctx context.Context, loc model.Store) (model.Store, error)

	UpsertReviews(ctx context.Context, recs []model.Review) (BatchResult, error)
	UpsertPosts(ctx context.Context, recs []model.Post) (BatchResult, error)
	UpsertInsights(ctx context.Context, recs []model.Insight) (BatchResult, error)
	UpsertSearchKeywords(ctx context.Context, recs []model.SearchKeyword) (BatchResult, error)

	// SaveSyncState persists the full run state. Called after every
	// mutation so a crash leaves the last-written state durable.
	SaveSyncState(ctx context.Context, state *model.SyncState) error
	GetSyncState(ctx context.Context, id string) (*model.SyncState, error)
	LastIncompleteSyncState(ctx context.Context) (*model.SyncState, error)
	ListSyncStates(ctx context.Context, limit int) ([]*model.SyncState, error)
	DeleteSyncStatesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
