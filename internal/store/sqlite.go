package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/johndauphine/bizsync/internal/model"
)

// SQLite is the default single-binary store backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a SQLite store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		name TEXT,
		address TEXT,
		category TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id TEXT NOT NULL REFERENCES stores(id),
		reviewer TEXT,
		rating INTEGER NOT NULL,
		comment TEXT,
		reply TEXT,
		created_at TEXT,
		updated_at TEXT,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		helpful_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS posts (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id TEXT NOT NULL REFERENCES stores(id),
		summary TEXT,
		topic TEXT,
		media_url TEXT,
		state TEXT,
		created_at TEXT,
		updated_at TEXT,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		view_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS insights (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id TEXT NOT NULL REFERENCES stores(id),
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		search_views INTEGER DEFAULT 0,
		maps_views INTEGER DEFAULT 0,
		website_clicks INTEGER DEFAULT 0,
		phone_calls INTEGER DEFAULT 0,
		direction_lookups INTEGER DEFAULT 0,
		source TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_keywords (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id TEXT NOT NULL REFERENCES stores(id),
		keyword TEXT NOT NULL,
		month TEXT NOT NULL,
		impressions INTEGER DEFAULT 0,
		source TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		external_account_id TEXT,
		status TEXT NOT NULL,
		current_step TEXT,
		progress TEXT NOT NULL DEFAULT '{}',
		checkpoints TEXT NOT NULL DEFAULT '[]',
		errors TEXT NOT NULL DEFAULT '[]',
		started_at TEXT NOT NULL,
		last_updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_store ON reviews(store_id);
	CREATE INDEX IF NOT EXISTS idx_posts_store ON posts(store_id);
	CREATE INDEX IF NOT EXISTS idx_insights_store ON insights(store_id);
	CREATE INDEX IF NOT EXISTS idx_keywords_store ON search_keywords(store_id);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ResolveStore(ctx context.Context, loc model.Store) (model.Store, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, location_id, account_id, name, address, category, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			address = excluded.address,
			category = excluded.category,
			updated_at = excluded.updated_at
	`, id, loc.LocationID, loc.AccountID, loc.Name, loc.Address, loc.Category, now, now)
	if err != nil {
		return model.Store{}, fmt.Errorf("resolving store for location %s: %w", loc.LocationID, err)
	}

	var out model.Store
	var createdAt, updatedAt string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, location_id, account_id, name, address, category, status, created_at, updated_at
		FROM stores WHERE location_id = ?
	`, loc.LocationID).Scan(&out.ID, &out.LocationID, &out.AccountID, &out.Name,
		&out.Address, &out.Category, &out.Status, &createdAt, &updatedAt)
	if err != nil {
		return model.Store{}, fmt.Errorf("reading store for location %s: %w", loc.LocationID, err)
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	out.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return out, nil
}

// upsertBatch runs one prepared upsert per record inside a transaction,
// collecting per-item failures instead of aborting the batch.
func (s *SQLite) upsertBatch(ctx context.Context, query string, n int,
	bind func(i int) (externalID string, args []any)) (BatchResult, error) {

	var result BatchResult
	if n == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return result, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		externalID, args := bind(i)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			result.Failed = append(result.Failed, ItemError{ExternalID: externalID, Err: err.Error()})
			continue
		}
		result.Upserted++
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("committing batch: %w", err)
	}
	return result, nil
}

func (s *SQLite) UpsertReviews(ctx context.Context, recs []model.Review) (BatchResult, error) {
	return s.upsertBatch(ctx, `
		INSERT INTO reviews (external_id, location_id, store_id, reviewer, rating, comment, reply,
			created_at, updated_at, source, status, helpful_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			reviewer = excluded.reviewer,
			rating = excluded.rating,
			comment = excluded.comment,
			reply = excluded.reply,
			updated_at = excluded.updated_at,
			status = excluded.status
	`, len(recs), func(i int) (string, []any) {
		r := recs[i]
		return r.ExternalID, []any{r.ExternalID, r.LocationID, r.StoreID, r.Reviewer, r.Rating,
			r.Comment, r.Reply, r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
			r.Source, r.Status, r.HelpfulCount}
	})
}

func (s *SQLite) UpsertPosts(ctx context.Context, recs []model.Post) (BatchResult, error) {
	return s.upsertBatch(ctx, `
		INSERT INTO posts (external_id, location_id, store_id, summary, topic, media_url, state,
			created_at, updated_at, source, status, view_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			summary = excluded.summary,
			topic = excluded.topic,
			media_url = excluded.media_url,
			state = excluded.state,
			updated_at = excluded.updated_at,
			status = excluded.status
	`, len(recs), func(i int) (string, []any) {
		p := recs[i]
		return p.ExternalID, []any{p.ExternalID, p.LocationID, p.StoreID, p.Summary, p.Topic,
			p.MediaURL, p.State, p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
			p.Source, p.Status, p.ViewCount}
	})
}

func (s *SQLite) UpsertInsights(ctx context.Context, recs []model.Insight) (BatchResult, error) {
	return s.upsertBatch(ctx, `
		INSERT INTO insights (external_id, location_id, store_id, period_start, period_end,
			search_views, maps_views, website_clicks, phone_calls, direction_lookups, source, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			search_views = excluded.search_views,
			maps_views = excluded.maps_views,
			website_clicks = excluded.website_clicks,
			phone_calls = excluded.phone_calls,
			direction_lookups = excluded.direction_lookups,
			status = excluded.status
	`, len(recs), func(i int) (string, []any) {
		in := recs[i]
		return in.ExternalID, []any{in.ExternalID, in.LocationID, in.StoreID,
			in.PeriodStart.Format("2006-01-02"), in.PeriodEnd.Format("2006-01-02"),
			in.SearchViews, in.MapsViews, in.WebsiteClicks, in.PhoneCalls, in.DirectionLookups,
			in.Source, in.Status}
	})
}

func (s *SQLite) UpsertSearchKeywords(ctx context.Context, recs []model.SearchKeyword) (BatchResult, error) {
	return s.upsertBatch(ctx, `
		INSERT INTO search_keywords (external_id, location_id, store_id, keyword, month, impressions, source, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			impressions = excluded.impressions,
			status = excluded.status
	`, len(recs), func(i int) (string, []any) {
		k := recs[i]
		return k.ExternalID, []any{k.ExternalID, k.LocationID, k.StoreID, k.Keyword, k.Month,
			k.Impressions, k.Source, k.Status}
	})
}

func (s *SQLite) SaveSyncState(ctx context.Context, state *model.SyncState) error {
	progress, _ := json.Marshal(state.Progress)
	checkpoints, _ := json.Marshal(state.Checkpoints)
	syncErrors, _ := json.Marshal(state.Errors)

	var completedAt any
	if state.CompletedAt != nil {
		completedAt = state.CompletedAt.Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, owner_id, external_account_id, status, current_step,
			progress, checkpoints, errors, started_at, last_updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_account_id = excluded.external_account_id,
			status = excluded.status,
			current_step = excluded.current_step,
			progress = excluded.progress,
			checkpoints = excluded.checkpoints,
			errors = excluded.errors,
			last_updated_at = excluded.last_updated_at,
			completed_at = excluded.completed_at
	`, state.ID, state.OwnerID, state.ExternalAccountID, state.Status, state.CurrentStep,
		string(progress), string(checkpoints), string(syncErrors),
		state.StartedAt.Format(time.RFC3339), state.LastUpdatedAt.Format(time.RFC3339), completedAt)
	if err != nil {
		return fmt.Errorf("saving sync state %s: %w", state.ID, err)
	}
	return nil
}

func (s *SQLite) scanSyncState(scan func(dest ...any) error) (*model.SyncState, error) {
	var state model.SyncState
	var progress, checkpoints, syncErrors, startedAt, lastUpdatedAt string
	var completedAt sql.NullString

	err := scan(&state.ID, &state.OwnerID, &state.ExternalAccountID, &state.Status,
		&state.CurrentStep, &progress, &checkpoints, &syncErrors,
		&startedAt, &lastUpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(progress), &state.Progress)
	json.Unmarshal([]byte(checkpoints), &state.Checkpoints)
	json.Unmarshal([]byte(syncErrors), &state.Errors)
	state.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	state.LastUpdatedAt, _ = time.Parse(time.RFC3339, lastUpdatedAt)
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		state.CompletedAt = &t
	}
	return &state, nil
}

const syncStateColumns = `id, owner_id, external_account_id, status, current_step,
	progress, checkpoints, errors, started_at, last_updated_at, completed_at`

func (s *SQLite) GetSyncState(ctx context.Context, id string) (*model.SyncState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_runs WHERE id = ?`, id)
	state, err := s.scanSyncState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

// LastIncompleteSyncState returns the most recent resumable run, or nil.
func (s *SQLite) LastIncompleteSyncState(ctx context.Context) (*model.SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+syncStateColumns+` FROM sync_runs
		WHERE status IN (?, ?, ?)
		ORDER BY started_at DESC LIMIT 1
	`, model.StatusPending, model.StatusInProgress, model.StatusPaused)
	state, err := s.scanSyncState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

func (s *SQLite) ListSyncStates(ctx context.Context, limit int) ([]*model.SyncState, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncStateColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*model.SyncState
	for rows.Next() {
		state, err := s.scanSyncState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// DeleteSyncStatesBefore removes terminal runs older than cutoff.
func (s *SQLite) DeleteSyncStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_runs
		WHERE status IN (?, ?) AND started_at < ?
	`, model.StatusCompleted, model.StatusFailed, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM stores),
			(SELECT COUNT(*) FROM reviews),
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM insights),
			(SELECT COUNT(*) FROM search_keywords)
	`).Scan(&c.Stores, &c.Reviews, &c.Posts, &c.Insights, &c.SearchKeywords)
	return c, err
}
