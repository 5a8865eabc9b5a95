package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndauphine/bizsync/internal/config"
	"github.com/johndauphine/bizsync/internal/model"
)

// Postgres is the shared-deployment store backend.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	connString := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id UUID PRIMARY KEY,
		location_id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		name TEXT,
		address TEXT,
		category TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id UUID NOT NULL REFERENCES stores(id),
		reviewer TEXT,
		rating INT NOT NULL,
		comment TEXT,
		reply TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		helpful_count INT DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS posts (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id UUID NOT NULL REFERENCES stores(id),
		summary TEXT,
		topic TEXT,
		media_url TEXT,
		state TEXT,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		view_count INT DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS insights (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id UUID NOT NULL REFERENCES stores(id),
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		search_views BIGINT DEFAULT 0,
		maps_views BIGINT DEFAULT 0,
		website_clicks BIGINT DEFAULT 0,
		phone_calls BIGINT DEFAULT 0,
		direction_lookups BIGINT DEFAULT 0,
		source TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_keywords (
		external_id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		store_id UUID NOT NULL REFERENCES stores(id),
		keyword TEXT NOT NULL,
		month TEXT NOT NULL,
		impressions BIGINT DEFAULT 0,
		source TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		external_account_id TEXT,
		status TEXT NOT NULL,
		current_step TEXT,
		progress JSONB NOT NULL DEFAULT '{}',
		checkpoints JSONB NOT NULL DEFAULT '[]',
		errors JSONB NOT NULL DEFAULT '[]',
		started_at TIMESTAMPTZ NOT NULL,
		last_updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_store ON reviews(store_id);
	CREATE INDEX IF NOT EXISTS idx_posts_store ON posts(store_id);
	CREATE INDEX IF NOT EXISTS idx_insights_store ON insights(store_id);
	CREATE INDEX IF NOT EXISTS idx_keywords_store ON search_keywords(store_id);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status, started_at);
	`
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) ResolveStore(ctx context.Context, loc model.Store) (model.Store, error) {
	now := time.Now().UTC()
	var out model.Store
	err := p.pool.QueryRow(ctx, `
		INSERT INTO stores (id, location_id, account_id, name, address, category, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $7)
		ON CONFLICT (location_id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			address = excluded.address,
			category = excluded.category,
			updated_at = excluded.updated_at
		RETURNING id, location_id, account_id, name, address, category, status, created_at, updated_at
	`, uuid.NewString(), loc.LocationID, loc.AccountID, loc.Name, loc.Address, loc.Category, now).
		Scan(&out.ID, &out.LocationID, &out.AccountID, &out.Name, &out.Address,
			&out.Category, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return model.Store{}, fmt.Errorf("resolving store for location %s: %w", loc.LocationID, err)
	}
	return out, nil
}

// sendBatch queues one upsert per record and reads each result so a failed
// item is reported without failing the batch.
func (p *Postgres) sendBatch(ctx context.Context, batch *pgx.Batch, ids []string) (BatchResult, error) {
	var result BatchResult
	if batch.Len() == 0 {
		return result, nil
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, id := range ids {
		if _, err := br.Exec(); err != nil {
			result.Failed = append(result.Failed, ItemError{ExternalID: id, Err: err.Error()})
			continue
		}
		result.Upserted++
	}
	return result, nil
}

func (p *Postgres) UpsertReviews(ctx context.Context, recs []model.Review) (BatchResult, error) {
	batch := &pgx.Batch{}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ExternalID)
		batch.Queue(`
			INSERT INTO reviews (external_id, location_id, store_id, reviewer, rating, comment, reply,
				created_at, updated_at, source, status, helpful_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (external_id) DO UPDATE SET
				reviewer = excluded.reviewer,
				rating = excluded.rating,
				comment = excluded.comment,
				reply = excluded.reply,
				updated_at = excluded.updated_at,
				status = excluded.status
		`, r.ExternalID, r.LocationID, r.StoreID, r.Reviewer, r.Rating, r.Comment, r.Reply,
			r.CreatedAt, r.UpdatedAt, r.Source, r.Status, r.HelpfulCount)
	}
	return p.sendBatch(ctx, batch, ids)
}

func (p *Postgres) UpsertPosts(ctx context.Context, recs []model.Post) (BatchResult, error) {
	batch := &pgx.Batch{}
	ids := make([]string, 0, len(recs))
	for _, post := range recs {
		ids = append(ids, post.ExternalID)
		batch.Queue(`
			INSERT INTO posts (external_id, location_id, store_id, summary, topic, media_url, state,
				created_at, updated_at, source, status, view_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (external_id) DO UPDATE SET
				summary = excluded.summary,
				topic = excluded.topic,
				media_url = excluded.media_url,
				state = excluded.state,
				updated_at = excluded.updated_at,
				status = excluded.status
		`, post.ExternalID, post.LocationID, post.StoreID, post.Summary, post.Topic, post.MediaURL,
			post.State, post.CreatedAt, post.UpdatedAt, post.Source, post.Status, post.ViewCount)
	}
	return p.sendBatch(ctx, batch, ids)
}

func (p *Postgres) UpsertInsights(ctx context.Context, recs []model.Insight) (BatchResult, error) {
	batch := &pgx.Batch{}
	ids := make([]string, 0, len(recs))
	for _, in := range recs {
		ids = append(ids, in.ExternalID)
		batch.Queue(`
			INSERT INTO insights (external_id, location_id, store_id, period_start, period_end,
				search_views, maps_views, website_clicks, phone_calls, direction_lookups, source, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (external_id) DO UPDATE SET
				search_views = excluded.search_views,
				maps_views = excluded.maps_views,
				website_clicks = excluded.website_clicks,
				phone_calls = excluded.phone_calls,
				direction_lookups = excluded.direction_lookups,
				status = excluded.status
		`, in.ExternalID, in.LocationID, in.StoreID, in.PeriodStart, in.PeriodEnd,
			in.SearchViews, in.MapsViews, in.WebsiteClicks, in.PhoneCalls, in.DirectionLookups,
			in.Source, in.Status)
	}
	return p.sendBatch(ctx, batch, ids)
}

func (p *Postgres) UpsertSearchKeywords(ctx context.Context, recs []model.SearchKeyword) (BatchResult, error) {
	batch := &pgx.Batch{}
	ids := make([]string, 0, len(recs))
	for _, k := range recs {
		ids = append(ids, k.ExternalID)
		batch.Queue(`
			INSERT INTO search_keywords (external_id, location_id, store_id, keyword, month, impressions, source, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (external_id) DO UPDATE SET
				impressions = excluded.impressions,
				status = excluded.status
		`, k.ExternalID, k.LocationID, k.StoreID, k.Keyword, k.Month, k.Impressions, k.Source, k.Status)
	}
	return p.sendBatch(ctx, batch, ids)
}

func (p *Postgres) SaveSyncState(ctx context.Context, state *model.SyncState) error {
	progress, _ := json.Marshal(state.Progress)
	checkpoints, _ := json.Marshal(state.Checkpoints)
	syncErrors, _ := json.Marshal(state.Errors)

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, owner_id, external_account_id, status, current_step,
			progress, checkpoints, errors, started_at, last_updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			external_account_id = excluded.external_account_id,
			status = excluded.status,
			current_step = excluded.current_step,
			progress = excluded.progress,
			checkpoints = excluded.checkpoints,
			errors = excluded.errors,
			last_updated_at = excluded.last_updated_at,
			completed_at = excluded.completed_at
	`, state.ID, state.OwnerID, state.ExternalAccountID, state.Status, state.CurrentStep,
		progress, checkpoints, syncErrors, state.StartedAt, state.LastUpdatedAt, state.CompletedAt)
	if err != nil {
		return fmt.Errorf("saving sync state %s: %w", state.ID, err)
	}
	return nil
}

func (p *Postgres) scanSyncState(row pgx.Row) (*model.SyncState, error) {
	var state model.SyncState
	var progress, checkpoints, syncErrors []byte

	err := row.Scan(&state.ID, &state.OwnerID, &state.ExternalAccountID, &state.Status,
		&state.CurrentStep, &progress, &checkpoints, &syncErrors,
		&state.StartedAt, &state.LastUpdatedAt, &state.CompletedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(progress, &state.Progress)
	json.Unmarshal(checkpoints, &state.Checkpoints)
	json.Unmarshal(syncErrors, &state.Errors)
	return &state, nil
}

func (p *Postgres) GetSyncState(ctx context.Context, id string) (*model.SyncState, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+syncStateColumns+` FROM sync_runs WHERE id = $1`, id)
	state, err := p.scanSyncState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

func (p *Postgres) LastIncompleteSyncState(ctx context.Context) (*model.SyncState, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+syncStateColumns+` FROM sync_runs
		WHERE status IN ($1, $2, $3)
		ORDER BY started_at DESC LIMIT 1
	`, model.StatusPending, model.StatusInProgress, model.StatusPaused)
	state, err := p.scanSyncState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return state, err
}

func (p *Postgres) ListSyncStates(ctx context.Context, limit int) ([]*model.SyncState, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+syncStateColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*model.SyncState
	for rows.Next() {
		state, err := p.scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (p *Postgres) DeleteSyncStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM sync_runs
		WHERE status IN ($1, $2) AND started_at < $3
	`, model.StatusCompleted, model.StatusFailed, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM stores),
			(SELECT COUNT(*) FROM reviews),
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM insights),
			(SELECT COUNT(*) FROM search_keywords)
	`).Scan(&c.Stores, &c.Reviews, &c.Posts, &c.Insights, &c.SearchKeywords)
	return c, err
}
