package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/affbridge/affbridge/internal/models"
	"github.com/affbridge/affbridge/internal/store"
)

// Postgres wraps a postgres DB connection and implements the persistence
// adapter the stores consume.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS links (
    slug TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMPTZ NULL,
    target_url TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at TIMESTAMPTZ NULL,
    total_clicks BIGINT NOT NULL DEFAULT 0,
    valid_clicks BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS click_logs (
    id BIGSERIAL PRIMARY KEY,
    slug TEXT NOT NULL REFERENCES links(slug),
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    referer TEXT NOT NULL DEFAULT '',
    device TEXT NOT NULL DEFAULT '',
    valid BOOLEAN NOT NULL,
    invalid_reason TEXT NOT NULL DEFAULT '',
    at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS banners (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    image_url TEXT NOT NULL,
    mobile_image_url TEXT NOT NULL DEFAULT '',
    alt_text TEXT NOT NULL DEFAULT '',
    target_slug TEXT NOT NULL DEFAULT '',
    target_url TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    start_at TIMESTAMPTZ NULL,
    end_at TIMESTAMPTZ NULL,
    device_constraint TEXT NOT NULL DEFAULT 'any',
    target_articles TEXT[] NOT NULL DEFAULT '{}',
    target_categories TEXT[] NOT NULL DEFAULT '{}',
    weight INT NOT NULL DEFAULT 50,
    priority INT NOT NULL DEFAULT 100,
    display_width_percent INT NOT NULL DEFAULT 100,
    show_delay_seconds INT NOT NULL DEFAULT 0,
    auto_hide_after_ms INT NOT NULL DEFAULT 0,
    dismissible BOOLEAN NOT NULL DEFAULT TRUE,
    impressions BIGINT NOT NULL DEFAULT 0,
    clicks BIGINT NOT NULL DEFAULT 0,
    unique_clicks BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS banner_clicked_ips (
    seq BIGSERIAL,
    banner_id INT NOT NULL REFERENCES banners(id),
    ip TEXT NOT NULL,
    PRIMARY KEY (banner_id, ip)
);

-- Performance indexes for the serving path
CREATE INDEX IF NOT EXISTS idx_click_logs_slug ON click_logs (slug);
CREATE INDEX IF NOT EXISTS idx_banners_kind_active ON banners (kind, active) WHERE active = true;
CREATE INDEX IF NOT EXISTS idx_banner_clicked_ips_seq ON banner_clicked_ips (banner_id, seq);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	p := &Postgres{DB: sqlDB}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// Connected reports whether the database answers a ping. Used by the health
// endpoint.
func (p *Postgres) Connected(ctx context.Context) bool {
	return p != nil && p.DB != nil && p.DB.PingContext(ctx) == nil
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const linkColumns = `slug, title, description, image_url, author, published_at, target_url, active, expires_at, total_clicks, valid_clicks`

// FindLinkBySlug retrieves a link record. A missing slug returns (nil, nil);
// transport errors propagate.
func (p *Postgres) FindLinkBySlug(ctx context.Context, slug string) (*models.Link, error) {
	row := p.DB.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE slug = $1`, slug)

	var l models.Link
	var published, expires sql.NullTime
	err := row.Scan(&l.Slug, &l.Title, &l.Description, &l.ImageURL, &l.Author,
		&published, &l.TargetURL, &l.Active, &expires, &l.TotalClicks, &l.ValidClicks)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query link %q: %w", slug, err)
	}
	if published.Valid {
		t := published.Time
		l.PublishedAt = &t
	}
	if expires.Valid {
		t := expires.Time
		l.ExpiresAt = &t
	}
	return &l, nil
}

// UpdateLinkOnClick appends a click-log row and bumps the link counters in a
// single transaction, so the counters and the log can never diverge for one
// record.
func (p *Postgres) UpdateLinkOnClick(ctx context.Context, slug string, rec models.ClickRecord) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin click tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE links
		    SET total_clicks = total_clicks + 1,
		        valid_clicks = valid_clicks + CASE WHEN $2 THEN 1 ELSE 0 END
		  WHERE slug = $1`, slug, rec.Valid)
	if err != nil {
		return fmt.Errorf("update link counters: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO click_logs (slug, ip, user_agent, referer, device, valid, invalid_reason, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		slug, rec.IP, rec.UserAgent, rec.Referer, rec.Device, rec.Valid, rec.InvalidReason, rec.At); err != nil {
		return fmt.Errorf("insert click log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit click tx: %w", err)
	}
	return nil
}

const bannerColumns = `id, name, image_url, mobile_image_url, alt_text, target_slug, target_url, kind, active, start_at, end_at, device_constraint, target_articles, target_categories, weight, priority, display_width_percent, show_delay_seconds, auto_hide_after_ms, dismissible, impressions, clicks, unique_clicks`

// ListActiveBanners returns banners of the given kind whose active flag and
// display window admit the given time. Targeting filters run in the banner
// store, not here.
func (p *Postgres) ListActiveBanners(ctx context.Context, kind string, now time.Time) ([]models.Banner, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT `+bannerColumns+`
		   FROM banners
		  WHERE kind = $1 AND active
		    AND (start_at IS NULL OR start_at <= $2)
		    AND (end_at IS NULL OR end_at >= $2)`, kind, now)
	if err != nil {
		return nil, fmt.Errorf("query banners: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var banners []models.Banner
	for rows.Next() {
		b, err := scanBanner(rows)
		if err != nil {
			return nil, err
		}
		banners = append(banners, b)
	}
	return banners, rows.Err()
}

func scanBanner(rows *sql.Rows) (models.Banner, error) {
	var b models.Banner
	var start, end sql.NullTime
	var articles, categories pq.StringArray
	err := rows.Scan(&b.ID, &b.Name, &b.ImageURL, &b.MobileImageURL, &b.AltText,
		&b.TargetSlug, &b.TargetURL, &b.Kind, &b.Active, &start, &end,
		&b.DeviceConstraint, &articles, &categories, &b.Weight, &b.Priority,
		&b.DisplayWidthPercent, &b.ShowDelaySeconds, &b.AutoHideAfterMs, &b.Dismissible,
		&b.Impressions, &b.Clicks, &b.UniqueClicks)
	if err != nil {
		return b, fmt.Errorf("scan banner: %w", err)
	}
	if start.Valid {
		t := start.Time
		b.StartAt = &t
	}
	if end.Valid {
		t := end.Time
		b.EndAt = &t
	}
	b.TargetArticles = articles
	b.TargetCategories = categories
	return b, nil
}

// UpdateBannerImpression increments the impression counter. The single UPDATE
// is atomic at the row level; concurrent callers never lose increments.
func (p *Postgres) UpdateBannerImpression(ctx context.Context, id int) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE banners SET impressions = impressions + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update banner impression: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateBannerClick increments the click counter and, when the IP has not
// been seen for this banner, the unique counter. The dedup set is capped:
// past models.ClickedIPCap rows the oldest half is dropped, while
// unique_clicks keeps its cumulative value.
func (p *Postgres) UpdateBannerClick(ctx context.Context, id int, ip string) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin banner click tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The counter bump runs first so an unknown id surfaces as ErrNotFound
	// before the dedup insert can trip the foreign key.
	res, err := tx.ExecContext(ctx,
		`UPDATE banners SET clicks = clicks + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update banner clicks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO banner_clicked_ips (banner_id, ip) VALUES ($1, $2)
		 ON CONFLICT (banner_id, ip) DO NOTHING`, id, ip)
	if err != nil {
		return fmt.Errorf("insert clicked ip: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clicked ip rows: %w", err)
	}

	if inserted > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE banners SET unique_clicks = unique_clicks + 1 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("update banner unique clicks: %w", err)
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM banner_clicked_ips WHERE banner_id = $1`, id).Scan(&count); err != nil {
			return fmt.Errorf("count clicked ips: %w", err)
		}
		if count > models.ClickedIPCap {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM banner_clicked_ips
				  WHERE banner_id = $1 AND seq IN (
				        SELECT seq FROM banner_clicked_ips
				         WHERE banner_id = $1 ORDER BY seq ASC LIMIT $2)`,
				id, count/2); err != nil {
				return fmt.Errorf("trim clicked ips: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit banner click tx: %w", err)
	}
	return nil
}
