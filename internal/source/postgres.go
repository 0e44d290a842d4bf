package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// Postgres is a rule source backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the price_rules table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
    CREATE TABLE IF NOT EXISTS price_rules (
        row_id TEXT PRIMARY KEY,
        product_name TEXT NOT NULL DEFAULT '',
        compare_slug TEXT NOT NULL DEFAULT '',
        offer_id TEXT NOT NULL DEFAULT '',
        min_price DOUBLE PRECISION,
        max_price DOUBLE PRECISION,
        price_rounding INTEGER,
        min_adj DOUBLE PRECISION,
        max_adj DOUBLE PRECISION,
        blacklist TEXT,
        follow BOOLEAN NOT NULL DEFAULT FALSE,
        compare_enabled BOOLEAN NOT NULL DEFAULT TRUE,
        relax_seconds BIGINT NOT NULL DEFAULT 0,
        enabled BOOLEAN NOT NULL DEFAULT TRUE,
        note TEXT NOT NULL DEFAULT '',
        last_update TIMESTAMPTZ
    )`)
	if err != nil {
		return fmt.Errorf("migrate price_rules: %w", err)
	}
	return nil
}

// PendingRows lists enabled rows in row order.
func (p *Postgres) PendingRows(ctx context.Context) ([]*model.Rule, error) {
	rows, err := p.pool.Query(ctx, `SELECT row_id FROM price_rules WHERE enabled ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	out := make([]*model.Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, &model.Rule{Row: id})
	}
	return out, nil
}

// Hydrate loads the full rule set of r.Row into r.
func (p *Postgres) Hydrate(ctx context.Context, r *model.Rule) error {
	row := p.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM price_rules WHERE row_id = $1`, r.Row)
	if err := scanRule(row, r); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(r.Row)
		}
		return fmt.Errorf("hydrate row %s: %w", r.Row, err)
	}
	return nil
}

// WriteResult stores the note and, when set, the update time of a row.
func (p *Postgres) WriteResult(ctx context.Context, r *model.Rule, res model.Result) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE price_rules SET note = $1, last_update = COALESCE($2, last_update) WHERE row_id = $3`,
		res.Note, lastUpdate(res.LastUpdate), r.Row)
	if err != nil {
		return fmt.Errorf("write result for row %s: %w", r.Row, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(r.Row)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
