package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// SQL is a rule source over database/sql using ? placeholders.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; the scheduler serializes access anyway.
	db.SetMaxOpenConns(1)
	s := NewSQL(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the price_rules table.
func (s *SQL) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
    CREATE TABLE IF NOT EXISTS price_rules (
        row_id TEXT PRIMARY KEY,
        product_name TEXT NOT NULL DEFAULT '',
        compare_slug TEXT NOT NULL DEFAULT '',
        offer_id TEXT NOT NULL DEFAULT '',
        min_price REAL,
        max_price REAL,
        price_rounding INTEGER,
        min_adj REAL,
        max_adj REAL,
        blacklist TEXT,
        follow BOOLEAN NOT NULL DEFAULT 0,
        compare_enabled BOOLEAN NOT NULL DEFAULT 1,
        relax_seconds INTEGER NOT NULL DEFAULT 0,
        enabled BOOLEAN NOT NULL DEFAULT 1,
        note TEXT NOT NULL DEFAULT '',
        last_update DATETIME
    );`)
	if err != nil {
		return fmt.Errorf("migrate price_rules: %w", err)
	}
	return nil
}

// PendingRows lists enabled rows in row order.
func (s *SQL) PendingRows(ctx context.Context) ([]*model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT row_id FROM price_rules WHERE enabled ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Rule
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row id: %w", err)
		}
		out = append(out, &model.Rule{Row: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	return out, nil
}

// Hydrate loads the full rule set of r.Row into r.
func (s *SQL) Hydrate(ctx context.Context, r *model.Rule) error {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM price_rules WHERE row_id = ?`, r.Row)
	if err := scanRule(row, r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(r.Row)
		}
		return fmt.Errorf("hydrate row %s: %w", r.Row, err)
	}
	return nil
}

// WriteResult stores the note and, when set, the update time of a row.
func (s *SQL) WriteResult(ctx context.Context, r *model.Rule, res model.Result) error {
	out, err := s.db.ExecContext(ctx,
		`UPDATE price_rules SET note = ?, last_update = COALESCE(?, last_update) WHERE row_id = ?`,
		res.Note, lastUpdate(res.LastUpdate), r.Row)
	if err != nil {
		return fmt.Errorf("write result for row %s: %w", r.Row, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return notFound(r.Row)
	}
	return nil
}

// DB returns the underlying database.
func (s *SQL) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQL) Close() error {
	return s.db.Close()
}
