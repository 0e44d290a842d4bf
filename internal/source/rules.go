// Package source reads pricing rules from, and writes result notes back to,
// the price_rules table.
package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// ErrRowNotFound means a row disappeared between enumeration and hydration.
var ErrRowNotFound = errors.New("row not found")

const ruleColumns = `row_id, product_name, compare_slug, offer_id, min_price, max_price,
        price_rounding, min_adj, max_adj, blacklist, follow, compare_enabled, relax_seconds`

// scanner is satisfied by *sql.Row and pgx.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner, r *model.Rule) error {
	var (
		row, product, slug, offer string
		minPrice, maxPrice        *float64
		rounding                  *int
		minAdj, maxAdj            *float64
		blacklist                 *string
		follow, compare           bool
		relax                     int64
	)
	if err := s.Scan(&row, &product, &slug, &offer, &minPrice, &maxPrice,
		&rounding, &minAdj, &maxAdj, &blacklist, &follow, &compare, &relax); err != nil {
		return err
	}
	r.Row = row
	r.Product = product
	r.CompareSlug = slug
	r.OfferID = offer
	r.MinPrice = minPrice
	r.MaxPrice = maxPrice
	r.Rounding = rounding
	r.MinAdj = minAdj
	r.MaxAdj = maxAdj
	r.Blacklist = ParseBlacklist(deref(blacklist))
	r.Follow = follow
	r.NoCompare = !compare
	r.Relax = time.Duration(relax) * time.Second
	return nil
}

// ParseBlacklist splits a comma or newline separated merchant list.
func ParseBlacklist(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = struct{}{}
		}
	}
	return out
}

// lastUpdate maps a zero timestamp to NULL so COALESCE keeps the stored one.
func lastUpdate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func notFound(row string) error {
	return fmt.Errorf("%w: %s", ErrRowNotFound, row)
}
