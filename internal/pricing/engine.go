package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/fairyhunter13/price-follower/internal/marketplace"
	"github.com/fairyhunter13/price-follower/internal/model"
)

// ErrProductNotFound means the compare slug resolved to no product.
var ErrProductNotFound = errors.New("compare product not found")

// Catalog resolves products and their competition.
type Catalog interface {
	ResolveProduct(ctx context.Context, slug string) (model.Lookup[marketplace.Product], error)
	Competition(ctx context.Context, productID uuid.UUID) (model.Lookup[[]model.Listing], error)
}

// Result is the pricing of one rule.
type Result struct {
	Analysis model.Analysis
	Final    float64
}

// Engine prices rules against live competition.
type Engine struct {
	catalog      Catalog
	commissioner Commissioner
	topN         int
	draw         func() float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the jitter source, returning values in [0, 1).
func WithRand(draw func() float64) Option { return func(e *Engine) { e.draw = draw } }

// WithTopN sets how many listings are enriched and reported.
func WithTopN(n int) Option { return func(e *Engine) { e.topN = n } }

// WithCommissioner enables commission enrichment of the top listings.
func WithCommissioner(c Commissioner) Option { return func(e *Engine) { e.commissioner = c } }

// NewEngine builds an Engine.
func NewEngine(catalog Catalog, opts ...Option) *Engine {
	e := &Engine{catalog: catalog, topN: DefaultTopN, draw: rand.Float64}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Price resolves the compare product, analyzes its competition and computes
// the final price. It fills rule.ProductID and rule.TargetPrice.
// A rule with comparison disabled is priced at its rounded max price and
// the catalog is never consulted.
func (e *Engine) Price(ctx context.Context, rule *model.Rule) (Result, error) {
	if rule.NoCompare {
		return noComparison(rule)
	}
	product, err := e.catalog.ResolveProduct(ctx, rule.CompareSlug)
	if err != nil {
		return Result{}, err
	}
	if !product.Found {
		return Result{}, fmt.Errorf("%w: %s", ErrProductNotFound, rule.CompareSlug)
	}
	rule.ProductID = product.Value.ID

	competition, err := e.catalog.Competition(ctx, rule.ProductID)
	if err != nil {
		return Result{}, err
	}
	var listings []model.Listing
	if competition.Found {
		listings = competition.Value
	}

	a := Analyze(rule, listings, e.topN)
	Enrich(ctx, e.commissioner, rule.ProductID, &a)

	final, err := e.ComputeFinalPrice(rule, a.Price)
	if err != nil {
		return Result{}, err
	}
	rule.TargetPrice = model.Ptr(final)
	return Result{Analysis: a, Final: final}, nil
}

func noComparison(rule *model.Rule) (Result, error) {
	if rule.MaxPrice == nil {
		return Result{}, ErrNoPrice
	}
	final := Round(*rule.MaxPrice, rule.Rounding)
	rule.TargetPrice = model.Ptr(final)
	return Result{
		Analysis: model.Analysis{Competitor: model.NoComparisonCompetitor, Price: model.Ptr(final)},
		Final:    final,
	}, nil
}

// ComputeFinalPrice is ComputeFinalPrice with the engine's jitter source.
func (e *Engine) ComputeFinalPrice(rule *model.Rule, competitive *float64) (float64, error) {
	return ComputeFinalPrice(rule, competitive, e.draw)
}
