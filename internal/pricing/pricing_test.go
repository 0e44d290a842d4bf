package pricing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/price-follower/internal/marketplace"
	"github.com/fairyhunter13/price-follower/internal/model"
)

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

func listing(merchant string, amount int64) model.Listing {
	return model.Listing{Merchant: merchant, InStock: true, Amount: amount, Currency: "EUR"}
}

func TestAnalyzeFiltersAndSorts(t *testing.T) {
	rule := &model.Rule{
		MinPrice:  f(5),
		MaxPrice:  f(20),
		Blacklist: map[string]struct{}{"Banned": {}},
	}
	listings := []model.Listing{
		listing("Pricey", 2500),
		listing("Banned", 600),
		listing("Zero", 0),
		listing("Cheap", 300),
		listing("B", 900),
		listing("A", 900),
		listing("C", 1200),
	}

	a := Analyze(rule, listings, 4)
	assert.True(t, a.Found)
	assert.Equal(t, "B", a.Competitor, "ties keep provider order")
	require.NotNil(t, a.Price)
	assert.Equal(t, 9.0, *a.Price)

	require.Len(t, a.Top, 4)
	assert.Equal(t, []string{"Pricey", "Banned", "Zero", "Cheap"},
		[]string{a.Top[0].Merchant, a.Top[1].Merchant, a.Top[2].Merchant, a.Top[3].Merchant})

	require.Len(t, a.BelowMin, 1)
	assert.Equal(t, "Cheap", a.BelowMin[0].Merchant)
}

func TestAnalyzeBelowMinIgnoresMaxFilter(t *testing.T) {
	rule := &model.Rule{MinPrice: f(10), MaxPrice: f(3)}
	a := Analyze(rule, []model.Listing{listing("X", 500)}, 4)
	assert.False(t, a.Found)
	require.Len(t, a.BelowMin, 1)
	assert.Equal(t, "X", a.BelowMin[0].Merchant)
}

func TestAnalyzeNoEligibleFallsBackToMax(t *testing.T) {
	rule := &model.Rule{MinPrice: f(5), MaxPrice: f(20)}
	a := Analyze(rule, nil, 4)
	assert.False(t, a.Found)
	assert.Equal(t, model.NotFoundCompetitor, a.Competitor)
	require.NotNil(t, a.Price)
	assert.Equal(t, 20.0, *a.Price)
	assert.Empty(t, a.Top)
}

func TestComputeFinalPrice(t *testing.T) {
	half := func() float64 { return 0.5 }

	t.Run("no price at all", func(t *testing.T) {
		_, err := ComputeFinalPrice(&model.Rule{}, nil, half)
		assert.ErrorIs(t, err, ErrNoPrice)
	})
	t.Run("absent competitive uses rounded max", func(t *testing.T) {
		got, err := ComputeFinalPrice(&model.Rule{MaxPrice: f(12.345), Rounding: n(2)}, nil, half)
		require.NoError(t, err)
		assert.Equal(t, 12.35, got)
	})
	t.Run("jitter subtracts a draw within bounds", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), MaxPrice: f(20), MinAdj: f(0.3), MaxAdj: f(0.1), Rounding: n(2)}
		got, err := ComputeFinalPrice(rule, f(10), half)
		require.NoError(t, err)
		assert.Equal(t, 9.8, got)
	})
	t.Run("jitter skipped at max", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), MaxPrice: f(20), MinAdj: f(1), MaxAdj: f(2), Rounding: n(2)}
		got, err := ComputeFinalPrice(rule, f(20), half)
		require.NoError(t, err)
		assert.Equal(t, 20.0, got)
	})
	t.Run("jitter applied just below max", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), MaxPrice: f(10), MinAdj: f(0.01), MaxAdj: f(0.01), Rounding: n(2)}
		got, err := ComputeFinalPrice(rule, f(9.996), half)
		require.NoError(t, err)
		assert.Equal(t, 9.99, got)
	})
	t.Run("clamped to min", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(9.9), MaxPrice: f(20), MinAdj: f(1), MaxAdj: f(2), Rounding: n(2)}
		got, err := ComputeFinalPrice(rule, f(10), half)
		require.NoError(t, err)
		assert.Equal(t, 9.9, got)
	})
	t.Run("max wins over an inverted min", func(t *testing.T) {
		got, err := ComputeFinalPrice(&model.Rule{MinPrice: f(30), MaxPrice: f(20)}, f(25), half)
		require.NoError(t, err)
		assert.Equal(t, 20.0, got)
	})
	t.Run("rounds half up", func(t *testing.T) {
		got, err := ComputeFinalPrice(&model.Rule{Rounding: n(1)}, f(9.25), half)
		require.NoError(t, err)
		assert.Equal(t, 9.3, got)
	})
}

func TestDecide(t *testing.T) {
	found := model.Analysis{Found: true, Competitor: "A"}

	t.Run("not following", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), MaxPrice: f(20), Follow: false, CurrentPrice: f(6)}
		a := model.Analysis{Found: true, Competitor: "A", Price: f(10)}
		status, reason := Decide(rule, 9, a)
		assert.Equal(t, model.StatusNotFollowing, status)
		assert.Equal(t, ReasonNotFollowing, reason)
	})
	t.Run("follow enabled updates", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), Follow: true, CurrentPrice: f(6)}
		status, _ := Decide(rule, 9, found)
		assert.Equal(t, model.StatusUpdated, status)
	})
	t.Run("no minimum", func(t *testing.T) {
		status, reason := Decide(&model.Rule{CurrentPrice: f(6)}, 9, found)
		assert.Equal(t, model.StatusSkipped, status)
		assert.Equal(t, ReasonNoMinimum, reason)
	})
	t.Run("below minimum", func(t *testing.T) {
		status, reason := Decide(&model.Rule{MinPrice: f(10)}, 9, found)
		assert.Equal(t, model.StatusSkipped, status)
		assert.Equal(t, ReasonBelowMinimum, reason)
	})
	t.Run("already at target", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), Follow: true, CurrentPrice: f(9.001), Rounding: n(2)}
		status, reason := Decide(rule, 9, found)
		assert.Equal(t, model.StatusSkipped, status)
		assert.Equal(t, ReasonAlreadyAtPrice, reason)
	})
	t.Run("comparison disabled never writes", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), Follow: true, NoCompare: true, CurrentPrice: f(30)}
		status, reason := Decide(rule, 20, model.Analysis{Competitor: model.NoComparisonCompetitor})
		assert.Equal(t, model.StatusSkipped, status)
		assert.Equal(t, ReasonNoComparison, reason)
	})
	t.Run("competitor not found still updates", func(t *testing.T) {
		rule := &model.Rule{MinPrice: f(5), Follow: false, CurrentPrice: f(6)}
		status, _ := Decide(rule, 20, model.Analysis{Competitor: model.NotFoundCompetitor})
		assert.Equal(t, model.StatusUpdated, status)
	})
}

func TestValidate(t *testing.T) {
	ok := &model.Rule{Row: "2", Product: "p", CompareSlug: "s", OfferID: "o", MinPrice: f(1), MaxPrice: f(2)}
	assert.NoError(t, Validate(ok))

	bad := &model.Rule{Row: "3", MinPrice: f(25), MaxPrice: f(20), MinAdj: f(2), MaxAdj: f(1), Rounding: n(-1)}
	err := Validate(bad)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "3", ve.Row)
	assert.Len(t, ve.Problems, 6)
	assert.Contains(t, err.Error(), "min price cannot exceed max price")
}

func TestNarrative(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	rule := &model.Rule{MinPrice: f(5), MaxPrice: f(20)}
	a := model.Analysis{
		Competitor: "A",
		Found:      true,
		Price:      f(10),
		BelowMin:   []model.Listing{listing("Low", 400)},
		Top: []model.Listing{
			{Merchant: "A", Amount: 1000, Commission: &model.Commission{WithCommission: 11, WithoutCommission: 10}},
			listing("B", 1500),
		},
	}
	got := Narrative(now, rule, 9, ReasonUpdate, a)
	assert.True(t, strings.HasPrefix(got, "04/03/2026 05:06:07 Updated 9.000\n"))
	assert.Contains(t, got, "- Competitor: A = 10.000000\n")
	assert.Contains(t, got, "PriceMin = 5.000000, PriceMax = 20.000000\n")
	assert.Contains(t, got, " Low = 4.000000\n")
	assert.Contains(t, got, "- A: 10.000000 (with commission 11.000000)\n")
	assert.Contains(t, got, "- B: 15.000000\n")

	below := Narrative(now, rule, 4, ReasonBelowMinimum, model.Analysis{Competitor: model.NotFoundCompetitor})
	assert.Contains(t, below, "below min price (5.000)")

	fixed := Narrative(now, rule, 20, ReasonNoComparison, model.Analysis{Competitor: model.NoComparisonCompetitor, Price: f(20)})
	assert.True(t, strings.HasPrefix(fixed, "04/03/2026 05:06:07 No comparison, price 20.000 from max price.\n"), fixed)
	assert.Contains(t, fixed, "- Competitor: No comparison = 20.000000\n")
}

type fakeCatalog struct {
	product     model.Lookup[marketplace.Product]
	competition model.Lookup[[]model.Listing]
	err         error
	commission  func(price float64) (model.Commission, error)
}

func (c *fakeCatalog) ResolveProduct(context.Context, string) (model.Lookup[marketplace.Product], error) {
	return c.product, c.err
}

func (c *fakeCatalog) Competition(context.Context, uuid.UUID) (model.Lookup[[]model.Listing], error) {
	return c.competition, nil
}

func (c *fakeCatalog) CalculatePrice(_ context.Context, _ uuid.UUID, price float64) (model.Commission, error) {
	return c.commission(price)
}

func TestEnginePriceWithoutCompetitors(t *testing.T) {
	id := uuid.New()
	cat := &fakeCatalog{
		product:     model.Found(marketplace.Product{ID: id}),
		competition: model.NotFound[[]model.Listing](),
	}
	e := NewEngine(cat, WithRand(func() float64 { return 0.5 }))
	rule := &model.Rule{CompareSlug: "s", MinPrice: f(5), MaxPrice: f(20), MinAdj: f(0.1), MaxAdj: f(0.5), Rounding: n(2)}

	res, err := e.Price(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, model.NotFoundCompetitor, res.Analysis.Competitor)
	require.NotNil(t, res.Analysis.Price)
	assert.Equal(t, 20.0, *res.Analysis.Price)
	assert.Equal(t, 20.0, res.Final)
	assert.Equal(t, id, rule.ProductID)
	require.NotNil(t, rule.TargetPrice)
	assert.Equal(t, 20.0, *rule.TargetPrice)
}

func TestEnginePriceWithComparisonDisabled(t *testing.T) {
	// Any catalog call would fail the pricing.
	e := NewEngine(&fakeCatalog{err: errors.New("catalog must not be called")}, WithRand(func() float64 { return 0.9 }))
	rule := &model.Rule{CompareSlug: "s", NoCompare: true, MinPrice: f(5), MaxPrice: f(19.987), MinAdj: f(0.1), MaxAdj: f(0.5), Rounding: n(2)}

	res, err := e.Price(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, 19.99, res.Final)
	assert.Equal(t, model.NoComparisonCompetitor, res.Analysis.Competitor)
	assert.False(t, res.Analysis.Found)
	require.NotNil(t, rule.TargetPrice)
	assert.Equal(t, 19.99, *rule.TargetPrice)

	_, err = e.Price(context.Background(), &model.Rule{CompareSlug: "s", NoCompare: true})
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestEnginePriceProductNotFound(t *testing.T) {
	e := NewEngine(&fakeCatalog{product: model.NotFound[marketplace.Product]()})
	_, err := e.Price(context.Background(), &model.Rule{CompareSlug: "missing"})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestEnginePricePropagatesCatalogErrors(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine(&fakeCatalog{err: boom})
	_, err := e.Price(context.Background(), &model.Rule{CompareSlug: "s"})
	assert.ErrorIs(t, err, boom)
}

func TestEnginePriceEnrichesTopListings(t *testing.T) {
	cat := &fakeCatalog{
		product:     model.Found(marketplace.Product{ID: uuid.New()}),
		competition: model.Found([]model.Listing{listing("A", 1000), listing("B", 1100), listing("C", 1200)}),
	}
	calls := 0
	cat.commission = func(price float64) (model.Commission, error) {
		calls++
		if calls == 2 {
			return model.Commission{}, errors.New("unavailable")
		}
		return model.Commission{WithCommission: price * 1.1, WithoutCommission: price}, nil
	}
	e := NewEngine(cat, WithTopN(2), WithCommissioner(cat))

	res, err := e.Price(context.Background(), &model.Rule{MinPrice: f(5), MaxPrice: f(20)})
	require.NoError(t, err)
	require.Len(t, res.Analysis.Top, 2)
	assert.NotNil(t, res.Analysis.Top[0].Commission)
	assert.Nil(t, res.Analysis.Top[1].Commission)
	assert.Equal(t, "A", res.Analysis.Competitor)
	assert.Equal(t, 10.0, res.Final)
}
