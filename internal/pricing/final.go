package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// ErrNoPrice means neither a competitive price nor a maximum was available.
var ErrNoPrice = errors.New("no competitive price and no maximum price")

// ComputeFinalPrice applies jitter, clamping and rounding to the competitive
// price. draw returns a uniform value in [0, 1).
func ComputeFinalPrice(rule *model.Rule, competitive *float64, draw func() float64) (float64, error) {
	var price float64
	switch {
	case competitive != nil:
		price = *competitive
	case rule.MaxPrice != nil:
		price = Round(*rule.MaxPrice, rule.Rounding)
	default:
		return 0, ErrNoPrice
	}

	if rule.MinAdj != nil && rule.MaxAdj != nil && !atBound(rule, price) {
		lo := math.Min(*rule.MinAdj, *rule.MaxAdj)
		hi := math.Max(*rule.MinAdj, *rule.MaxAdj)
		price -= lo + (hi-lo)*draw()
	}

	if rule.MinPrice != nil {
		price = math.Max(price, *rule.MinPrice)
	}
	if rule.MaxPrice != nil {
		price = math.Min(price, *rule.MaxPrice)
	}
	return Round(price, rule.Rounding), nil
}

// atBound reports whether the pre-jitter price is exactly equal to a bound.
// No rounding tolerance applies: 9.996 against a max of 10 is not at the bound.
func atBound(rule *model.Rule, price float64) bool {
	if rule.MaxPrice != nil && price == *rule.MaxPrice {
		return true
	}
	if rule.MinPrice != nil && price == *rule.MinPrice {
		return true
	}
	return false
}

// Round rounds half-up to places decimals. A nil places leaves price as is.
func Round(price float64, places *int) float64 {
	if places == nil {
		return price
	}
	f, _ := decimal.NewFromFloat(price).Round(int32(*places)).Float64()
	return f
}

// SamePrice compares two prices at the given rounding precision.
func SamePrice(a, b float64, places *int) bool {
	if places == nil {
		return a == b
	}
	return decimal.NewFromFloat(a).Round(int32(*places)).Equal(decimal.NewFromFloat(b).Round(int32(*places)))
}
