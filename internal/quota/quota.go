// Package quota reads the provider's price-update allowance for an offer.
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/fairyhunter13/price-follower/internal/marketplace"
	"github.com/fairyhunter13/price-follower/internal/model"
)

// ErrStockNotFound means the offer id matched no stock.
var ErrStockNotFound = errors.New("stock not found")

// StockReader fetches one of our offers.
type StockReader interface {
	Stock(ctx context.Context, stockID string) (model.Lookup[marketplace.Stock], error)
}

// Gate snapshots quota state per row. Nothing is cached between calls.
type Gate struct {
	stocks StockReader
}

// NewGate builds a Gate.
func NewGate(stocks StockReader) *Gate {
	return &Gate{stocks: stocks}
}

// Check returns the quota state for rule.OfferID and records the observed
// net price in rule.CurrentPrice.
func (g *Gate) Check(ctx context.Context, rule *model.Rule) (model.QuotaState, error) {
	res, err := g.stocks.Stock(ctx, rule.OfferID)
	if err != nil {
		return model.QuotaState{}, err
	}
	if !res.Found {
		return model.QuotaState{}, fmt.Errorf("%w: %s", ErrStockNotFound, rule.OfferID)
	}
	state := FromStock(res.Value)
	rule.CurrentPrice = state.CurrentPrice
	return state, nil
}

// FromStock converts a stock's quota block. A null nextFreeIn means the
// whole quota is available now.
func FromStock(s marketplace.Stock) model.QuotaState {
	state := model.QuotaState{CurrentPrice: model.Ptr(s.Price.Price())}
	if s.Quota.NextFreeIn == nil {
		state.Free = s.Quota.Quota
		return state
	}
	state.Minutes = *s.Quota.NextFreeIn / 60
	return state
}

// Permits reports whether a price write may happen now.
func Permits(state model.QuotaState) bool {
	return state.Free > 0
}
