// Package pricing turns competitor listings and a row's rules into a final
// price and a write decision.
package pricing

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/fairyhunter13/price-follower/internal/model"
	"github.com/fairyhunter13/price-follower/internal/obs"
)

// DefaultTopN is how many listings are kept for enrichment and reporting.
const DefaultTopN = 4

// Analyze picks the cheapest eligible competitor for rule.
//
// A listing is eligible when its merchant is not blacklisted and its price
// is positive and inside [MinPrice, MaxPrice]. Without an eligible listing
// the competitive price falls back to MaxPrice.
func Analyze(rule *model.Rule, listings []model.Listing, topN int) model.Analysis {
	if topN <= 0 {
		topN = DefaultTopN
	}
	eligible := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		if eligibleListing(rule, l) {
			eligible = append(eligible, l)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Amount < eligible[j].Amount
	})

	a := model.Analysis{
		Competitor: model.NotFoundCompetitor,
		BelowMin:   belowMin(rule, listings),
	}
	if len(eligible) > 0 {
		a.Found = true
		a.Competitor = eligible[0].Merchant
		a.Price = model.Ptr(eligible[0].Price())
	} else if rule.MaxPrice != nil {
		a.Price = model.Ptr(*rule.MaxPrice)
	}

	n := min(topN, len(listings))
	a.Top = append([]model.Listing(nil), listings[:n]...)
	return a
}

func eligibleListing(rule *model.Rule, l model.Listing) bool {
	if rule.Blacklisted(l.Merchant) {
		return false
	}
	p := l.Price()
	if p <= 0 {
		return false
	}
	if rule.MinPrice != nil && p < *rule.MinPrice {
		return false
	}
	if rule.MaxPrice != nil && p > *rule.MaxPrice {
		return false
	}
	return true
}

// belowMin scans every listing, independent of the max bound, for sellers
// undercutting the minimum.
func belowMin(rule *model.Rule, listings []model.Listing) []model.Listing {
	if rule.MinPrice == nil {
		return nil
	}
	var out []model.Listing
	for _, l := range listings {
		p := l.Price()
		if p > 0 && p < *rule.MinPrice && !rule.Blacklisted(l.Merchant) {
			out = append(out, l)
		}
	}
	return out
}

// Commissioner computes the commission-adjusted price of a listing.
type Commissioner interface {
	CalculatePrice(ctx context.Context, productID uuid.UUID, price float64) (model.Commission, error)
}

// Enrich attaches commission-adjusted prices to the top listings. It is
// display-only; failures leave a listing unenriched.
func Enrich(ctx context.Context, c Commissioner, productID uuid.UUID, a *model.Analysis) {
	if c == nil {
		return
	}
	for i := range a.Top {
		l := &a.Top[i]
		price := l.Price()
		commission, err := c.CalculatePrice(ctx, productID, price)
		if err != nil {
			obs.Logger.Warn("enrich_failed",
				"product_id", productID.String(),
				"merchant", l.Merchant,
				"error", err.Error(),
			)
			continue
		}
		l.Commission = &commission
		l.Original = model.Ptr(price)
	}
}
