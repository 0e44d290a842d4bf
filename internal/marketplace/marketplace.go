// Package marketplace implements the catalog, competition, commission, stock
// and price-update operations of the marketplace GraphQL API.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/price-follower/internal/gateway"
	"github.com/fairyhunter13/price-follower/internal/model"
	"github.com/fairyhunter13/price-follower/internal/retry"
)

// ErrUpdateRejected means the provider answered an update with success=false.
var ErrUpdateRejected = errors.New("price update rejected")

// Executor runs one GraphQL operation.
type Executor interface {
	Execute(ctx context.Context, req gateway.Request, out any) error
}

// Product is a catalog entry.
type Product struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	IsSellable bool      `json:"isSellable"`
}

// Money is an amount in minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Price converts the amount to a decimal price.
func (m Money) Price() float64 {
	f, _ := decimal.New(m.Amount, -2).Float64()
	return f
}

// UpdateQuota is the provider's free price-update allowance for a stock.
type UpdateQuota struct {
	Quota      int  `json:"quota"`
	NextFreeIn *int `json:"nextFreeIn"`
	TotalFree  int  `json:"totalFree"`
}

// Stock is one of our own offers.
type Stock struct {
	ID      string `json:"id"`
	Product struct {
		ID   uuid.UUID `json:"id"`
		Name string    `json:"name"`
	} `json:"product"`
	Price Money       `json:"price"`
	Quota UpdateQuota `json:"priceUpdateQuota"`
}

type productsData struct {
	Products struct {
		Edges []struct {
			Node Product `json:"node"`
		} `json:"edges"`
	} `json:"S_products"`
}

type competitionData struct {
	Competition []struct {
		ProductID   uuid.UUID `json:"productId"`
		Competition struct {
			TotalCount int `json:"totalCount"`
			Edges      []struct {
				Node struct {
					IsInStock    bool   `json:"isInStock"`
					MerchantName string `json:"merchantName"`
					BelongsToYou bool   `json:"belongsToYou"`
					Price        Money  `json:"price"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"competition"`
	} `json:"S_competition"`
}

type calculatePriceData struct {
	Calculate struct {
		With    Money `json:"priceWithCommission"`
		Without Money `json:"priceWithoutCommission"`
	} `json:"S_calculatePrice"`
}

type stockData struct {
	Stock *struct {
		Edges []struct {
			Node Stock `json:"node"`
		} `json:"edges"`
	} `json:"S_stock"`
}

type updateAuctionData struct {
	Update struct {
		Success  bool   `json:"success"`
		ActionID string `json:"actionId"`
	} `json:"S_updateAuction"`
}

// Service wraps every operation in the retry policy.
type Service struct {
	exec     Executor
	retry    *retry.Policy
	currency string
}

// New builds a Service. A nil policy uses retry.Default.
func New(exec Executor, policy *retry.Policy, currency string) *Service {
	if policy == nil {
		policy = retry.Default()
	}
	if currency == "" {
		currency = "EUR"
	}
	return &Service{exec: exec, retry: policy, currency: strings.ToUpper(currency)}
}

func (s *Service) call(ctx context.Context, req gateway.Request, out any) error {
	return s.retry.Do(ctx, req.Op, func(ctx context.Context) error {
		return s.exec.Execute(ctx, req, out)
	})
}

// ResolveProduct looks a product up by its slug.
func (s *Service) ResolveProduct(ctx context.Context, slug string) (model.Lookup[Product], error) {
	var data productsData
	err := s.call(ctx, gateway.Request{
		Op:        OpProducts,
		Query:     productsBySlugsQuery,
		Variables: map[string]any{"slugs": []string{slug}, "first": 1},
	}, &data)
	if err != nil {
		return model.NotFound[Product](), fmt.Errorf("resolve product %q: %w", slug, err)
	}
	if len(data.Products.Edges) == 0 {
		return model.NotFound[Product](), nil
	}
	return model.Found(data.Products.Edges[0].Node), nil
}

// Competition returns the competitor listings of a product in provider order.
func (s *Service) Competition(ctx context.Context, productID uuid.UUID) (model.Lookup[[]model.Listing], error) {
	var data competitionData
	err := s.call(ctx, gateway.Request{
		Op:        OpCompetition,
		Query:     competitionQuery,
		Variables: map[string]any{"productIds": []string{productID.String()}},
	}, &data)
	if err != nil {
		return model.NotFound[[]model.Listing](), fmt.Errorf("competition for %s: %w", productID, err)
	}
	if len(data.Competition) == 0 {
		return model.NotFound[[]model.Listing](), nil
	}
	edges := data.Competition[0].Competition.Edges
	listings := make([]model.Listing, 0, len(edges))
	for _, e := range edges {
		listings = append(listings, model.Listing{
			Merchant: e.Node.MerchantName,
			InStock:  e.Node.IsInStock,
			Amount:   e.Node.Price.Amount,
			Currency: e.Node.Price.Currency,
		})
	}
	return model.Found(listings), nil
}

// CalculatePrice returns the commission-adjusted pair for a listing price.
func (s *Service) CalculatePrice(ctx context.Context, productID uuid.UUID, price float64) (model.Commission, error) {
	var data calculatePriceData
	err := s.call(ctx, gateway.Request{
		Op:    OpCalculatePrice,
		Query: calculatePriceQuery,
		Variables: map[string]any{"input": map[string]any{
			"productId": productID.String(),
			"price":     map[string]any{"amount": model.ToMinorUnits(price), "currency": s.currency},
		}},
	}, &data)
	if err != nil {
		return model.Commission{}, fmt.Errorf("calculate price for %s: %w", productID, err)
	}
	return model.Commission{
		WithCommission:    data.Calculate.With.Price(),
		WithoutCommission: data.Calculate.Without.Price(),
	}, nil
}

// Stock fetches one of our offers with its update quota.
func (s *Service) Stock(ctx context.Context, stockID string) (model.Lookup[Stock], error) {
	var data stockData
	err := s.call(ctx, gateway.Request{
		Op:        OpStock,
		Query:     stockQuery,
		Variables: map[string]any{"stockId": stockID},
	}, &data)
	if err != nil {
		return model.NotFound[Stock](), fmt.Errorf("stock %s: %w", stockID, err)
	}
	if data.Stock == nil || len(data.Stock.Edges) == 0 {
		return model.NotFound[Stock](), nil
	}
	return model.Found(data.Stock.Edges[0].Node), nil
}

// UpdatePrice sets the price of an offer.
func (s *Service) UpdatePrice(ctx context.Context, offerID string, price float64) error {
	var data updateAuctionData
	err := s.call(ctx, gateway.Request{
		Op:    OpUpdateAuction,
		Query: updateAuctionMutation,
		Variables: map[string]any{"input": map[string]any{
			"id":    offerID,
			"price": map[string]any{"amount": model.ToMinorUnits(price), "currency": s.currency},
		}},
	}, &data)
	if err != nil {
		return fmt.Errorf("update price of %s: %w", offerID, err)
	}
	if !data.Update.Success {
		return fmt.Errorf("update price of %s: %w", offerID, ErrUpdateRejected)
	}
	return nil
}
