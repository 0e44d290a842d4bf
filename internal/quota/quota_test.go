package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/price-follower/internal/marketplace"
	"github.com/fairyhunter13/price-follower/internal/model"
)

type fakeStocks struct {
	stock model.Lookup[marketplace.Stock]
	err   error
	calls int
}

func (f *fakeStocks) Stock(context.Context, string) (model.Lookup[marketplace.Stock], error) {
	f.calls++
	return f.stock, f.err
}

func stock(amount int64, q int, next *int) marketplace.Stock {
	s := marketplace.Stock{ID: "offer"}
	s.Price = marketplace.Money{Amount: amount, Currency: "EUR"}
	s.Quota = marketplace.UpdateQuota{Quota: q, NextFreeIn: next}
	return s
}

func TestCheckNullNextFreeIn(t *testing.T) {
	fs := &fakeStocks{stock: model.Found(stock(650, 4, nil))}
	g := NewGate(fs)
	rule := &model.Rule{OfferID: "offer"}

	state, err := g.Check(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Minutes)
	assert.Equal(t, 4, state.Free)
	assert.True(t, Permits(state))
	require.NotNil(t, rule.CurrentPrice)
	assert.Equal(t, 6.5, *rule.CurrentPrice)
}

func TestCheckNextFreeInSeconds(t *testing.T) {
	next := 185
	fs := &fakeStocks{stock: model.Found(stock(650, 3, &next))}
	state, err := NewGate(fs).Check(context.Background(), &model.Rule{OfferID: "offer"})
	require.NoError(t, err)
	assert.Equal(t, 3, state.Minutes)
	assert.Equal(t, 0, state.Free)
	assert.False(t, Permits(state))
}

func TestCheckIsNeverCached(t *testing.T) {
	fs := &fakeStocks{stock: model.Found(stock(100, 1, nil))}
	g := NewGate(fs)
	for i := 0; i < 3; i++ {
		_, err := g.Check(context.Background(), &model.Rule{OfferID: "offer"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fs.calls)
}

func TestCheckStockNotFound(t *testing.T) {
	fs := &fakeStocks{stock: model.NotFound[marketplace.Stock]()}
	rule := &model.Rule{OfferID: "gone"}
	_, err := NewGate(fs).Check(context.Background(), rule)
	assert.ErrorIs(t, err, ErrStockNotFound)
	assert.Nil(t, rule.CurrentPrice)
}

func TestCheckPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewGate(&fakeStocks{err: boom}).Check(context.Background(), &model.Rule{})
	assert.ErrorIs(t, err, boom)
}

func TestPermitsZeroQuotaWithoutWait(t *testing.T) {
	assert.False(t, Permits(FromStock(stock(100, 0, nil))))
}
