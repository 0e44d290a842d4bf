// Package model defines domain types used by the service.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotFoundCompetitor names the competitor when no listing qualified.
const NotFoundCompetitor = "not found"

// NoComparisonCompetitor names the competitor of a row priced without
// looking at the competition.
const NoComparisonCompetitor = "No comparison"

// Rule is one row of pricing rules read from the data source.
//
// The derived fields (ProductID, CurrentPrice, TargetPrice) are filled in
// place as the row moves through the pipeline.
type Rule struct {
	Row         string
	Product     string
	CompareSlug string
	OfferID     string

	MinPrice *float64
	MaxPrice *float64
	Rounding *int
	MinAdj   *float64
	MaxAdj   *float64

	Blacklist map[string]struct{}
	Follow    bool
	// NoCompare prices the row at its rounded max price without any
	// competition lookup.
	NoCompare bool
	Relax     time.Duration

	ProductID    uuid.UUID
	CurrentPrice *float64
	TargetPrice  *float64
}

// Blacklisted reports whether merchant is excluded from competition.
func (r *Rule) Blacklisted(merchant string) bool {
	if r == nil || r.Blacklist == nil {
		return false
	}
	_, ok := r.Blacklist[merchant]
	return ok
}

// Commission holds a commission-adjusted price pair.
type Commission struct {
	WithCommission    float64 `json:"with_commission"`
	WithoutCommission float64 `json:"without_commission"`
}

// Listing is a single competitor offer for a product.
type Listing struct {
	Merchant string `json:"merchant"`
	InStock  bool   `json:"in_stock"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	Commission *Commission `json:"commission,omitempty"`
	Original   *float64    `json:"original,omitempty"`
}

// Price converts the minor-unit amount into a price.
func (l Listing) Price() float64 {
	p, _ := decimal.New(l.Amount, -2).Float64()
	return p
}

// ToMinorUnits converts a price into integer minor units.
func ToMinorUnits(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(2).Round(0).IntPart()
}

// Analysis is the outcome of a competition analysis for one rule.
type Analysis struct {
	Competitor string
	Price      *float64
	Found      bool
	BelowMin   []Listing
	Top        []Listing
}

// QuotaState is a per-row snapshot of the provider's price update quota.
type QuotaState struct {
	Minutes      int
	Free         int
	CurrentPrice *float64
}

// Status is the per-row processing result code.
type Status int

const (
	// StatusSkipped means processed but not written.
	StatusSkipped Status = 0
	// StatusUpdated means a new price was written.
	StatusUpdated Status = 1
	// StatusNotFollowing means the current price is already favorable and follow is off.
	StatusNotFollowing Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusUpdated:
		return "updated"
	case StatusNotFollowing:
		return "not_following"
	default:
		return "unknown"
	}
}

// Outcome is the final result of processing one rule.
type Outcome struct {
	Status     Status
	FinalPrice *float64
	Note       string
}

// Updated builds an Outcome for a written price.
func Updated(price float64, note string) Outcome {
	return Outcome{Status: StatusUpdated, FinalPrice: &price, Note: note}
}

// NotWritten builds an Outcome for any status other than StatusUpdated.
// A StatusUpdated argument is downgraded to StatusSkipped so FinalPrice stays
// present only for written rows.
func NotWritten(status Status, note string) Outcome {
	if status == StatusUpdated {
		status = StatusSkipped
	}
	return Outcome{Status: status, Note: note}
}

// Result is what gets written back to the data source for a row.
// A zero LastUpdate leaves the stored timestamp untouched.
type Result struct {
	Note       string
	LastUpdate time.Time
}

// Lookup is an explicit found / not-found result.
type Lookup[T any] struct {
	Value T
	Found bool
}

// Found wraps v as a found result.
func Found[T any](v T) Lookup[T] { return Lookup[T]{Value: v, Found: true} }

// NotFound returns an empty result.
func NotFound[T any]() Lookup[T] { return Lookup[T]{} }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// RowReport is the observable record of one row's processing in a round.
type RowReport struct {
	Row        string    `json:"row"`
	Round      uint64    `json:"round"`
	State      string    `json:"state"`
	Status     Status    `json:"status"`
	StatusText string    `json:"status_text"`
	FinalPrice *float64  `json:"final_price,omitempty"`
	Note       string    `json:"note"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
