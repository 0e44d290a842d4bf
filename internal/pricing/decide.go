package pricing

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// Reason explains a Decide result.
type Reason string

const (
	ReasonNoComparison   Reason = "comparison disabled"
	ReasonNoMinimum      Reason = "no minimum configured"
	ReasonBelowMinimum   Reason = "below minimum"
	ReasonNotFollowing   Reason = "not following"
	ReasonAlreadyAtPrice Reason = "already at target"
	ReasonUpdate         Reason = "updated"
)

// Decide applies the write gate to a computed final price. The first
// matching rule wins. rule.CurrentPrice must already hold the observed price.
func Decide(rule *model.Rule, final float64, a model.Analysis) (model.Status, Reason) {
	if rule.NoCompare {
		return model.StatusSkipped, ReasonNoComparison
	}
	if rule.MinPrice == nil {
		return model.StatusSkipped, ReasonNoMinimum
	}
	if final < *rule.MinPrice {
		return model.StatusSkipped, ReasonBelowMinimum
	}
	if cur := rule.CurrentPrice; cur != nil {
		if !rule.Follow && *cur <= final && a.Found {
			return model.StatusNotFollowing, ReasonNotFollowing
		}
		if SamePrice(*cur, final, rule.Rounding) {
			return model.StatusSkipped, ReasonAlreadyAtPrice
		}
	}
	return model.StatusUpdated, ReasonUpdate
}

// ValidationError lists every problem found in a row's rules.
type ValidationError struct {
	Row      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %s: invalid rules: %s", e.Row, strings.Join(e.Problems, "; "))
}

// Validate checks a hydrated rule before any remote call is made.
func Validate(rule *model.Rule) error {
	var problems []string
	if strings.TrimSpace(rule.Product) == "" {
		problems = append(problems, "product is required")
	}
	if strings.TrimSpace(rule.CompareSlug) == "" {
		problems = append(problems, "compare slug is required")
	}
	if strings.TrimSpace(rule.OfferID) == "" {
		problems = append(problems, "offer id is required")
	}
	if rule.Rounding != nil && *rule.Rounding < 0 {
		problems = append(problems, "price rounding cannot be negative")
	}
	if rule.MinAdj != nil && rule.MaxAdj != nil && *rule.MinAdj > *rule.MaxAdj {
		problems = append(problems, "min adjustment cannot exceed max adjustment")
	}
	if rule.MinPrice != nil && rule.MaxPrice != nil && *rule.MinPrice > *rule.MaxPrice {
		problems = append(problems, "min price cannot exceed max price")
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Row: rule.Row, Problems: problems}
}
