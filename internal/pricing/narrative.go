package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/price-follower/internal/model"
)

const maxBelowMinShown = 6

// Narrative renders the human-readable note written back to a row.
func Narrative(now time.Time, rule *model.Rule, final float64, reason Reason, a model.Analysis) string {
	var b strings.Builder
	b.WriteString(now.Format("02/01/2006 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(headline(rule, final, reason))
	b.WriteByte('\n')

	competitor := a.Competitor
	if !a.Found && competitor != model.NoComparisonCompetitor {
		competitor = "Max price"
	}
	if a.Price != nil {
		fmt.Fprintf(&b, "- Competitor: %s = %.6f\n", competitor, *a.Price)
	}
	fmt.Fprintf(&b, "PriceMin = %s, PriceMax = %s\n", optPrice(rule.MinPrice), optPrice(rule.MaxPrice))

	if len(a.BelowMin) > 0 {
		b.WriteString("Sellers below min price:\n")
		for i, l := range a.BelowMin {
			if i == maxBelowMinShown {
				break
			}
			fmt.Fprintf(&b, " %s = %.6f\n", l.Merchant, l.Price())
		}
	}

	if len(a.Top) > 0 {
		fmt.Fprintf(&b, "Top %d listings:\n", len(a.Top))
		for _, l := range a.Top {
			if l.Commission != nil {
				fmt.Fprintf(&b, "- %s: %.6f (with commission %.6f)\n", l.Merchant, l.Price(), l.Commission.WithCommission)
				continue
			}
			fmt.Fprintf(&b, "- %s: %.6f\n", l.Merchant, l.Price())
		}
	}
	return b.String()
}

func headline(rule *model.Rule, final float64, reason Reason) string {
	switch reason {
	case ReasonUpdate:
		return fmt.Sprintf("Updated %.3f", final)
	case ReasonBelowMinimum:
		return fmt.Sprintf("Final price (%.3f) is below min price (%.3f), not updating.", final, *rule.MinPrice)
	case ReasonNoComparison:
		return fmt.Sprintf("No comparison, price %.3f from max price.", final)
	case ReasonNoMinimum:
		return "No min price configured, not updating."
	case ReasonNotFollowing:
		return fmt.Sprintf("Current price (%s) is not above target (%.3f), follow disabled.", optPrice3(rule.CurrentPrice), final)
	case ReasonAlreadyAtPrice:
		return fmt.Sprintf("Current price already at %.3f, not updating.", final)
	default:
		return string(reason)
	}
}

func optPrice(p *float64) string {
	if p == nil {
		return "None"
	}
	return fmt.Sprintf("%.6f", *p)
}

func optPrice3(p *float64) string {
	if p == nil {
		return "None"
	}
	return fmt.Sprintf("%.3f", *p)
}
