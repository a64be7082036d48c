package discount

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
)

// Built-in rule names.
const (
	RuleSegmentTier  = "segment-tier"
	RuleBulkQuantity = "bulk-quantity"
	RuleHighValue    = "high-value"
)

// DefaultRules returns the built-in segment, bulk and high-value rules.
func DefaultRules() []Rule {
	return []Rule{
		NewSegmentRule(),
		NewBulkQuantityRule(),
		NewHighValueRule(),
	}
}

// SegmentRule discounts a percentage of the order total depending on the
// customer segment. Standard customers are not eligible.
type SegmentRule struct {
	rates map[customer.Segment]decimal.Decimal
}

// NewSegmentRule returns the tiered rule: Premium 5%, Gold 10%, Platinum 15%.
func NewSegmentRule() *SegmentRule {
	return &SegmentRule{
		rates: map[customer.Segment]decimal.Decimal{
			customer.SegmentPremium:  decimal.RequireFromString("0.05"),
			customer.SegmentGold:     decimal.RequireFromString("0.10"),
			customer.SegmentPlatinum: decimal.RequireFromString("0.15"),
		},
	}
}

func (r *SegmentRule) Name() string  { return RuleSegmentTier }
func (r *SegmentRule) Priority() int { return 1 }

func (r *SegmentRule) Applies(c customer.Customer, _ Order) bool {
	_, ok := r.rates[c.Segment]
	return ok
}

func (r *SegmentRule) Discount(c customer.Customer, o Order) decimal.Decimal {
	rate, ok := r.rates[c.Segment]
	if !ok {
		return zero
	}
	return o.TotalAmount.Mul(rate)
}

// BulkQuantityRule grants 1% per unit once the order carries more than ten
// units, capped at 10%.
type BulkQuantityRule struct {
	minQuantity int
	perUnit     decimal.Decimal
	maxRate     decimal.Decimal
}

// NewBulkQuantityRule returns the bulk rule with its standard thresholds.
func NewBulkQuantityRule() *BulkQuantityRule {
	return &BulkQuantityRule{
		minQuantity: 10,
		perUnit:     decimal.RequireFromString("0.01"),
		maxRate:     decimal.RequireFromString("0.10"),
	}
}

func (r *BulkQuantityRule) Name() string  { return RuleBulkQuantity }
func (r *BulkQuantityRule) Priority() int { return 2 }

func (r *BulkQuantityRule) Applies(_ customer.Customer, o Order) bool {
	return o.TotalQuantity() > r.minQuantity
}

func (r *BulkQuantityRule) Discount(c customer.Customer, o Order) decimal.Decimal {
	if !r.Applies(c, o) {
		return zero
	}
	qty := decimal.NewFromInt(int64(o.TotalQuantity()))
	rate := decimal.Min(r.maxRate, qty.Mul(r.perUnit))
	return o.TotalAmount.Mul(rate)
}

// HighValueRule grants a flat amount on orders strictly above a threshold.
type HighValueRule struct {
	threshold decimal.Decimal
	amount    decimal.Decimal
}

// NewHighValueRule returns the rule granting 50 off orders over 500.
func NewHighValueRule() *HighValueRule {
	return &HighValueRule{
		threshold: decimal.NewFromInt(500),
		amount:    decimal.NewFromInt(50),
	}
}

func (r *HighValueRule) Name() string  { return RuleHighValue }
func (r *HighValueRule) Priority() int { return 3 }

func (r *HighValueRule) Applies(_ customer.Customer, o Order) bool {
	return o.TotalAmount.GreaterThan(r.threshold)
}

// Discount ignores the order total beyond the threshold check, so it does not
// re-check applicability: under StackRemaining the rebased total may be
// below the threshold even though the original order qualified.
func (r *HighValueRule) Discount(_ customer.Customer, _ Order) decimal.Decimal {
	return r.amount
}
