// Package discount computes order discounts by composing prioritized rules.
//
// Rules are pure functions of a customer and order snapshot. The Engine
// filters the applicable ones, evaluates them in ascending priority and
// clamps the accumulated amount to the order total.
package discount

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
)

// Item is a line of the order being priced.
type Item struct {
	Quantity  int
	UnitPrice decimal.Decimal
}

// Order is a read-only pricing snapshot. TotalAmount is the sum of line
// totals before any discount.
type Order struct {
	TotalAmount decimal.Decimal
	Items       []Item
	Customer    *customer.Customer
}

// TotalQuantity returns the sum of all line quantities.
func (o Order) TotalQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Rule is a single unit of discount policy.
//
// Discount is only called after Applies returned true for the same inputs.
// Implementations must be safe for concurrent use.
type Rule interface {
	Name() string
	// Priority orders evaluation; lower values run first.
	Priority() int
	Applies(c customer.Customer, o Order) bool
	Discount(c customer.Customer, o Order) decimal.Decimal
}

// Applied records the amount a single rule contributed.
type Applied struct {
	Rule     string
	Priority int
	Amount   decimal.Decimal
}

// Result is the outcome of evaluating an order.
type Result struct {
	// Total is the discount, always within [0, order total].
	Total decimal.Decimal
	// Applied lists contributing rules in evaluation order.
	Applied []Applied
	// Capped is set when the accumulated discount reached the order total.
	Capped bool
}

// Stacking selects the base amount each rule is computed against.
type Stacking int

const (
	// StackOriginal computes every rule against the original order total.
	StackOriginal Stacking = iota
	// StackRemaining rebases each rule onto the balance left by the rules
	// evaluated before it.
	StackRemaining
)

func (s Stacking) String() string {
	switch s {
	case StackOriginal:
		return "original"
	case StackRemaining:
		return "remaining"
	default:
		return "unknown"
	}
}
