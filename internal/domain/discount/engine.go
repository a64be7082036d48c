package discount

import (
	"cmp"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var zero = decimal.Zero

// Engine evaluates a fixed, priority-ordered set of rules.
// It holds no mutable state and may be shared across goroutines.
type Engine struct {
	rules    []Rule
	stacking Stacking
}

// Option configures an Engine.
type Option func(*Engine)

// WithStacking sets the stacking policy. The default is StackOriginal.
func WithStacking(s Stacking) Option {
	return func(e *Engine) {
		e.stacking = s
	}
}

// NewEngine creates an Engine over rules. Rules with equal priority keep
// their registration order.
func NewEngine(rules []Rule, opts ...Option) *Engine {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	e := &Engine{rules: sorted}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the configured rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

// Stacking returns the configured stacking policy.
func (e *Engine) Stacking() Stacking {
	return e.stacking
}

// ComputeDiscount returns the discount for o, within [0, o.TotalAmount].
func (e *Engine) ComputeDiscount(o Order) decimal.Decimal {
	return e.Evaluate(o).Total
}

// Evaluate computes the discount for o together with the per-rule breakdown.
// An order without a customer yields a zero discount.
func (e *Engine) Evaluate(o Order) Result {
	if o.Customer == nil {
		return Result{Total: zero}
	}
	c := *o.Customer

	// Applicability is decided on the original snapshot, before any rule runs.
	applicable := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Applies(c, o) {
			applicable = append(applicable, r)
		}
	}

	var (
		total   = zero
		applied = make([]Applied, 0, len(applicable))
	)
	for _, r := range applicable {
		view := o
		if e.stacking == StackRemaining {
			view.TotalAmount = o.TotalAmount.Sub(total)
		}

		amount := r.Discount(c, view)
		if amount.IsNegative() {
			amount = zero
		}
		if !amount.IsZero() {
			applied = append(applied, Applied{
				Rule:     r.Name(),
				Priority: r.Priority(),
				Amount:   amount,
			})
		}

		total = total.Add(amount)
		if o.TotalAmount.Sub(total).LessThanOrEqual(zero) {
			return Result{Total: o.TotalAmount, Applied: applied, Capped: true}
		}
	}

	return Result{Total: decimal.Min(total, o.TotalAmount), Applied: applied}
}

// ParseStacking parses a stacking policy name.
func ParseStacking(v string) (Stacking, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "original":
		return StackOriginal, nil
	case "remaining":
		return StackRemaining, nil
	default:
		return 0, errors.Errorf("unknown stacking policy %q", v)
	}
}
