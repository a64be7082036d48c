package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/order-management/internal/domain/customer"
)

func TestSegmentRule(t *testing.T) {
	r := NewSegmentRule()

	tests := []struct {
		segment customer.Segment
		applies bool
		want    string
	}{
		{customer.SegmentStandard, false, "0"},
		{customer.SegmentPremium, true, "5"},
		{customer.SegmentGold, true, "10"},
		{customer.SegmentPlatinum, true, "15"},
	}

	for _, tt := range tests {
		t.Run(tt.segment.String(), func(t *testing.T) {
			o := newOrder(tt.segment, "100", 1)
			c := *o.Customer

			assert.Equal(t, tt.applies, r.Applies(c, o))
			assert.True(t, d(tt.want).Equal(r.Discount(c, o)))
		})
	}
}

func TestBulkQuantityRule(t *testing.T) {
	r := NewBulkQuantityRule()

	tests := []struct {
		name    string
		items   []Item
		applies bool
		want    string
	}{
		{name: "ten units", items: []Item{{Quantity: 10}}, applies: false, want: "0"},
		{name: "eleven units across lines", items: []Item{{Quantity: 6}, {Quantity: 5}}, applies: true, want: "100"},
		{name: "fifty units capped", items: []Item{{Quantity: 50}}, applies: true, want: "100"},
		{name: "no lines", items: nil, applies: false, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := customer.Customer{Segment: customer.SegmentStandard}
			o := Order{TotalAmount: d("1000"), Items: tt.items, Customer: &c}

			assert.Equal(t, tt.applies, r.Applies(c, o))
			assert.True(t, d(tt.want).Equal(r.Discount(c, o)), "got %s", r.Discount(c, o))
		})
	}
}

func TestBulkQuantityRule_RateBelowCap(t *testing.T) {
	r := NewBulkQuantityRule()
	c := customer.Customer{}

	// Rate is min(10%, qty*1%), so the cap already binds at eleven units.
	o := Order{TotalAmount: d("200"), Items: []Item{{Quantity: 11}}}
	assert.True(t, d("20").Equal(r.Discount(c, o)))
}

func TestHighValueRule(t *testing.T) {
	r := NewHighValueRule()
	c := customer.Customer{}

	assert.False(t, r.Applies(c, Order{TotalAmount: d("500")}))
	assert.True(t, r.Applies(c, Order{TotalAmount: d("500.01")}))
	assert.True(t, d("50").Equal(r.Discount(c, Order{TotalAmount: d("10000")})))
}

func TestDefaultRulesPriorities(t *testing.T) {
	rules := DefaultRules()

	got := make(map[string]int, len(rules))
	for _, r := range rules {
		got[r.Name()] = r.Priority()
	}
	assert.Equal(t, map[string]int{
		RuleSegmentTier:  1,
		RuleBulkQuantity: 2,
		RuleHighValue:    3,
	}, got)
}
