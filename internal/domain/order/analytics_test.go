package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/order-management/internal/domain/customer"
)

func change(status Status, at time.Time) StatusChange {
	return StatusChange{NewStatus: status, ChangedAt: at}
}

func TestSummarize(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	orders := []Order{
		{
			Status:      StatusDelivered,
			Segment:     customer.SegmentGold,
			FinalAmount: dec("100.00"),
			History: []StatusChange{
				change(StatusDelivered, t0.Add(50*time.Hour)),
				change(StatusPending, t0),
				change(StatusProcessing, t0.Add(2*time.Hour)),
			},
		},
		{
			Status:      StatusDelivered,
			Segment:     customer.SegmentStandard,
			FinalAmount: dec("50.01"),
			History: []StatusChange{
				change(StatusProcessing, t0),
				change(StatusDelivered, t0.Add(24*time.Hour)),
			},
		},
		{
			// Delivered without passing through Processing.
			Status:      StatusDelivered,
			Segment:     customer.SegmentGold,
			FinalAmount: dec("0.01"),
			History:     []StatusChange{change(StatusDelivered, t0)},
		},
		{
			Status:      StatusCancelled,
			Segment:     customer.SegmentPlatinum,
			FinalAmount: dec("999"),
		},
	}

	a := Summarize(orders, t0, t0.Add(72*time.Hour))

	assert.Equal(t, 4, a.TotalOrders)
	assert.True(t, dec("150.02").Equal(a.TotalRevenue), a.TotalRevenue.String())
	assert.True(t, dec("50.01").Equal(a.AverageOrderValue), a.AverageOrderValue.String())
	assert.Equal(t, 36*time.Hour, a.AverageFulfillmentTime)
	assert.Equal(t, map[Status]int{StatusDelivered: 3, StatusCancelled: 1}, a.OrdersByStatus)
	assert.Equal(t, map[customer.Segment]int{
		customer.SegmentGold:     2,
		customer.SegmentStandard: 1,
		customer.SegmentPlatinum: 1,
	}, a.OrdersBySegment)
}

func TestSummarize_Empty(t *testing.T) {
	a := Summarize(nil, time.Time{}, time.Time{})

	assert.Zero(t, a.TotalOrders)
	assert.True(t, decimal.Zero.Equal(a.TotalRevenue))
	assert.True(t, decimal.Zero.Equal(a.AverageOrderValue))
	assert.Zero(t, a.AverageFulfillmentTime)
	assert.Empty(t, a.OrdersByStatus)
}

func TestFulfilmentTime_UsesFirstOccurrence(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	d := fulfilmentTime([]StatusChange{
		change(StatusProcessing, t0),
		change(StatusProcessing, t0.Add(time.Hour)),
		change(StatusDelivered, t0.Add(3*time.Hour)),
		change(StatusDelivered, t0.Add(9*time.Hour)),
	})
	assert.Equal(t, 3*time.Hour, d)
}
