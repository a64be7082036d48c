package order

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
)

// Analytics summarises orders placed within a time window.
type Analytics struct {
	From                   time.Time
	To                     time.Time
	TotalOrders            int
	TotalRevenue           decimal.Decimal
	AverageOrderValue      decimal.Decimal
	AverageFulfillmentTime time.Duration
	OrdersByStatus         map[Status]int
	OrdersBySegment        map[customer.Segment]int
}

// Summarize computes analytics over orders. Revenue and average value only
// count delivered orders. Fulfilment time runs from the first Processing
// change to the first Delivered change; orders missing either are skipped.
func Summarize(orders []Order, from, to time.Time) *Analytics {
	a := &Analytics{
		From:              from,
		To:                to,
		TotalOrders:       len(orders),
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		OrdersByStatus:    make(map[Status]int),
		OrdersBySegment:   make(map[customer.Segment]int),
	}

	var (
		delivered   int
		fulfilment  time.Duration
		fulfilments int64
	)
	for _, o := range orders {
		a.OrdersByStatus[o.Status]++
		a.OrdersBySegment[o.Segment]++

		if o.Status != StatusDelivered {
			continue
		}
		delivered++
		a.TotalRevenue = a.TotalRevenue.Add(o.FinalAmount)

		if d := fulfilmentTime(o.History); d > 0 {
			fulfilment += d
			fulfilments++
		}
	}

	if delivered > 0 {
		a.AverageOrderValue = a.TotalRevenue.Div(decimal.NewFromInt(int64(delivered))).Round(2)
	}
	if fulfilments > 0 {
		a.AverageFulfillmentTime = fulfilment / time.Duration(fulfilments)
	}
	return a
}

func fulfilmentTime(history []StatusChange) time.Duration {
	sorted := slices.Clone(history)
	slices.SortStableFunc(sorted, func(a, b StatusChange) int {
		return a.ChangedAt.Compare(b.ChangedAt)
	})

	var processing, delivered *time.Time
	for i := range sorted {
		h := &sorted[i]
		switch {
		case processing == nil && h.NewStatus == StatusProcessing:
			processing = &h.ChangedAt
		case delivered == nil && h.NewStatus == StatusDelivered:
			delivered = &h.ChangedAt
		}
	}
	if processing == nil || delivered == nil {
		return 0
	}
	return delivered.Sub(*processing)
}
