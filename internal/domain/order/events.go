package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventDeleted       EventType = "order.deleted"
)

// Event is published after an order changes.
type Event struct {
	Type           EventType
	OrderID        int64
	Number         string
	CustomerID     int64
	Status         Status
	PreviousStatus Status
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	At             time.Time
}

// Publisher delivers order events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// AnalyticsCache stores computed analytics for a time window. Entries are
// tagged with the generation current when their orders were read; Invalidate
// starts a new generation so older entries are never served again.
type AnalyticsCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, from, to time.Time) (*Analytics, bool, error)
	Set(ctx context.Context, gen int64, from, to time.Time, a *Analytics) error
	Invalidate(ctx context.Context) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type nopCache struct{}

func (nopCache) Generation(context.Context) (int64, error) { return 0, nil }

func (nopCache) Get(context.Context, int64, time.Time, time.Time) (*Analytics, bool, error) {
	return nil, false, nil
}

func (nopCache) Set(context.Context, int64, time.Time, time.Time, *Analytics) error { return nil }

func (nopCache) Invalidate(context.Context) error { return nil }
