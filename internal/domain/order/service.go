package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/discount"
	"github.com/xenking/order-management/internal/domain/product"
)

const (
	defaultChangedBy   = "System"
	maxChangedByLen    = 100
	maxNotesLen        = 500
	defaultWindow      = 30 * 24 * time.Hour
	instrumentationKey = "github.com/xenking/order-management/internal/domain/order"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems   = fmt.Errorf("at least one order item is required")
	ErrInvalidRange = fmt.Errorf("end date must be greater than or equal to start date")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be at least 1 for product %d", e.ProductID)
}

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Pricer computes the discount for an order snapshot.
type Pricer interface {
	Evaluate(o discount.Order) discount.Result
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID int64
	Items      []ItemRequest
}

// ItemRequest is a requested order line.
type ItemRequest struct {
	ProductID int64
	Quantity  int
}

// StatusUpdate holds the input for changing an order status.
type StatusUpdate struct {
	NewStatus Status
	ChangedBy string
	Notes     string
}

// Quote is the priced, unpersisted form of a CreateRequest.
type Quote struct {
	Customer       customer.Customer
	Items          []Item
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Discounts      []AppliedDiscount
}

// Service encapsulates order placement, fulfilment and reporting logic.
type Service struct {
	customers customer.Repository
	products  product.Repository
	orders    Repository
	pricer    Pricer
	events    Publisher
	cache     AnalyticsCache
	now       func() time.Time

	tracer        trace.Tracer
	ordersCreated metric.Int64Counter
	discountSize  metric.Float64Histogram
	ruleHits      metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the order event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithAnalyticsCache sets the analytics cache.
func WithAnalyticsCache(c AnalyticsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTelemetry instruments the service with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(instrumentationKey)
		s.initMetrics(mp.Meter(instrumentationKey))
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	products product.Repository,
	orders Repository,
	pricer Pricer,
	opts ...Option,
) *Service {
	s := &Service{
		customers: customers,
		products:  products,
		orders:    orders,
		pricer:    pricer,
		events:    nopPublisher{},
		cache:     nopCache{},
		now:       time.Now,
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationKey),
	}
	s.initMetrics(metricnoop.NewMeterProvider().Meter(instrumentationKey))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) initMetrics(m metric.Meter) {
	// Instrument constructors only fail on invalid names; the noop
	// instruments returned alongside the error are still usable.
	s.ordersCreated, _ = m.Int64Counter("orders.created",
		metric.WithDescription("Number of orders placed"))
	s.discountSize, _ = m.Float64Histogram("orders.discount.amount",
		metric.WithDescription("Discount granted per order"))
	s.ruleHits, _ = m.Int64Counter("orders.discount.rule_hits",
		metric.WithDescription("Number of orders each discount rule contributed to"))
}

// Quote validates the request, resolves the customer and catalog prices and
// computes the discount without persisting anything.
func (s *Service) Quote(ctx context.Context, req CreateRequest) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and collect product IDs.
	ids := make([]int64, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	c, err := s.customers.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	productMap := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Build lines and the pricing snapshot.
	items := make([]Item, len(req.Items))
	snapshot := discount.Order{
		Items:    make([]discount.Item, len(req.Items)),
		Customer: c,
	}
	total := decimal.Zero
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		items[i] = Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
			Discount:    decimal.Zero,
		}
		snapshot.Items[i] = discount.Item{Quantity: item.Quantity, UnitPrice: p.Price}
		total = total.Add(items[i].LineTotal())
	}
	snapshot.TotalAmount = total

	res := s.pricer.Evaluate(snapshot)
	discountAmount := res.Total.Round(2)
	applied := make([]AppliedDiscount, len(res.Applied))
	for i, a := range res.Applied {
		applied[i] = AppliedDiscount{Rule: a.Rule, Amount: a.Amount.Round(2)}
	}

	span.SetAttributes(
		attribute.Int64("customer.id", c.ID),
		attribute.String("customer.segment", c.Segment.String()),
		attribute.String("order.total", total.String()),
		attribute.String("order.discount", discountAmount.String()),
	)

	return &Quote{
		Customer:       *c,
		Items:          items,
		TotalAmount:    total,
		DiscountAmount: discountAmount,
		FinalAmount:    total.Sub(discountAmount),
		Discounts:      applied,
	}, nil
}

// CreateOrder prices the request, persists the order as Pending together with
// its initial status change and publishes an order.created event.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		Number:         uuid.New().String(),
		PlacedAt:       now,
		Status:         StatusPending,
		CustomerID:     q.Customer.ID,
		CustomerName:   q.Customer.Name,
		Segment:        q.Customer.Segment,
		Items:          q.Items,
		TotalAmount:    q.TotalAmount,
		DiscountAmount: q.DiscountAmount,
		FinalAmount:    q.FinalAmount,
		Discounts:      q.Discounts,
		History: []StatusChange{{
			OldStatus: StatusPending,
			NewStatus: StatusPending,
			ChangedAt: now,
			ChangedBy: defaultChangedBy,
			Notes:     "Order created",
		}},
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.invalidateAnalytics(ctx)

	segment := attribute.String("segment", o.Segment.String())
	s.ordersCreated.Add(ctx, 1, metric.WithAttributes(segment))
	s.discountSize.Record(ctx, o.DiscountAmount.InexactFloat64(), metric.WithAttributes(segment))
	for _, a := range o.Discounts {
		s.ruleHits.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", a.Rule)))
	}

	s.publish(ctx, Event{
		Type:           EventCreated,
		OrderID:        o.ID,
		Number:         o.Number,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		PreviousStatus: o.Status,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		At:             now,
	})

	zctx.From(ctx).Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.String("number", o.Number),
		zap.Int64("customer_id", o.CustomerID),
		zap.Stringer("total", o.TotalAmount),
		zap.Stringer("discount", o.DiscountAmount),
	)

	return o, nil
}

// GetOrder returns an order with its items and history.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListCustomerOrders returns a customer's orders, newest first.
func (s *Service) ListCustomerOrders(ctx context.Context, customerID int64) ([]Order, error) {
	orders, err := s.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	return orders, nil
}

// ListByStatus returns all orders currently in status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	}
	orders, err := s.orders.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order to a new status and records the change.
// It returns ErrNotFound when the order does not exist.
func (s *Service) UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) error {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	if !upd.NewStatus.Valid() {
		return &ValidationError{Field: "newStatus", Reason: "unknown status"}
	}
	changedBy := upd.ChangedBy
	if changedBy == "" {
		changedBy = defaultChangedBy
	}
	if len(changedBy) > maxChangedByLen {
		return &ValidationError{Field: "changedBy", Reason: fmt.Sprintf("longer than %d characters", maxChangedByLen)}
	}
	if len(upd.Notes) > maxNotesLen {
		return &ValidationError{Field: "notes", Reason: fmt.Sprintf("longer than %d characters", maxNotesLen)}
	}

	change := &StatusChange{
		OrderID:   id,
		NewStatus: upd.NewStatus,
		ChangedAt: s.now().UTC(),
		ChangedBy: changedBy,
		Notes:     upd.Notes,
	}
	if err := s.orders.ChangeStatus(ctx, change); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("change status: %w", err)
	}
	s.invalidateAnalytics(ctx)

	span.SetAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status.old", change.OldStatus.String()),
		attribute.String("order.status.new", change.NewStatus.String()),
	)

	s.publish(ctx, Event{
		Type:           EventStatusChanged,
		OrderID:        id,
		Status:         change.NewStatus,
		PreviousStatus: change.OldStatus,
		At:             change.ChangedAt,
	})
	return nil
}

// History returns the status changes of an order, newest first.
func (s *Service) History(ctx context.Context, id int64) ([]StatusChange, error) {
	if _, err := s.orders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.orders.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order history: %w", err)
	}
	return history, nil
}

// DeleteOrder removes an order. It returns ErrNotFound when it does not exist.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete order: %w", err)
	}
	s.invalidateAnalytics(ctx)
	s.publish(ctx, Event{Type: EventDeleted, OrderID: id, At: s.now().UTC()})
	return nil
}

// Analytics summarises orders placed in [from, to]. A nil from defaults to
// thirty days before now and a nil to defaults to now.
func (s *Service) Analytics(ctx context.Context, from, to *time.Time) (*Analytics, error) {
	ctx, span := s.tracer.Start(ctx, "order.Analytics")
	defer span.End()

	now := s.now().UTC()
	end := now
	if to != nil {
		end = to.UTC()
	}
	start := now.Add(-defaultWindow)
	if from != nil {
		start = from.UTC()
	}
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	// A window ending at the current instant is never requested twice.
	cacheable := to != nil
	lg := zctx.From(ctx)

	var gen int64
	if cacheable {
		var err error
		if gen, err = s.cache.Generation(ctx); err != nil {
			lg.Warn("Analytics cache generation read failed", zap.Error(err))
			cacheable = false
		}
	}
	if cacheable {
		if a, ok, err := s.cache.Get(ctx, gen, start, end); err != nil {
			lg.Warn("Analytics cache read failed", zap.Error(err))
		} else if ok {
			return a, nil
		}
	}

	orders, err := s.orders.ListPlacedBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	a := Summarize(orders, start, end)

	if cacheable {
		if err := s.cache.Set(ctx, gen, start, end, a); err != nil {
			lg.Warn("Analytics cache write failed", zap.Error(err))
		}
	}
	return a, nil
}

// invalidateAnalytics drops cached summaries after an order write. A failure
// leaves stale entries until they expire, so it is only logged.
func (s *Service) invalidateAnalytics(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Analytics cache invalidation failed", zap.Error(err))
	}
}

// publish delivers e, logging failures. Event delivery never fails the
// operation that produced it.
func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event failed",
			zap.String("type", string(e.Type)),
			zap.Int64("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}
