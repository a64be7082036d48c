package order

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/discount"
	"github.com/xenking/order-management/internal/domain/product"
)

// --- Mock implementations ---

type mockCustomerRepo struct {
	byID map[int64]*customer.Customer
}

func (m *mockCustomerRepo) Create(_ context.Context, c *customer.Customer) error {
	c.ID = int64(len(m.byID) + 1)
	m.byID[c.ID] = c
	return nil
}

func (m *mockCustomerRepo) GetByID(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return c, nil
}

func (m *mockCustomerRepo) List(_ context.Context) ([]customer.Customer, error) {
	return nil, nil
}

type mockProductRepo struct {
	byID   map[int64]product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrderRepo struct {
	orders        map[int64]*Order
	changes       []StatusChange
	createErr     error
	historyErr    error
	statusChanges int
	placed        []Order
}

func newOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[int64]*Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	// Nothing is kept when any part of the write fails.
	if len(o.History) > 0 && m.historyErr != nil {
		return m.historyErr
	}
	o.ID = int64(len(m.orders) + 1)
	for i := range o.History {
		o.History[i].OrderID = o.ID
		o.History[i].ID = int64(len(m.changes) + 1)
		m.changes = append(m.changes, o.History[i])
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) ListByCustomer(_ context.Context, customerID int64) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ListByStatus(_ context.Context, status Status) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ListPlacedBetween(_ context.Context, from, to time.Time) ([]Order, error) {
	out := slices.Clone(m.placed)
	for _, o := range m.orders {
		if !o.PlacedAt.Before(from) && !o.PlacedAt.After(to) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ChangeStatus(_ context.Context, change *StatusChange) error {
	m.statusChanges++
	o, ok := m.orders[change.OrderID]
	if !ok {
		return ErrNotFound
	}
	change.OldStatus = o.Status
	change.ID = int64(len(m.changes) + 1)
	o.Status = change.NewStatus
	m.changes = append(m.changes, *change)
	return nil
}

func (m *mockOrderRepo) History(_ context.Context, orderID int64) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range slices.Backward(m.changes) {
		if c.OrderID == orderID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	return nil
}

type mockPublisher struct {
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e Event) error {
	m.events = append(m.events, e)
	return m.err
}

type cacheKey struct {
	gen      int64
	from, to time.Time
}

type mockCache struct {
	gen     int64
	entries map[cacheKey]*Analytics
	sets    int
}

func (m *mockCache) Generation(context.Context) (int64, error) {
	return m.gen, nil
}

func (m *mockCache) Get(_ context.Context, gen int64, from, to time.Time) (*Analytics, bool, error) {
	a, ok := m.entries[cacheKey{gen, from, to}]
	return a, ok, nil
}

func (m *mockCache) Set(_ context.Context, gen int64, from, to time.Time, a *Analytics) error {
	if m.entries == nil {
		m.entries = make(map[cacheKey]*Analytics)
	}
	m.entries[cacheKey{gen, from, to}] = a
	m.sets++
	return nil
}

func (m *mockCache) Invalidate(context.Context) error {
	m.gen++
	return nil
}

// --- Helpers ---

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fixture struct {
	svc    *Service
	orders *mockOrderRepo
	events *mockPublisher
	cache  *mockCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	customers := &mockCustomerRepo{byID: map[int64]*customer.Customer{
		1: {ID: 1, Name: "Alice", Segment: customer.SegmentStandard},
		2: {ID: 2, Name: "Bob", Segment: customer.SegmentPlatinum},
	}}
	products := &mockProductRepo{byID: map[int64]product.Product{
		10: {ID: 10, Name: "Widget", Price: dec("10.00")},
		20: {ID: 20, Name: "Gadget", Price: dec("100.00")},
	}}
	f := &fixture{
		orders: newOrderRepo(),
		events: &mockPublisher{},
		cache:  &mockCache{},
	}
	f.svc = NewService(customers, products, f.orders, discount.NewEngine(discount.DefaultRules()),
		WithPublisher(f.events),
		WithAnalyticsCache(f.cache),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

// --- Tests ---

func TestCreateOrder_EmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{CustomerID: 1})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 0}},
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, int64(10), iqErr.ProductID)
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 99, Quantity: 1}},
	})

	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, int64(99), pnfErr.ProductID)
}

func TestCreateOrder_CustomerNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 42,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 1}},
	})
	require.ErrorIs(t, err, customer.ErrNotFound)
}

func TestCreateOrder_StandardNoDiscount(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items: []ItemRequest{
			{ProductID: 10, Quantity: 2},
			{ProductID: 20, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.True(t, dec("120.00").Equal(o.TotalAmount))
	assert.True(t, decimal.Zero.Equal(o.DiscountAmount))
	assert.True(t, dec("120.00").Equal(o.FinalAmount))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "Alice", o.CustomerName)
	assert.NotEmpty(t, o.Number)
	assert.Equal(t, fixedNow, o.PlacedAt)
	assert.Empty(t, o.Discounts)

	require.Len(t, o.History, 1)
	assert.Equal(t, StatusPending, o.History[0].OldStatus)
	assert.Equal(t, StatusPending, o.History[0].NewStatus)
	assert.Equal(t, "System", o.History[0].ChangedBy)
	assert.Equal(t, "Order created", o.History[0].Notes)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventCreated, f.events.events[0].Type)
	assert.Equal(t, o.ID, f.events.events[0].OrderID)
}

func TestCreateOrder_PlatinumBulkHighValue(t *testing.T) {
	f := newFixture(t)

	// 9 gadgets and 10 widgets: 1000.00 over 19 units.
	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 2,
		Items: []ItemRequest{
			{ProductID: 20, Quantity: 9},
			{ProductID: 10, Quantity: 10},
		},
	})
	require.NoError(t, err)

	// 15% of 1000 = 150, bulk 19 units capped at 10% = 100, high value 50.
	assert.True(t, dec("1000.00").Equal(o.TotalAmount))
	assert.True(t, dec("300").Equal(o.DiscountAmount))
	assert.True(t, dec("700").Equal(o.FinalAmount))

	rules := make([]string, len(o.Discounts))
	for i, a := range o.Discounts {
		rules[i] = a.Rule
	}
	assert.Equal(t, []string{discount.RuleSegmentTier, discount.RuleBulkQuantity, discount.RuleHighValue}, rules)
}

func TestCreateOrder_CreateError(t *testing.T) {
	f := newFixture(t)
	f.orders.createErr = errors.New("db write failed")

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 1}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Empty(t, f.events.events)
}

func TestCreateOrder_HistoryWrittenWithOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.historyErr = errors.New("history insert failed")

	_, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.orders.changes)
	assert.Empty(t, f.events.events)

	f.orders.historyErr = nil
	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Zero(t, f.orders.statusChanges)
	require.Len(t, f.orders.changes, 1)
	assert.Equal(t, o.ID, f.orders.changes[0].OrderID)
	assert.Equal(t, "Order created", f.orders.changes[0].Notes)
}

func TestCreateOrder_PublishFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	o, err := f.svc.CreateOrder(context.Background(), CreateRequest{
		CustomerID: 1,
		Items:      []ItemRequest{{ProductID: 10, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
}

func TestQuote_DoesNotPersist(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(context.Background(), CreateRequest{
		CustomerID: 2,
		Items:      []ItemRequest{{ProductID: 20, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, dec("200.00").Equal(q.TotalAmount))
	assert.True(t, dec("30").Equal(q.DiscountAmount))
	assert.True(t, dec("170").Equal(q.FinalAmount))
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.events.events)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, CreateRequest{CustomerID: 1, Items: []ItemRequest{{ProductID: 10, Quantity: 1}}})
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, StatusUpdate{NewStatus: StatusProcessing}))
	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, StatusUpdate{
		NewStatus: StatusShipped, ChangedBy: "warehouse", Notes: "left the dock",
	}))

	history, err := f.svc.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, StatusProcessing, history[0].OldStatus)
	assert.Equal(t, StatusShipped, history[0].NewStatus)
	assert.Equal(t, "warehouse", history[0].ChangedBy)
	assert.Equal(t, "System", history[1].ChangedBy)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, EventStatusChanged, last.Type)
	assert.Equal(t, StatusProcessing, last.PreviousStatus)
	assert.Equal(t, StatusShipped, last.Status)
}

func TestUpdateStatus_Validation(t *testing.T) {
	long := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = 'x'
		}
		return string(b)
	}

	tests := []struct {
		name  string
		upd   StatusUpdate
		field string
	}{
		{name: "unknown status", upd: StatusUpdate{NewStatus: Status(42)}, field: "newStatus"},
		{name: "changed by too long", upd: StatusUpdate{NewStatus: StatusShipped, ChangedBy: long(101)}, field: "changedBy"},
		{name: "notes too long", upd: StatusUpdate{NewStatus: StatusShipped, Notes: long(501)}, field: "notes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			err := f.svc.UpdateStatus(context.Background(), 1, tt.upd)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.UpdateStatus(context.Background(), 7, StatusUpdate{NewStatus: StatusShipped})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHistory_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.History(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, CreateRequest{CustomerID: 1, Items: []ItemRequest{{ProductID: 10, Quantity: 1}}})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, o.ID))
	_, err = f.svc.GetOrder(ctx, o.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteOrder(ctx, o.ID), ErrNotFound)
}

func TestListByStatus_Invalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListByStatus(context.Background(), Status(-1))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestAnalytics_InvalidRange(t *testing.T) {
	f := newFixture(t)
	from := fixedNow
	to := fixedNow.Add(-time.Hour)

	_, err := f.svc.Analytics(context.Background(), &from, &to)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestAnalytics_DefaultWindow(t *testing.T) {
	f := newFixture(t)
	f.orders.placed = []Order{
		{Status: StatusDelivered, FinalAmount: dec("100"), Segment: customer.SegmentGold},
		{Status: StatusPending, FinalAmount: dec("50"), Segment: customer.SegmentGold},
	}

	a, err := f.svc.Analytics(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, a.To)
	assert.Equal(t, fixedNow.Add(-30*24*time.Hour), a.From)
	assert.Equal(t, 2, a.TotalOrders)
	assert.True(t, dec("100").Equal(a.TotalRevenue))

	// Windows ending at the current instant are not cached.
	assert.Zero(t, f.cache.sets)
}

func TestAnalytics_CachedWindow(t *testing.T) {
	f := newFixture(t)
	from, to := fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour)
	f.orders.placed = []Order{{Status: StatusDelivered, FinalAmount: dec("100"), Segment: customer.SegmentGold}}

	a, err := f.svc.Analytics(context.Background(), &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 1, a.TotalOrders)
	assert.Equal(t, 1, f.cache.sets)

	f.orders.placed = nil
	cached, err := f.svc.Analytics(context.Background(), &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalOrders)
	assert.Equal(t, 1, f.cache.sets)
}

func TestAnalytics_OrderWritesInvalidateCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from, to := fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour)

	o, err := f.svc.CreateOrder(ctx, CreateRequest{CustomerID: 1, Items: []ItemRequest{{ProductID: 10, Quantity: 1}}})
	require.NoError(t, err)

	before, err := f.svc.Analytics(ctx, &from, &to)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusPending: 1}, before.OrdersByStatus)
	assert.True(t, decimal.Zero.Equal(before.TotalRevenue))

	require.NoError(t, f.svc.UpdateStatus(ctx, o.ID, StatusUpdate{NewStatus: StatusDelivered}))

	after, err := f.svc.Analytics(ctx, &from, &to)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusDelivered: 1}, after.OrdersByStatus)
	assert.True(t, dec("10.00").Equal(after.TotalRevenue), after.TotalRevenue.String())

	require.NoError(t, f.svc.DeleteOrder(ctx, o.ID))

	gone, err := f.svc.Analytics(ctx, &from, &to)
	require.NoError(t, err)
	assert.Zero(t, gone.TotalOrders)
	assert.Equal(t, int64(3), f.cache.gen)
}
