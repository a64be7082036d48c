package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// Status is the fulfilment state of an order.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusShipped
	StatusDelivered
	StatusCancelled
	StatusReturned
)

var statusNames = [...]string{
	StatusPending:    "Pending",
	StatusProcessing: "Processing",
	StatusShipped:    "Shipped",
	StatusDelivered:  "Delivered",
	StatusCancelled:  "Cancelled",
	StatusReturned:   "Returned",
}

// Statuses lists all statuses in declaration order.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned}
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusReturned
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, v) {
			return Status(i), nil
		}
	}
	return 0, errors.Errorf("unknown order status %q", v)
}

// Order is a placed customer order with pricing and fulfilment history.
type Order struct {
	ID             int64
	Number         string
	PlacedAt       time.Time
	Status         Status
	CustomerID     int64
	CustomerName   string
	Segment        customer.Segment
	Items          []Item
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Discounts      []AppliedDiscount
	History        []StatusChange
}

// Item is a single order line.
type Item struct {
	ID          int64
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
}

// LineTotal returns UnitPrice * Quantity minus the line discount.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Sub(i.Discount)
}

// AppliedDiscount is a discount rule contribution stored with the order.
type AppliedDiscount struct {
	Rule   string
	Amount decimal.Decimal
}

// StatusChange records a single status transition.
type StatusChange struct {
	ID        int64
	OrderID   int64
	OldStatus Status
	NewStatus Status
	ChangedAt time.Time
	ChangedBy string
	Notes     string
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create atomically persists o with its items, applied discounts and
	// history entries, assigning IDs.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	// ListPlacedBetween returns orders placed in [from, to] including their
	// status history.
	ListPlacedBetween(ctx context.Context, from, to time.Time) ([]Order, error)
	// ChangeStatus sets the order status and appends change to its history.
	// change.OldStatus is filled from the stored order.
	ChangeStatus(ctx context.Context, change *StatusChange) error
	History(ctx context.Context, orderID int64) ([]StatusChange, error)
	Delete(ctx context.Context, id int64) error
}
