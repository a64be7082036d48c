package customer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Segment is the customer tier. Higher values receive more preferential
// treatment.
type Segment int

const (
	SegmentStandard Segment = iota
	SegmentPremium
	SegmentGold
	SegmentPlatinum
)

var segmentNames = [...]string{
	SegmentStandard: "Standard",
	SegmentPremium:  "Premium",
	SegmentGold:     "Gold",
	SegmentPlatinum: "Platinum",
}

// Segments lists all known segments in ascending order.
func Segments() []Segment {
	return []Segment{SegmentStandard, SegmentPremium, SegmentGold, SegmentPlatinum}
}

func (s Segment) String() string {
	if s < 0 || int(s) >= len(segmentNames) {
		return "Unknown"
	}
	return segmentNames[s]
}

// Valid reports whether s is one of the declared segments.
func (s Segment) Valid() bool {
	return s >= SegmentStandard && s <= SegmentPlatinum
}

// ParseSegment parses a segment name case-insensitively.
func ParseSegment(v string) (Segment, error) {
	for i, name := range segmentNames {
		if strings.EqualFold(name, v) {
			return Segment(i), nil
		}
	}
	return 0, errors.Errorf("unknown customer segment %q", v)
}

// Customer is a buyer placing orders.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Segment   Segment
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// Repository defines persistence operations for customers.
type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, id int64) (*Customer, error)
	List(ctx context.Context) ([]Customer, error)
}
