// Package rediscache caches computed order analytics in Redis.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/order"
)

const (
	keyPrefix     = "orders:analytics"
	generationKey = keyPrefix + ":generation"
)

var _ order.AnalyticsCache = (*AnalyticsCache)(nil)

// AnalyticsCache implements order.AnalyticsCache on a Redis client. Entries
// expire after ttl; the generation counter never expires.
type AnalyticsCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewAnalyticsCache returns a cache storing entries for ttl.
func NewAnalyticsCache(rdb redis.Cmdable, ttl time.Duration) *AnalyticsCache {
	return &AnalyticsCache{rdb: rdb, ttl: ttl}
}

// Key returns the cache key of the [from, to] window in generation gen.
func Key(gen int64, from, to time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%d", keyPrefix, gen, from.UnixNano(), to.UnixNano())
}

// Generation returns the current generation, zero before the first
// invalidation.
func (c *AnalyticsCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, generationKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "redis get generation")
	}
	return gen, nil
}

// Invalidate starts a new generation. Entries of older generations are left
// to expire.
func (c *AnalyticsCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, generationKey).Err(); err != nil {
		return errors.Wrap(err, "redis incr generation")
	}
	return nil
}

// Get returns the cached analytics for the window, if any.
func (c *AnalyticsCache) Get(ctx context.Context, gen int64, from, to time.Time) (*order.Analytics, bool, error) {
	data, err := c.rdb.Get(ctx, Key(gen, from, to)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "redis get")
	}

	a, err := decodeAnalytics(data)
	if err != nil {
		return nil, false, errors.Wrap(err, "decode analytics")
	}
	return a, true, nil
}

// Set stores a for the window in generation gen.
func (c *AnalyticsCache) Set(ctx context.Context, gen int64, from, to time.Time, a *order.Analytics) error {
	if err := c.rdb.Set(ctx, Key(gen, from, to), encodeAnalytics(a), c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func encodeAnalytics(a *order.Analytics) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("from")
	e.Str(a.From.Format(time.RFC3339Nano))
	e.FieldStart("to")
	e.Str(a.To.Format(time.RFC3339Nano))
	e.FieldStart("totalOrders")
	e.Int(a.TotalOrders)
	e.FieldStart("totalRevenue")
	e.Str(a.TotalRevenue.String())
	e.FieldStart("averageOrderValue")
	e.Str(a.AverageOrderValue.String())
	e.FieldStart("averageFulfillmentNs")
	e.Int64(int64(a.AverageFulfillmentTime))
	e.FieldStart("byStatus")
	e.ObjStart()
	for _, s := range order.Statuses() {
		if n, ok := a.OrdersByStatus[s]; ok {
			e.FieldStart(s.String())
			e.Int(n)
		}
	}
	e.ObjEnd()
	e.FieldStart("bySegment")
	e.ObjStart()
	for _, s := range customer.Segments() {
		if n, ok := a.OrdersBySegment[s]; ok {
			e.FieldStart(s.String())
			e.Int(n)
		}
	}
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}

func decodeAnalytics(data []byte) (*order.Analytics, error) {
	a := &order.Analytics{
		OrdersByStatus:  make(map[order.Status]int),
		OrdersBySegment: make(map[customer.Segment]int),
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "from", "to":
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return errors.Wrapf(err, "parse %s", key)
			}
			if key == "from" {
				a.From = t
			} else {
				a.To = t
			}
		case "totalOrders":
			v, err := d.Int()
			if err != nil {
				return err
			}
			a.TotalOrders = v
		case "totalRevenue", "averageOrderValue":
			v, err := d.Str()
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s", key)
			}
			if key == "totalRevenue" {
				a.TotalRevenue = amount
			} else {
				a.AverageOrderValue = amount
			}
		case "averageFulfillmentNs":
			v, err := d.Int64()
			if err != nil {
				return err
			}
			a.AverageFulfillmentTime = time.Duration(v)
		case "byStatus":
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := order.ParseStatus(name)
				if err != nil {
					return err
				}
				n, err := d.Int()
				a.OrdersByStatus[s] = n
				return err
			})
		case "bySegment":
			return d.Obj(func(d *jx.Decoder, name string) error {
				s, err := customer.ParseSegment(name)
				if err != nil {
					return err
				}
				n, err := d.Int()
				a.OrdersBySegment[s] = n
				return err
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
