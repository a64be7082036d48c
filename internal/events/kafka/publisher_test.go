package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-management/internal/domain/order"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func fields(t *testing.T, data []byte) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out[key] = raw.String()
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{w: w}
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), order.Event{
		Type:           order.EventCreated,
		OrderID:        42,
		Number:         "n-42",
		CustomerID:     7,
		Status:         order.StatusPending,
		PreviousStatus: order.StatusPending,
		TotalAmount:    decimal.RequireFromString("1000"),
		DiscountAmount: decimal.RequireFromString("300"),
		FinalAmount:    decimal.RequireFromString("700"),
		At:             at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte("order.created")}}, msg.Headers)

	got := fields(t, msg.Value)
	assert.Equal(t, `"order.created"`, got["type"])
	assert.Equal(t, `42`, got["orderId"])
	assert.Equal(t, `7`, got["customerId"])
	assert.Equal(t, `"Pending"`, got["status"])
	assert.Equal(t, `"300.00"`, got["discountAmount"])
	assert.Equal(t, `"2025-03-01T10:00:00Z"`, got["at"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_DeletedEventOmitsStatus(t *testing.T) {
	got := fields(t, EncodeEvent(order.Event{Type: order.EventDeleted, OrderID: 3}))

	assert.NotContains(t, got, "status")
	assert.NotContains(t, got, "totalAmount")
	assert.Equal(t, `3`, got["orderId"])
}

func TestPublisher_WriteError(t *testing.T) {
	p := &Publisher{w: &fakeWriter{err: errors.New("leader not available")}}

	err := p.Publish(context.Background(), order.Event{Type: order.EventStatusChanged, OrderID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write order.status_changed")
}
