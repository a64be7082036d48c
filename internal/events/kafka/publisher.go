// Package kafka publishes order lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/order-management/internal/domain/order"
)

// DefaultTopic receives order events unless configured otherwise.
const DefaultTopic = "orders.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher writes order events as JSON messages keyed by order ID, so all
// events of one order land on the same partition.
type Publisher struct {
	w messageWriter
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// Publish writes e to the topic.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.OrderID, 10)),
		Value: EncodeEvent(e),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s", e.Type)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// EncodeEvent renders e as a JSON object.
func EncodeEvent(e order.Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("orderId")
	enc.Int64(e.OrderID)
	if e.Number != "" {
		enc.FieldStart("number")
		enc.Str(e.Number)
	}
	if e.CustomerID != 0 {
		enc.FieldStart("customerId")
		enc.Int64(e.CustomerID)
	}
	if e.Type != order.EventDeleted {
		enc.FieldStart("status")
		enc.Str(e.Status.String())
		enc.FieldStart("previousStatus")
		enc.Str(e.PreviousStatus.String())
	}
	if e.Type == order.EventCreated {
		enc.FieldStart("totalAmount")
		enc.Str(e.TotalAmount.StringFixed(2))
		enc.FieldStart("discountAmount")
		enc.Str(e.DiscountAmount.StringFixed(2))
		enc.FieldStart("finalAmount")
		enc.Str(e.FinalAmount.StringFixed(2))
	}
	enc.FieldStart("at")
	enc.Str(e.At.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
	return enc.Bytes()
}
