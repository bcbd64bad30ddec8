// Package kafka publishes order events to Kafka.
package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

var _ order.Publisher = (*Publisher)(nil)

// Config configures the producer.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewProducerConfig returns the sarama settings used for order events.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// Publisher implements order.Publisher with a synchronous producer. Events
// are keyed by order ID so one order's events stay ordered.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a producer to the brokers.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
	if err != nil {
		return nil, errors.Wrap(err, "create producer")
	}
	return NewPublisherWithProducer(p, cfg.Topic), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(p sarama.SyncProducer, topic string) *Publisher {
	if topic == "" {
		topic = "orders"
	}
	return &Publisher{producer: p, topic: topic}
}

// Publish sends e and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.OrderID),
		Value: sarama.ByteEncoder(EncodeEvent(e)),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
		},
		Timestamp: e.At,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "send %s", e.Type)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// EncodeEvent renders e as a JSON object.
func EncodeEvent(e order.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(e.Type) })
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		if e.TrackingNumber != "" {
			enc.Field("tracking_number", func(enc *jx.Encoder) { enc.Str(e.TrackingNumber) })
		}
		if e.Status != "" {
			enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(e.Status)) })
		}
		if e.PaymentStatus != "" {
			enc.Field("payment_status", func(enc *jx.Encoder) { enc.Str(string(e.PaymentStatus)) })
		}
		if !e.Total.IsZero() {
			enc.Field("total", func(enc *jx.Encoder) { enc.Str(e.Total.StringFixed(2)) })
		}
		if e.CouponCode != "" {
			enc.Field("coupon_code", func(enc *jx.Encoder) { enc.Str(e.CouponCode) })
		}
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}
