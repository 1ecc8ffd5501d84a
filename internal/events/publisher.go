// Package events publishes search activity to Kafka for downstream
// analytics consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// searchEvent is the wire format for a performed search.
type searchEvent struct {
	ProductIDs   []string  `json:"product_ids"`
	ProductNames []string  `json:"product_names"`
	SearchedAt   time.Time `json:"searched_at"`
}

// Publisher emits search events to a Kafka topic. Writes are async and
// best-effort: a broker outage never fails a search.
type Publisher struct {
	writer *kafka.Writer
	now    func() time.Time
}

// NewPublisher returns a Publisher writing to the given broker and topic.
func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		now: time.Now,
	}
}

// SearchPerformed publishes one event per search batch.
func (p *Publisher) SearchPerformed(ctx context.Context, productIDs, productNames []string) {
	if len(productIDs) == 0 {
		return
	}
	value, err := json.Marshal(searchEvent{
		ProductIDs:   productIDs,
		ProductNames: productNames,
		SearchedAt:   p.now().UTC(),
	})
	if err != nil {
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(productIDs[0]),
		Value: value,
	})
	if err != nil {
		zctx.From(ctx).Warn("Publishing search event failed", zap.Error(err))
	}
}

// Close flushes pending messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
