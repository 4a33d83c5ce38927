package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gridmarket/certex/internal/domain"
	"github.com/gridmarket/certex/internal/port"
)

var _ port.Publisher = (*Publisher)(nil)

// Publisher emits trade events for settlement and notification consumers.
// Messages are keyed by trade id so at-least-once delivery can be
// deduplicated downstream.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

type tradeEvent struct {
	TradeID    string    `json:"tradeId"`
	ProductID  string    `json:"productId"`
	BidOrderID string    `json:"bidOrderId"`
	AskOrderID string    `json:"askOrderId"`
	Price      int64     `json:"price"`
	Quantity   int64     `json:"quantity"`
	Seq        uint64    `json:"seq"`
	ExecutedAt time.Time `json:"executedAt"`
}

func (p *Publisher) PublishTrades(ctx context.Context, trades []*domain.Trade) error {
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		value, err := json.Marshal(tradeEvent{
			TradeID:    t.ID,
			ProductID:  t.ProductID,
			BidOrderID: t.BidOrderID,
			AskOrderID: t.AskOrderID,
			Price:      t.Price,
			Quantity:   t.Quantity,
			Seq:        t.Seq,
			ExecutedAt: t.ExecutedAt,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.ID),
			Value: value,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
