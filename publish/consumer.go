package publish

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Consumer reads inbound order events off the "OrderUpdate" topic — the same
// topic name SEND_ORDER/CANCEL_ORDER events and the engine's own outbound
// order-update broadcasts share, distinguished by queue rather than topic —
// and hands each one's (symbol, order id) to a handler, normally
// Dispatcher.Submit. A gateway process, not this one, is the producer.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer opens a reader bound to brokers/groupID, subscribed under
// groupID so it only sees the gateway's inbound commands, not this service's
// own published updates.
func NewConsumer(brokers []string, groupID string) *Consumer {
	return &Consumer{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "OrderUpdate",
	})}
}

// Run blocks reading messages until ctx is canceled, calling handle(symbol,
// orderID) for each decodable event. A message that fails to decode is
// logged and skipped rather than blocking the partition forever.
func (c *Consumer) Run(ctx context.Context, handle func(symbol string, orderID uuid.UUID)) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Error().Err(err).Msg("consumer: malformed envelope")
			c.reader.CommitMessages(ctx, msg)
			continue
		}
		var payload OrderPayload
		if err := json.Unmarshal(env.Event, &payload); err != nil {
			log.Error().Err(err).Msg("consumer: malformed order event")
			c.reader.CommitMessages(ctx, msg)
			continue
		}
		orderID, err := uuid.Parse(payload.ID)
		if err != nil {
			log.Error().Err(err).Str("id", payload.ID).Msg("consumer: malformed order id")
			c.reader.CommitMessages(ctx, msg)
			continue
		}

		handle(payload.Symbol, orderID)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("consumer: commit failed")
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
