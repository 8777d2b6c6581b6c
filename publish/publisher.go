package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Publisher produces entity events to the message bus, one Writer per queue
// family (match-engine internal queue vs. downstream publish queue) so each
// can be pointed at distinct brokers/topics in production.
type Publisher struct {
	writers map[Queue]*kafka.Writer
}

// NewPublisher builds a Publisher whose writers share bootstrap servers.
// Per-message Topic overrides the (empty) Writer.Topic, matching kafka-go's
// documented per-message topic support.
func NewPublisher(brokers []string) *Publisher {
	writers := make(map[Queue]*kafka.Writer, 2)
	for _, q := range []Queue{QueueMatchEngine, QueuePublish} {
		writers[q] = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
		}
	}
	return &Publisher{writers: writers}
}

// envelope is the wire format of every outbound event: same shape for every
// kind, matching §6.
type envelope struct {
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Timestamp int64           `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

// Publish marshals payload (a struct of the entity's public fields built by
// the caller) to JSON and writes it to every queue kind's routing table entry
// names, at-least-once.
func (p *Publisher) Publish(ctx context.Context, kind Kind, symbol, account string, payload any) error {
	r, ok := routingTable[kind]
	if !ok {
		log.Warn().Int("kind", int(kind)).Msg("publish: unknown event kind")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	topic := r.topic(symbol, account)
	key := r.key(symbol, account)
	env := envelope{
		Topic:     topic,
		Key:       key,
		Timestamp: time.Now().UnixMilli(),
		Event:     body,
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return err
	}

	for _, queueName := range r.queues {
		writer, ok := p.writers[queueName]
		if !ok {
			continue
		}
		msg := kafka.Message{Topic: topic, Key: []byte(key), Value: encoded}
		if err := writer.WriteMessages(ctx, msg); err != nil {
			log.Error().Err(err).Str("topic", topic).Str("queue", string(queueName)).Msg("publish failed")
			return err
		}
	}
	return nil
}

// Close flushes and closes every underlying writer.
func (p *Publisher) Close() error {
	var lastErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
