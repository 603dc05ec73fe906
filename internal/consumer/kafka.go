package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/engagement/internal/config"
)

// MessageProcessor handles decoded pointer records
type MessageProcessor interface {
	Process(ctx context.Context, event map[string]interface{}) error
	Flush()
}

// MessageReader is the subset of kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds pointer records from Kafka into a processor. Records are
// processed one at a time so that each card sees its pointer events in order.
type KafkaConsumer struct {
	reader    MessageReader
	processor MessageProcessor
	topic     string
	group     string
}

// NewKafkaConsumer creates a consumer on the pointer topic
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}
	topic := cfg.Topic("pointer", "gosight.pointer.raw")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return NewWithReader(reader, processor, topic, cfg.ConsumerGroup), nil
}

// NewWithReader creates a consumer over an existing reader
func NewWithReader(reader MessageReader, processor MessageProcessor, topic, group string) *KafkaConsumer {
	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
		topic:     topic,
		group:     group,
	}
}

// Start consumes until ctx is cancelled
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Kafka consumer stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to fetch message")
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
		}
	}
}

// handle never fails the message: a bad record is logged and committed so the
// partition does not stall.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Error().
			Err(err).
			Int64("offset", msg.Offset).
			Str("value", string(msg.Value)).
			Msg("Failed to parse message")
		return
	}

	if err := c.processor.Process(ctx, event); err != nil {
		log.Error().
			Err(err).
			Interface("event", event).
			Msg("Failed to process event")
	}
}

// Close flushes the processor and closes the reader
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	c.processor.Flush()
	return c.reader.Close()
}
