package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/engagement/internal/config"
)

const (
	// TopicPointer carries raw card pointer records from the ingestor
	TopicPointer = "pointer"
	// TopicEngagements carries emitted engagement events
	TopicEngagements = "engagements"
)

var defaultTopics = map[string]string{
	TopicPointer:     "gosight.pointer.raw",
	TopicEngagements: "gosight.engagements",
}

// MessageWriter is the subset of kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writers map[string]MessageWriter
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}

	writers := make(map[string]MessageWriter, len(defaultTopics))
	for name, fallback := range defaultTopics {
		writers[name] = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic(name, fallback),
			Balancer:               &kafka.Hash{},
			BatchSize:              100,
			BatchTimeout:           100 * time.Millisecond,
			Async:                  true,
			AllowAutoTopicCreation: true,
		}
	}

	return &KafkaProducer{writers: writers}, nil
}

// NewWithWriters creates a producer over existing writers, keyed by topic name
func NewWithWriters(writers map[string]MessageWriter) *KafkaProducer {
	return &KafkaProducer{writers: writers}
}

// ProducePointer publishes a pointer record. Records are keyed by browser session so
// that one session's pointer stream stays ordered within a partition.
func (p *KafkaProducer) ProducePointer(ctx context.Context, sessionID string, event interface{}) error {
	return p.produce(ctx, TopicPointer, sessionID, event)
}

// ProduceEngagement publishes an engagement event keyed by suggestion
func (p *KafkaProducer) ProduceEngagement(ctx context.Context, suggestionID string, event interface{}) error {
	return p.produce(ctx, TopicEngagements, suggestionID, event)
}

func (p *KafkaProducer) produce(ctx context.Context, topic, key string, v interface{}) error {
	w, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("no writer for topic %q", topic)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (p *KafkaProducer) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
