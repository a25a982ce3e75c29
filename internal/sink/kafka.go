package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/marko911/presale-pulse/internal/config"
)

type kafkaProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka produces each purchase keyed by transaction hash.
type Kafka struct {
	producer kafkaProducer
	topic    string
	chain    string
}

// NewKafka creates a producer for cfg.Topic.
func NewKafka(cfg config.KafkaSinkConfig, chain string) (*Kafka, error) {
	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Kafka{producer: producer, topic: cfg.Topic, chain: chain}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal purchase: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(msg.TxHash),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "delivery_id", Value: []byte(msg.DeliveryID)},
			{Key: "chain", Value: []byte(k.chain)},
			{Key: "tier", Value: []byte(msg.Tier)},
		},
	}

	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce purchase: %w", err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.producer.Close()
}
