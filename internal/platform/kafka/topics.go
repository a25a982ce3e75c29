// Package kafka manages the Kafka/Redpanda topic that purchase alerts are
// produced to.
package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicConfig defines the configuration for a Kafka topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       int64
	CleanupPolicy     string
}

// PurchasesTopicConfig returns the purchase topic configuration. Records
// are keyed by transaction hash, so compaction keeps one record per purchase.
func PurchasesTopicConfig(name string, partitions int32) TopicConfig {
	if partitions <= 0 {
		partitions = 3
	}
	return TopicConfig{
		Name:              name,
		Partitions:        partitions,
		ReplicationFactor: 1,
		RetentionMs:       30 * 24 * 60 * 60 * 1000, // 30 days
		CleanupPolicy:     "compact,delete",
	}
}

// TopicManager manages Kafka topics.
type TopicManager struct {
	admin *kadm.Client
}

// NewTopicManager creates an admin client for brokers.
func NewTopicManager(brokers []string) (*TopicManager, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &TopicManager{admin: kadm.NewClient(client)}, nil
}

// EnsureTopics creates topics that do not exist yet.
func (m *TopicManager) EnsureTopics(ctx context.Context, configs ...TopicConfig) error {
	existing, err := m.admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, cfg := range configs {
		if existing.Has(cfg.Name) {
			continue
		}
		if err := m.createTopic(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) createTopic(ctx context.Context, cfg TopicConfig) error {
	resp, err := m.admin.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, topicConfigs(cfg), cfg.Name)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", cfg.Name, err)
	}

	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Close releases resources.
func (m *TopicManager) Close() {
	m.admin.Close()
}

func topicConfigs(cfg TopicConfig) map[string]*string {
	retention := strconv.FormatInt(cfg.RetentionMs, 10)
	policy := cfg.CleanupPolicy
	return map[string]*string{
		"retention.ms":   &retention,
		"cleanup.policy": &policy,
	}
}
