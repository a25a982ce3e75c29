package kafka

import "testing"

func TestPurchasesTopicConfig(t *testing.T) {
	cfg := PurchasesTopicConfig("presale-purchases", 0)

	if cfg.Name != "presale-purchases" {
		t.Errorf("expected topic presale-purchases, got %s", cfg.Name)
	}
	if cfg.Partitions != 3 {
		t.Errorf("expected default 3 partitions, got %d", cfg.Partitions)
	}
	if cfg.CleanupPolicy != "compact,delete" {
		t.Errorf("expected compact,delete policy, got %s", cfg.CleanupPolicy)
	}
}

func TestTopicConfigs(t *testing.T) {
	got := topicConfigs(TopicConfig{RetentionMs: 1000, CleanupPolicy: "delete"})

	if v := got["retention.ms"]; v == nil || *v != "1000" {
		t.Errorf("expected retention.ms 1000, got %v", v)
	}
	if v := got["cleanup.policy"]; v == nil || *v != "delete" {
		t.Errorf("expected cleanup.policy delete, got %v", v)
	}
}
