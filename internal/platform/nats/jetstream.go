package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig defines the configuration for a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	Retention jetstream.RetentionPolicy
	MaxAge    time.Duration
	MaxBytes  int64
	Replicas  int
	// Duplicates is the window in which a repeated message id is dropped.
	Duplicates  time.Duration
	Description string
}

// PurchasesStreamConfig returns the stream capturing every purchase subject
// under base.
func PurchasesStreamConfig(name, base string) StreamConfig {
	return StreamConfig{
		Name:        name,
		Subjects:    []string{SubjectWildcard(base)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Replicas:    1,
		Duplicates:  24 * time.Hour,
		Description: "Presale purchase alerts",
	}
}

// EnsureStream creates or updates a stream. Safe to call repeatedly.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   cfg.Retention,
		MaxAge:      cfg.MaxAge,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.Duplicates,
		Description: cfg.Description,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// EnsureConsumer creates or updates a durable consumer reading subjects
// matching filter.
func EnsureConsumer(ctx context.Context, stream jetstream.Stream, name, filter string) (jetstream.Consumer, error) {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: filter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", name, err)
	}
	return consumer, nil
}

// SubjectForPurchase returns <base>.<chain>.<tier>, lowercased.
func SubjectForPurchase(base, chain, tier string) string {
	return fmt.Sprintf("%s.%s.%s", base, strings.ToLower(chain), strings.ToLower(tier))
}

// SubjectWildcard matches every purchase subject under base.
func SubjectWildcard(base string) string {
	return base + ".>"
}
