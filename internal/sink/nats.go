package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	pnats "github.com/marko911/presale-pulse/internal/platform/nats"
)

type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes each purchase to JetStream. The transaction hash is the
// message id, so the stream's duplicate window drops republished purchases.
type NATS struct {
	js    jsPublisher
	base  string
	chain string
}

func NewNATS(js jsPublisher, baseSubject, chain string) *NATS {
	return &NATS{js: js, base: baseSubject, chain: chain}
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal purchase: %w", err)
	}

	subject := pnats.SubjectForPurchase(n.base, n.chain, msg.Tier)
	if _, err := n.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.TxHash)); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
