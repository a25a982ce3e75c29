package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marko911/presale-pulse/internal/platform/storage"
)

type purchaseStore interface {
	SavePurchase(ctx context.Context, p storage.Purchase) (bool, error)
}

// Postgres records each purchase. Inserts are idempotent on transaction hash.
type Postgres struct {
	store  purchaseStore
	logger *slog.Logger
}

func NewPostgres(store purchaseStore, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{store: store, logger: logger.With("component", "sink-postgres")}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Publish(ctx context.Context, msg Message) error {
	ev := msg.Event
	inserted, err := p.store.SavePurchase(ctx, storage.Purchase{
		TxHash:        msg.TxHash,
		LogIndex:      int32(msg.LogIndex),
		BlockNumber:   int64(msg.BlockNumber),
		Buyer:         msg.Buyer,
		Referrer:      msg.Referrer,
		Tokens:        ev.BaseAmount,
		BonusTokens:   ev.BonusAmount,
		Paid:          ev.PaidAmount,
		PaymentMethod: msg.PaymentMethod,
		USDValue:      msg.USDValue,
		Tier:          msg.Tier,
		Source:        msg.Source,
		DeliveryID:    msg.DeliveryID,
		ObservedAt:    msg.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("save purchase: %w", err)
	}
	if !inserted {
		p.logger.Debug("purchase already recorded", "tx", msg.TxHash)
	}
	return nil
}
