package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound is returned when a purchase does not exist.
var ErrNotFound = errors.New("purchase not found")

// Purchase is a stored purchase row.
type Purchase struct {
	TxHash        string
	LogIndex      int32
	BlockNumber   int64
	Buyer         string
	Referrer      string
	Tokens        *big.Int
	BonusTokens   *big.Int
	Paid          *big.Int
	PaymentMethod string
	USDValue      float64
	Tier          string
	Source        string
	DeliveryID    string
	ObservedAt    time.Time
}

// PurchaseRepository persists purchases.
type PurchaseRepository struct {
	db *DB
}

func NewPurchaseRepository(db *DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// SavePurchase inserts p unless its transaction hash is already stored. It
// reports whether a row was inserted.
func (r *PurchaseRepository) SavePurchase(ctx context.Context, p Purchase) (bool, error) {
	deliveryID, err := uuid.Parse(p.DeliveryID)
	if err != nil {
		return false, fmt.Errorf("parse delivery id: %w", err)
	}

	var referrer *string
	if p.Referrer != "" {
		referrer = &p.Referrer
	}

	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO purchases (
			tx_hash, log_index, block_number, buyer, referrer,
			tokens, bonus_tokens, paid, payment_method, usd_value,
			tier, source, delivery_id, observed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		p.TxHash, p.LogIndex, p.BlockNumber, p.Buyer, referrer,
		numeric(p.Tokens), numeric(p.BonusTokens), numeric(p.Paid), p.PaymentMethod, p.USDValue,
		p.Tier, p.Source, deliveryID, p.ObservedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert purchase: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPurchase loads a purchase by transaction hash.
func (r *PurchaseRepository) GetPurchase(ctx context.Context, txHash string) (*Purchase, error) {
	var (
		p                   Purchase
		referrer            *string
		tokens, bonus, paid pgtype.Numeric
		deliveryID          uuid.UUID
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT tx_hash, log_index, block_number, buyer, referrer,
			tokens, bonus_tokens, paid, payment_method, usd_value,
			tier, source, delivery_id, observed_at
		FROM purchases WHERE tx_hash = $1
	`, txHash).Scan(
		&p.TxHash, &p.LogIndex, &p.BlockNumber, &p.Buyer, &referrer,
		&tokens, &bonus, &paid, &p.PaymentMethod, &p.USDValue,
		&p.Tier, &p.Source, &deliveryID, &p.ObservedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}

	if referrer != nil {
		p.Referrer = *referrer
	}
	p.Tokens = bigInt(tokens)
	p.BonusTokens = bigInt(bonus)
	p.Paid = bigInt(paid)
	p.DeliveryID = deliveryID.String()
	return &p, nil
}

// LatestBlock returns the highest stored block, or 0 when empty.
func (r *PurchaseRepository) LatestBlock(ctx context.Context) (uint64, error) {
	var block *int64
	if err := r.db.pool.QueryRow(ctx, `SELECT MAX(block_number) FROM purchases`).Scan(&block); err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	if block == nil {
		return 0, nil
	}
	return uint64(*block), nil
}

func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: v, Exp: 0, Valid: true}
}

func bigInt(n pgtype.Numeric) *big.Int {
	if !n.Valid || n.Int == nil {
		return new(big.Int)
	}
	out := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	}
	return out
}
