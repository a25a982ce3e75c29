//go:build integration

package storage

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func getTestDB(t *testing.T) *DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = DefaultConfig().DSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, Config{DSN: dsn})
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestPurchaseRepository_SaveIdempotent(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	repo := NewPurchaseRepository(db)
	ctx := context.Background()

	tokens, _ := new(big.Int).SetString("2500000000000000000000000", 10)
	p := Purchase{
		TxHash:        "0xtest" + uuid.NewString(),
		LogIndex:      3,
		BlockNumber:   19_000_000,
		Buyer:         "0x1111111111111111111111111111111111111111",
		Tokens:        tokens,
		BonusTokens:   new(big.Int).Mul(tokens, big.NewInt(2)),
		Paid:          big.NewInt(1_500_000_000),
		PaymentMethod: "USDT",
		USDValue:      1500,
		Tier:          "WHALE",
		Source:        "push",
		DeliveryID:    uuid.NewString(),
		ObservedAt:    time.Now().UTC(),
	}
	defer db.pool.Exec(ctx, `DELETE FROM purchases WHERE tx_hash = $1`, p.TxHash)

	inserted, err := repo.SavePurchase(ctx, p)
	if err != nil {
		t.Fatalf("SavePurchase failed: %v", err)
	}
	if !inserted {
		t.Fatal("expected first save to insert")
	}

	inserted, err = repo.SavePurchase(ctx, p)
	if err != nil {
		t.Fatalf("second SavePurchase failed: %v", err)
	}
	if inserted {
		t.Error("expected second save to be a no-op")
	}

	got, err := repo.GetPurchase(ctx, p.TxHash)
	if err != nil {
		t.Fatalf("GetPurchase failed: %v", err)
	}
	if got.Tokens.Cmp(tokens) != 0 {
		t.Errorf("Tokens = %s, want %s", got.Tokens, tokens)
	}
	if got.Referrer != "" {
		t.Errorf("Referrer = %q, want empty", got.Referrer)
	}

	latest, err := repo.LatestBlock(ctx)
	if err != nil {
		t.Fatalf("LatestBlock failed: %v", err)
	}
	if latest < 19_000_000 {
		t.Errorf("LatestBlock = %d, want >= 19000000", latest)
	}
}

func TestPurchaseRepository_NotFound(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	_, err := NewPurchaseRepository(db).GetPurchase(context.Background(), "0xmissing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
