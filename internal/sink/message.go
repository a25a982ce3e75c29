package sink

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/marko911/presale-pulse/internal/purchase"
)

// Message is the envelope published for one purchase. Amount strings are
// raw integer base units; the float fields are scaled for display.
type Message struct {
	DeliveryID  string `json:"delivery_id"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`

	Buyer    string `json:"buyer"`
	Referrer string `json:"referrer,omitempty"`

	Tokens        string `json:"tokens"`
	BonusTokens   string `json:"bonus_tokens"`
	Paid          string `json:"paid"`
	PaymentMethod string `json:"payment_method"`

	TokenAmount float64 `json:"token_amount"`
	BonusAmount float64 `json:"bonus_amount"`
	TotalAmount float64 `json:"total_amount"`
	PaidAmount  float64 `json:"paid_amount"`
	USDValue    float64 `json:"usd_value"`
	ETHPrice    float64 `json:"eth_price"`
	Tier        string  `json:"tier"`

	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`

	Event purchase.Event `json:"-"`
}

// NewMessage builds the envelope for ev with a fresh delivery id.
func NewMessage(ev purchase.Event, ethPrice float64, now time.Time) Message {
	msg := Message{
		DeliveryID:    uuid.NewString(),
		TxHash:        ev.TxHash,
		LogIndex:      ev.LogIndex,
		BlockNumber:   ev.BlockNumber,
		Buyer:         ev.Buyer.Hex(),
		Tokens:        bigString(ev.BaseAmount),
		BonusTokens:   bigString(ev.BonusAmount),
		Paid:          bigString(ev.PaidAmount),
		PaymentMethod: ev.PaymentMethod,
		TokenAmount:   ev.Tokens(),
		BonusAmount:   ev.Bonus(),
		TotalAmount:   ev.Tokens() + ev.Bonus(),
		PaidAmount:    ev.Paid(),
		ETHPrice:      ethPrice,
		Tier:          TierFor(ev.Tokens()).Label,
		Source:        string(ev.Source),
		ObservedAt:    now.UTC(),
		Event:         ev,
	}
	if ev.HasReferrer() {
		msg.Referrer = ev.Referrer.Hex()
	}

	msg.USDValue = msg.PaidAmount
	if ev.PaymentMethod == purchase.PaymentETH {
		msg.USDValue = msg.PaidAmount * ethPrice
	}
	return msg
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
