// Package purchase defines the decoded presale purchase event and the ABI
// decoder that produces it from raw contract logs.
package purchase

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Source identifies which ingestion path observed an event.
type Source string

const (
	SourcePush    Source = "push"
	SourcePoll    Source = "poll"
	SourceCatchUp Source = "catchup"
)

// PaymentETH is the payment method reported for native ETH purchases.
const PaymentETH = "ETH"

// ErrMalformedLog is returned when a contract log cannot be decoded into an Event.
var ErrMalformedLog = errors.New("malformed purchase log")

// Event is one decoded TokensPurchased log. Events are immutable once decoded.
type Event struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64

	Buyer    common.Address
	Referrer common.Address

	// BaseAmount is the purchased token amount (18 decimals).
	BaseAmount *big.Int
	// BonusAmount is the stage bonus credited on top of BaseAmount.
	BonusAmount *big.Int
	// PaidAmount is denominated in PaymentMethod units.
	PaidAmount    *big.Int
	PaymentMethod string

	Source Source
}

// ID returns the deduplication key of the event.
func (e Event) ID() string {
	return e.TxHash
}

// PaidDecimals returns the decimals of the payment asset: 18 for ETH, 6 for stablecoins.
func (e Event) PaidDecimals() int {
	if e.PaymentMethod == PaymentETH {
		return 18
	}
	return 6
}

// Tokens returns the base token amount as a float.
func (e Event) Tokens() float64 {
	return ToFloat(e.BaseAmount, 18)
}

// Bonus returns the bonus token amount as a float.
func (e Event) Bonus() float64 {
	return ToFloat(e.BonusAmount, 18)
}

// Paid returns the paid amount as a float in PaymentMethod units.
func (e Event) Paid() float64 {
	return ToFloat(e.PaidAmount, e.PaidDecimals())
}

// HasReferrer reports whether the purchase carried a non-zero referrer.
func (e Event) HasReferrer() bool {
	return e.Referrer != (common.Address{})
}

// WithSource returns a copy of the event stamped with src.
func (e Event) WithSource(src Source) Event {
	e.Source = src
	return e
}

// ToFloat scales an integer amount down by decimals.
func ToFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return f
}

// Stream is a live subscription of decoded purchase events.
type Stream interface {
	// Events delivers decoded events until the stream fails or is closed.
	Events() <-chan Event
	// Err receives at most one error when the underlying subscription drops.
	Err() <-chan error
	// Close tears down the subscription. Safe to call more than once.
	Close()
}
