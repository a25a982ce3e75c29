package purchase

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventName is the contract event this package decodes.
const EventName = "TokensPurchased"

// ContractABI is the subset of the presale contract ABI the watcher needs.
const ContractABI = `[{
	"anonymous": false,
	"name": "TokensPurchased",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "buyer",         "type": "address"},
		{"indexed": false, "name": "amount",        "type": "uint256"},
		{"indexed": false, "name": "ethAmount",     "type": "uint256"},
		{"indexed": false, "name": "paymentMethod", "type": "string"},
		{"indexed": true,  "name": "referrer",      "type": "address"}
	]
}]`

// DefaultBonusPercent is the stage 1 bonus: 200% of the purchased amount.
const DefaultBonusPercent = 200

// Decoder turns raw contract logs into purchase events.
type Decoder struct {
	abi          abi.ABI
	event        abi.Event
	bonusPercent int64
}

// NewDecoder parses the contract ABI. bonusPercent <= 0 selects DefaultBonusPercent.
func NewDecoder(bonusPercent int) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	ev, ok := parsed.Events[EventName]
	if !ok {
		return nil, fmt.Errorf("event %s missing from abi", EventName)
	}
	if bonusPercent <= 0 {
		bonusPercent = DefaultBonusPercent
	}
	return &Decoder{abi: parsed, event: ev, bonusPercent: int64(bonusPercent)}, nil
}

// Topic returns the event signature hash used to filter logs.
func (d *Decoder) Topic() common.Hash {
	return d.event.ID
}

// Decode converts a single log. Logs that do not match the event layout
// return an error wrapping ErrMalformedLog.
func (d *Decoder) Decode(log types.Log) (Event, error) {
	if len(log.Topics) != 3 {
		return Event{}, fmt.Errorf("%w: expected 3 topics, got %d", ErrMalformedLog, len(log.Topics))
	}
	if log.Topics[0] != d.event.ID {
		return Event{}, fmt.Errorf("%w: unexpected signature %s", ErrMalformedLog, log.Topics[0].Hex())
	}
	if log.TxHash == (common.Hash{}) {
		return Event{}, fmt.Errorf("%w: missing transaction hash", ErrMalformedLog)
	}

	values, err := d.abi.Unpack(EventName, log.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: unpack data: %v", ErrMalformedLog, err)
	}
	if len(values) != 3 {
		return Event{}, fmt.Errorf("%w: expected 3 data fields, got %d", ErrMalformedLog, len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return Event{}, fmt.Errorf("%w: amount has type %T", ErrMalformedLog, values[0])
	}
	paid, ok := values[1].(*big.Int)
	if !ok {
		return Event{}, fmt.Errorf("%w: ethAmount has type %T", ErrMalformedLog, values[1])
	}
	method, ok := values[2].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: paymentMethod has type %T", ErrMalformedLog, values[2])
	}

	bonus := new(big.Int).Mul(amount, big.NewInt(d.bonusPercent))
	bonus.Quo(bonus, big.NewInt(100))

	return Event{
		TxHash:        log.TxHash.Hex(),
		LogIndex:      log.Index,
		BlockNumber:   log.BlockNumber,
		Buyer:         common.BytesToAddress(log.Topics[1].Bytes()),
		Referrer:      common.BytesToAddress(log.Topics[2].Bytes()),
		BaseAmount:    amount,
		BonusAmount:   bonus,
		PaidAmount:    paid,
		PaymentMethod: method,
	}, nil
}

// Encode packs an event back into a log. It is the inverse of Decode and is
// used by replay tooling and tests.
func (d *Decoder) Encode(ev Event, contract common.Address) (types.Log, error) {
	data, err := d.event.Inputs.NonIndexed().Pack(ev.BaseAmount, ev.PaidAmount, ev.PaymentMethod)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack data: %w", err)
	}
	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			d.event.ID,
			common.BytesToHash(ev.Buyer.Bytes()),
			common.BytesToHash(ev.Referrer.Bytes()),
		},
		Data:        data,
		BlockNumber: ev.BlockNumber,
		TxHash:      common.HexToHash(ev.TxHash),
		Index:       ev.LogIndex,
	}, nil
}
