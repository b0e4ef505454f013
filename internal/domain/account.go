// Package domain defines the core types shared by the ledger and escrow
// components and the interfaces their collaborators (stores, caches, blob
// storage) must implement.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferDirection marks which side of a movement a history entry records.
type TransferDirection string

const (
	DirectionIn  TransferDirection = "in"
	DirectionOut TransferDirection = "out"
)

// TransferKind distinguishes direct transfers from escrow settlements and
// native-currency conversions in an account's history.
type TransferKind string

const (
	KindTransfer TransferKind = "transfer"
	KindTrade    TransferKind = "trade"
	KindDeposit  TransferKind = "deposit"
	KindWithdraw TransferKind = "withdraw"
	KindMint     TransferKind = "mint"
)

// TransferRecord is a single entry in an account's transfer history. The
// ledger appends one entry per side of every balance movement, mirroring the
// token contract's getHistory view.
type TransferRecord struct {
	Counterparty common.Address
	Amount       *big.Int
	Direction    TransferDirection
	Kind         TransferKind
	At           time.Time
}

// Clone returns a deep copy so callers can hold the record without aliasing
// the ledger's internal big.Int.
func (r TransferRecord) Clone() TransferRecord {
	out := r
	if r.Amount != nil {
		out.Amount = new(big.Int).Set(r.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return out
}
