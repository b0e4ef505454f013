package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeStatus is the lifecycle state of an escrowed trade. Expiry is never
// stored; it is derived from CreatedAt at read time.
type TradeStatus uint8

const (
	TradePending TradeStatus = iota
	TradeCompleted
	TradeCancelled
	TradeExpired
)

// String returns the lowercase wire name of the status.
func (s TradeStatus) String() string {
	switch s {
	case TradePending:
		return "pending"
	case TradeCompleted:
		return "completed"
	case TradeCancelled:
		return "cancelled"
	case TradeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s. An
// expired trade is terminal even though the stored record still says pending.
func (s TradeStatus) Terminal() bool {
	return s != TradePending
}

// Trade is a single buyer/seller/item agreement held by the escrow. The item
// name doubles as the registry key, so two live trades can never share a
// name.
type Trade struct {
	Buyer        common.Address
	Seller       common.Address
	ItemName     string
	ItemCategory string
	ItemPrice    *big.Int
	CreatedAt    time.Time
	Confirmed    bool
	Completed    bool
	Status       TradeStatus
	CompletedAt  time.Time
	CancelledAt  time.Time
}

// Clone returns a deep copy of the trade so callers can mutate the result
// without affecting the stored instance.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ItemPrice != nil {
		clone.ItemPrice = new(big.Int).Set(t.ItemPrice)
	} else {
		clone.ItemPrice = big.NewInt(0)
	}
	return &clone
}

// TradeView is the read-only projection served to clients. Price is a decimal
// string to survive JSON round-trips without precision loss.
type TradeView struct {
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	ItemName     string `json:"itemName"`
	ItemCategory string `json:"itemCategory"`
	ItemPrice    string `json:"itemPrice"`
	CreatedAt    int64  `json:"createdAt"`
	Confirmed    bool   `json:"confirmed"`
	Completed    bool   `json:"completed"`
	Status       string `json:"status"`
}

// View projects the trade into its wire representation using the supplied
// derived status (which accounts for lazy expiry).
func (t *Trade) View(status TradeStatus) TradeView {
	price := "0"
	if t.ItemPrice != nil {
		price = t.ItemPrice.String()
	}
	return TradeView{
		Buyer:        t.Buyer.Hex(),
		Seller:       t.Seller.Hex(),
		ItemName:     t.ItemName,
		ItemCategory: t.ItemCategory,
		ItemPrice:    price,
		CreatedAt:    t.CreatedAt.Unix(),
		Confirmed:    t.Confirmed,
		Completed:    t.Completed,
		Status:       status.String(),
	}
}
