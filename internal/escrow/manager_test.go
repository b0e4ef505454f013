package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/ledger"
)

var (
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	buyerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	sellerAddr = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	otherAddr  = common.HexToAddress("0x00000000000000000000000000000000000000B3")
	escrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000EE")
)

func gold(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(1e18))
}

type capturingEmitter struct {
	events []domain.Event
}

func (c *capturingEmitter) Emit(e domain.Event) { c.events = append(c.events, e) }

func (c *capturingEmitter) seen(eventType string) bool {
	for _, e := range c.events {
		if e.EventType() == eventType {
			return true
		}
	}
	return false
}

// testClock is a settable clock shared by the ledger and the manager so time
// can be advanced without sleeping.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setup(t *testing.T) (*Manager, *ledger.Ledger, *testClock, *capturingEmitter) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}

	l := ledger.New(ownerAddr)
	l.SetNowFunc(clock.Now)
	require.NoError(t, l.Mint(ownerAddr, buyerAddr, gold(10_000)))

	m := NewManager(l, escrowAddr)
	m.SetNowFunc(clock.Now)
	emitter := &capturingEmitter{}
	m.SetEmitter(emitter)

	require.NoError(t, l.Approve(buyerAddr, escrowAddr, gold(10_000)))
	return m, l, clock, emitter
}

func create(t *testing.T, m *Manager, name, category string, price *big.Int) {
	t.Helper()
	_, err := m.CreateTrade(CreateParams{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		ItemName:     name,
		ItemCategory: category,
		Price:        price,
	})
	require.NoError(t, err)
}

func TestCreateTradeStoresFields(t *testing.T) {
	m, _, _, emitter := setup(t)
	create(t, m, "Book", "Education", gold(200))

	trade, err := m.Trade("Book")
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, trade.Buyer)
	assert.Equal(t, sellerAddr, trade.Seller)
	assert.Equal(t, "Book", trade.ItemName)
	assert.Equal(t, "Education", trade.ItemCategory)
	assert.Equal(t, gold(200), trade.ItemPrice)
	assert.False(t, trade.Confirmed)
	assert.False(t, trade.Completed)
	assert.True(t, emitter.seen(domain.EventTypeTradeCreated))
}

func TestConfirmDebitsBuyer(t *testing.T) {
	m, l, _, _ := setup(t)
	create(t, m, "Bag", "Fashion", gold(300))

	before := l.BalanceOf(buyerAddr)
	require.NoError(t, m.ConfirmTrade(buyerAddr, "Bag"))

	diff := new(big.Int).Sub(before, l.BalanceOf(buyerAddr))
	assert.Equal(t, gold(300), diff)
}

func TestConfirmCreditsSeller(t *testing.T) {
	m, l, _, emitter := setup(t)
	create(t, m, "Bag", "Fashion", gold(300))

	require.NoError(t, m.ConfirmTrade(buyerAddr, "Bag"))

	assert.Equal(t, gold(300), l.BalanceOf(sellerAddr))
	trade, err := m.Trade("Bag")
	require.NoError(t, err)
	assert.True(t, trade.Confirmed)
	assert.True(t, trade.Completed)
	assert.True(t, emitter.seen(domain.EventTypeTradeCompleted))
}

func TestConfirmAfterTimeoutFailsWithExactMessage(t *testing.T) {
	m, l, clock, _ := setup(t)
	create(t, m, "Clock", "Home", gold(250))

	clock.Advance(11 * time.Minute)

	err := m.ConfirmTrade(buyerAddr, "Clock")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradeExpired)
	assert.Equal(t, "Trade expired", err.Error())
	assert.Equal(t, gold(10_000), l.BalanceOf(buyerAddr))
}

func TestExpiredTradeReadsCleanly(t *testing.T) {
	m, _, clock, _ := setup(t)
	create(t, m, "Clock", "Home", gold(250))

	clock.Advance(11 * time.Minute)

	trade, err := m.Trade("Clock")
	require.NoError(t, err)
	assert.False(t, trade.Confirmed)
	assert.False(t, trade.Completed)

	view, err := m.TradeInfo("Clock")
	require.NoError(t, err)
	assert.Equal(t, "expired", view.Status)
	assert.False(t, view.Confirmed)
	assert.False(t, view.Completed)
}

func TestConfirmAtExactBoundarySucceeds(t *testing.T) {
	m, _, clock, _ := setup(t)
	create(t, m, "Boundary", "Misc", gold(10))

	// The window is inclusive: now - createdAt == timeout still confirms.
	clock.Advance(DefaultTimeout)
	assert.NoError(t, m.ConfirmTrade(buyerAddr, "Boundary"))
}

func TestConfirmRequiresBuyer(t *testing.T) {
	m, _, _, _ := setup(t)
	create(t, m, "Book", "Education", gold(200))

	assert.ErrorIs(t, m.ConfirmTrade(sellerAddr, "Book"), domain.ErrUnauthorized)
	assert.ErrorIs(t, m.ConfirmTrade(otherAddr, "Book"), domain.ErrUnauthorized)
}

func TestSecondConfirmDoesNotSettleTwice(t *testing.T) {
	m, l, _, _ := setup(t)
	create(t, m, "Bag", "Fashion", gold(300))

	require.NoError(t, m.ConfirmTrade(buyerAddr, "Bag"))
	err := m.ConfirmTrade(buyerAddr, "Bag")
	assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)

	assert.Equal(t, gold(300), l.BalanceOf(sellerAddr))
	assert.Equal(t, gold(9_700), l.BalanceOf(buyerAddr))
}

func TestConfirmUnknownTrade(t *testing.T) {
	m, _, _, _ := setup(t)
	assert.ErrorIs(t, m.ConfirmTrade(buyerAddr, "Ghost"), domain.ErrTradeNotFound)
}

func TestConfirmWithoutAllowanceFails(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	l := ledger.New(ownerAddr)
	l.SetNowFunc(clock.Now)
	require.NoError(t, l.Mint(ownerAddr, buyerAddr, gold(1000)))
	m := NewManager(l, escrowAddr)
	m.SetNowFunc(clock.Now)

	_, err := m.CreateTrade(CreateParams{
		Buyer: buyerAddr, Seller: sellerAddr,
		ItemName: "Sword", ItemCategory: "Weapons", Price: gold(100),
	})
	require.NoError(t, err)

	err = m.ConfirmTrade(buyerAddr, "Sword")
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	// The trade stays pending and can settle once approval lands.
	require.NoError(t, l.Approve(buyerAddr, escrowAddr, gold(100)))
	assert.NoError(t, m.ConfirmTrade(buyerAddr, "Sword"))
}

func TestCreateRejectsAttachedValue(t *testing.T) {
	m, _, _, _ := setup(t)

	_, err := m.CreateTrade(CreateParams{
		Buyer: buyerAddr, Seller: sellerAddr,
		ItemName: "Potion", ItemCategory: "Misc",
		Price:       gold(30),
		NativeValue: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrValueNotAccepted)
}

func TestCreateRejectsBadPrice(t *testing.T) {
	m, _, _, _ := setup(t)

	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		_, err := m.CreateTrade(CreateParams{
			Buyer: buyerAddr, Seller: sellerAddr,
			ItemName: "Potion", ItemCategory: "Misc", Price: price,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	}
}

func TestCreateRejectsLiveDuplicate(t *testing.T) {
	m, _, _, _ := setup(t)
	create(t, m, "Book", "Education", gold(200))

	_, err := m.CreateTrade(CreateParams{
		Buyer: otherAddr, Seller: sellerAddr,
		ItemName: "Book", ItemCategory: "Education", Price: gold(150),
	})
	assert.ErrorIs(t, err, domain.ErrTradeExists)
}

func TestCreateReplacesExpiredTrade(t *testing.T) {
	m, _, clock, _ := setup(t)
	create(t, m, "Book", "Education", gold(200))

	clock.Advance(11 * time.Minute)
	create(t, m, "Book", "Education", gold(150))

	trade, err := m.Trade("Book")
	require.NoError(t, err)
	assert.Equal(t, gold(150), trade.ItemPrice)
	assert.False(t, trade.Completed)
}

func TestCreateReplacesCompletedTrade(t *testing.T) {
	m, _, _, _ := setup(t)
	create(t, m, "Book", "Education", gold(200))
	require.NoError(t, m.ConfirmTrade(buyerAddr, "Book"))

	create(t, m, "Book", "Education", gold(150))
	view, err := m.TradeInfo("Book")
	require.NoError(t, err)
	assert.Equal(t, "pending", view.Status)
}

func TestCancelByBuyerAndSeller(t *testing.T) {
	m, l, _, emitter := setup(t)
	create(t, m, "Scroll", "Misc", gold(10))

	before := l.BalanceOf(buyerAddr)
	require.NoError(t, m.CancelTrade(sellerAddr, "Scroll"))

	assert.Equal(t, before, l.BalanceOf(buyerAddr))
	assert.True(t, emitter.seen(domain.EventTypeTradeCancelled))

	trade, err := m.Trade("Scroll")
	require.NoError(t, err)
	assert.False(t, trade.Confirmed)
	assert.False(t, trade.Completed)
	assert.Equal(t, domain.TradeCancelled, trade.Status)

	// Cancelled is terminal.
	assert.ErrorIs(t, m.ConfirmTrade(buyerAddr, "Scroll"), domain.ErrAlreadyCompleted)
	assert.ErrorIs(t, m.CancelTrade(buyerAddr, "Scroll"), domain.ErrAlreadyCompleted)
}

func TestCancelRejectsThirdParty(t *testing.T) {
	m, _, _, _ := setup(t)
	create(t, m, "Scroll", "Misc", gold(10))

	assert.ErrorIs(t, m.CancelTrade(otherAddr, "Scroll"), domain.ErrUnauthorized)
}

func TestCancelAfterExpiryMovesNoFunds(t *testing.T) {
	m, l, clock, _ := setup(t)
	create(t, m, "Scroll", "Misc", gold(10))

	before := l.BalanceOf(buyerAddr)
	clock.Advance(11 * time.Minute)
	require.NoError(t, m.CancelTrade(buyerAddr, "Scroll"))

	assert.Equal(t, before, l.BalanceOf(buyerAddr))
}

func TestConfirmedTradeNeverExpires(t *testing.T) {
	m, _, clock, _ := setup(t)
	create(t, m, "Bag", "Fashion", gold(300))
	require.NoError(t, m.ConfirmTrade(buyerAddr, "Bag"))

	clock.Advance(24 * time.Hour)

	view, err := m.TradeInfo("Bag")
	require.NoError(t, err)
	assert.Equal(t, "completed", view.Status)
	assert.True(t, view.Confirmed)
	assert.True(t, view.Completed)
}
