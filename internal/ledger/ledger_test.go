package ledger

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swingold/escrowd/internal/domain"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000A3")
)

// gold scales a whole-unit amount to the 18-decimal fixed point.
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

func newTestLedger(t *testing.T) (*Ledger, *capturingEmitter) {
	t.Helper()
	l := New(owner)
	emitter := &capturingEmitter{}
	l.SetEmitter(emitter)
	l.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return l, emitter
}

func TestMintCreditsExactlyOneAccount(t *testing.T) {
	l, emitter := newTestLedger(t)

	accounts := []common.Address{alice, bob, carol}
	for _, acc := range accounts {
		require.NoError(t, l.Mint(owner, acc, gold(10_000)))
	}

	for _, acc := range accounts {
		assert.Equal(t, gold(10_000), l.BalanceOf(acc))
	}
	assert.Equal(t, gold(30_000), l.TotalSupply())
	assert.True(t, emitter.seen(domain.EventTypeMint))
}

func TestMintRejectsNonOwner(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.Mint(alice, alice, gold(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, l.BalanceOf(alice).Sign())
}

func TestTransferMovesExactAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(1000)))

	require.NoError(t, l.Transfer(alice, bob, gold(300)))

	assert.Equal(t, gold(700), l.BalanceOf(alice))
	assert.Equal(t, gold(300), l.BalanceOf(bob))
	assert.Equal(t, gold(1000), l.TotalSupply())
}

func TestTransferInsufficientBalanceIsAtomic(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(100)))

	err := l.Transfer(alice, bob, gold(200))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, gold(100), l.BalanceOf(alice))
	assert.Zero(t, l.BalanceOf(bob).Sign())
}

func TestApproveOverwritesAllowance(t *testing.T) {
	l, _ := newTestLedger(t)

	require.NoError(t, l.Approve(alice, bob, gold(50)))
	require.NoError(t, l.Approve(alice, bob, gold(20)))

	assert.Equal(t, gold(20), l.Allowance(alice, bob))
}

func TestTransferFromDecrementsAllowance(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(1000)))
	require.NoError(t, l.Approve(alice, bob, gold(500)))

	require.NoError(t, l.TransferFrom(bob, alice, carol, gold(200)))

	assert.Equal(t, gold(800), l.BalanceOf(alice))
	assert.Equal(t, gold(200), l.BalanceOf(carol))
	assert.Equal(t, gold(300), l.Allowance(alice, bob))
}

func TestTransferFromRejectsOverAllowance(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(1000)))
	require.NoError(t, l.Approve(alice, bob, gold(100)))

	err := l.TransferFrom(bob, alice, carol, gold(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	assert.Equal(t, gold(1000), l.BalanceOf(alice))
	assert.Equal(t, gold(100), l.Allowance(alice, bob))
}

func TestTransferFromRejectsUnknownSpender(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(1000)))

	err := l.TransferFrom(bob, alice, carol, gold(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestDepositCreditsOneToOne(t *testing.T) {
	l, emitter := newTestLedger(t)

	require.NoError(t, l.Deposit(alice, gold(1)))

	assert.Equal(t, gold(1), l.BalanceOf(alice))
	assert.Equal(t, gold(1), l.TotalSupply())
	assert.Equal(t, gold(1), l.NativeReserve())
	assert.True(t, emitter.seen(domain.EventTypeDeposit))
}

func TestWithdrawBurnsAgainstReserve(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Deposit(alice, gold(5)))

	require.NoError(t, l.Withdraw(alice, gold(2)))

	assert.Equal(t, gold(3), l.BalanceOf(alice))
	assert.Equal(t, gold(3), l.TotalSupply())
	assert.Equal(t, gold(3), l.NativeReserve())
}

func TestWithdrawRejectsMintedOnlyBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(10)))

	// No native currency ever entered the ledger, so nothing can leave it.
	err := l.Withdraw(alice, gold(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestHistoryRecordsBothSides(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(100)))
	require.NoError(t, l.Transfer(alice, bob, gold(20)))

	aliceHist := l.History(alice)
	require.Len(t, aliceHist, 2) // mint + outgoing transfer
	out := aliceHist[1]
	assert.Equal(t, bob, out.Counterparty)
	assert.Equal(t, domain.DirectionOut, out.Direction)
	assert.Equal(t, domain.KindTransfer, out.Kind)
	assert.Equal(t, gold(20), out.Amount)

	bobHist := l.History(bob)
	require.Len(t, bobHist, 1)
	assert.Equal(t, alice, bobHist[0].Counterparty)
	assert.Equal(t, domain.DirectionIn, bobHist[0].Direction)
}

func TestHistoryReturnsCopies(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(100)))

	hist := l.History(alice)
	hist[0].Amount.SetInt64(1)

	assert.Equal(t, gold(100), l.History(alice)[0].Amount)
}

func TestNilAndNegativeAmountsRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(10)))

	assert.ErrorIs(t, l.Mint(owner, alice, nil), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(owner, alice, big.NewInt(0)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Transfer(alice, bob, big.NewInt(-1)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Approve(alice, bob, big.NewInt(-1)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Deposit(alice, big.NewInt(0)), domain.ErrInvalidAmount)
}

func TestZeroTransferIsAllowed(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(10)))

	assert.NoError(t, l.Transfer(alice, bob, big.NewInt(0)))
	assert.Equal(t, gold(10), l.BalanceOf(alice))
}

func TestSupplyConservedAcrossMixedOperations(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.Mint(owner, alice, gold(100)))
	require.NoError(t, l.Deposit(bob, gold(40)))
	require.NoError(t, l.Transfer(alice, carol, gold(60)))
	require.NoError(t, l.Withdraw(bob, gold(10)))

	sum := new(big.Int)
	for _, acc := range []common.Address{owner, alice, bob, carol} {
		sum.Add(sum, l.BalanceOf(acc))
	}
	assert.Equal(t, l.TotalSupply(), sum)
	assert.Equal(t, gold(130), sum)
}
