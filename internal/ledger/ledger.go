// Package ledger implements the Swingold account ledger: balances,
// allowance-based delegated transfers, per-account transfer history, and a
// fixed 1:1 native-currency deposit/withdraw path. All amounts are unsigned
// 18-decimal fixed-point values held as big.Int; the ledger never wraps and
// never lets a balance go negative.
package ledger

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
)

// Ledger is the authoritative balance and allowance table. Every mutating
// operation executes under a single mutex so concurrent calls serialize the
// way transactions do in the reference execution environment: no operation
// ever observes another's partial effects.
type Ledger struct {
	mu sync.Mutex

	owner         common.Address
	balances      map[common.Address]*big.Int
	allowances    map[common.Address]map[common.Address]*big.Int
	history       map[common.Address][]domain.TransferRecord
	totalSupply   *big.Int
	nativeReserve *big.Int

	nowFn   func() time.Time
	emitter domain.Emitter
}

// New creates an empty ledger whose mint authority is owner. State lives
// entirely in the returned value; tests construct isolated instances freely.
func New(owner common.Address) *Ledger {
	return &Ledger{
		owner:         owner,
		balances:      make(map[common.Address]*big.Int),
		allowances:    make(map[common.Address]map[common.Address]*big.Int),
		history:       make(map[common.Address][]domain.TransferRecord),
		totalSupply:   big.NewInt(0),
		nativeReserve: big.NewInt(0),
		nowFn:         time.Now,
		emitter:       domain.NopEmitter{},
	}
}

// SetNowFunc overrides the time source. Passing nil restores the wall clock.
// Primarily intended for tests that need deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		l.nowFn = time.Now
		return
	}
	l.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
// Emitters run inside the operation's critical section and must not block.
func (l *Ledger) SetEmitter(emitter domain.Emitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = domain.NopEmitter{}
		return
	}
	l.emitter = emitter
}

// Owner returns the address holding mint authority.
func (l *Ledger) Owner() common.Address { return l.owner }

// Mint credits amount to the given account. Only the owner may mint.
func (l *Ledger) Mint(caller, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return domain.ErrUnauthorized
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	l.credit(to, amount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, amount)

	now := l.nowFn()
	l.appendHistory(to, domain.TransferRecord{
		Counterparty: caller,
		Amount:       new(big.Int).Set(amount),
		Direction:    domain.DirectionIn,
		Kind:         domain.KindMint,
		At:           now,
	})
	l.emitter.Emit(domain.MintEvent{
		EventMeta: domain.EventMeta{At: now},
		To:        to,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// Transfer moves amount from one account to another. Either both balances
// update or neither does.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount, domain.KindTransfer)
}

// Approve sets (not increments) the owner's allowance for the spender. The
// overwrite semantics match the reference token; the approve/transferFrom
// race is documented standard behaviour.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := requireNonNegative(amount); err != nil {
		return err
	}

	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)

	l.emitter.Emit(domain.ApprovalEvent{
		EventMeta: domain.EventMeta{At: l.nowFn()},
		Owner:     owner,
		Spender:   spender,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// Allowance returns the remaining amount spender may move from owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	byOwner, ok := l.allowances[owner]
	if !ok {
		return big.NewInt(0)
	}
	remaining, ok := byOwner[spender]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(remaining)
}

// TransferFrom moves amount from owner to recipient on the authority of
// spender's allowance, decrementing the allowance on success. The allowance
// check runs before the balance check, so an under-authorized spender learns
// nothing about the owner's balance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := requireNonNegative(amount); err != nil {
		return err
	}

	byOwner := l.allowances[owner]
	remaining, ok := byOwner[spender]
	if !ok || remaining.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance
	}
	if err := l.move(owner, to, amount, domain.KindTrade); err != nil {
		return err
	}
	byOwner[spender] = new(big.Int).Sub(remaining, amount)
	return nil
}

// Deposit credits the account with ledger units at the fixed 1:1 rate for
// native currency held by the ledger. Supply and the native reserve grow
// together.
func (l *Ledger) Deposit(from common.Address, nativeAmount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := requirePositive(nativeAmount); err != nil {
		return err
	}

	l.credit(from, nativeAmount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, nativeAmount)
	l.nativeReserve = new(big.Int).Add(l.nativeReserve, nativeAmount)

	now := l.nowFn()
	l.appendHistory(from, domain.TransferRecord{
		Counterparty: from,
		Amount:       new(big.Int).Set(nativeAmount),
		Direction:    domain.DirectionIn,
		Kind:         domain.KindDeposit,
		At:           now,
	})
	l.emitter.Emit(domain.DepositEvent{
		EventMeta: domain.EventMeta{At: now},
		Account:   from,
		Amount:    new(big.Int).Set(nativeAmount),
	})
	return nil
}

// Withdraw burns ledger units back into native currency at the fixed 1:1
// rate. The account balance, total supply, and native reserve all shrink by
// amount.
func (l *Ledger) Withdraw(from common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := requirePositive(amount); err != nil {
		return err
	}
	bal := l.balanceFor(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	if l.nativeReserve.Cmp(amount) < 0 {
		// Balance backed by minted units, not deposited native currency.
		return domain.ErrInsufficientBalance
	}

	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, amount)
	l.nativeReserve = new(big.Int).Sub(l.nativeReserve, amount)

	now := l.nowFn()
	l.appendHistory(from, domain.TransferRecord{
		Counterparty: from,
		Amount:       new(big.Int).Set(amount),
		Direction:    domain.DirectionOut,
		Kind:         domain.KindWithdraw,
		At:           now,
	})
	l.emitter.Emit(domain.WithdrawEvent{
		EventMeta: domain.EventMeta{At: now},
		Account:   from,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// BalanceOf returns the current balance, zero for unknown accounts.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceFor(addr))
}

// TotalSupply returns minted minus burned plus deposited minus withdrawn.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalSupply)
}

// NativeReserve returns the native currency held against deposits.
func (l *Ledger) NativeReserve() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.nativeReserve)
}

// History returns a copy of the account's transfer history, oldest first.
func (l *Ledger) History(addr common.Address) []domain.TransferRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := l.history[addr]
	out := make([]domain.TransferRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// move performs the debit/credit pair plus history and event bookkeeping.
// Callers must hold l.mu.
func (l *Ledger) move(from, to common.Address, amount *big.Int, kind domain.TransferKind) error {
	if err := requireNonNegative(amount); err != nil {
		return err
	}
	bal := l.balanceFor(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}

	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.credit(to, amount)

	now := l.nowFn()
	l.appendHistory(from, domain.TransferRecord{
		Counterparty: to,
		Amount:       new(big.Int).Set(amount),
		Direction:    domain.DirectionOut,
		Kind:         kind,
		At:           now,
	})
	l.appendHistory(to, domain.TransferRecord{
		Counterparty: from,
		Amount:       new(big.Int).Set(amount),
		Direction:    domain.DirectionIn,
		Kind:         kind,
		At:           now,
	})
	l.emitter.Emit(domain.TransferEvent{
		EventMeta: domain.EventMeta{At: now},
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		Kind:      kind,
	})
	return nil
}

func (l *Ledger) balanceFor(addr common.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	l.balances[addr] = new(big.Int).Add(l.balanceFor(addr), amount)
}

func (l *Ledger) appendHistory(addr common.Address, rec domain.TransferRecord) {
	l.history[addr] = append(l.history[addr], rec)
}

func requireNonNegative(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
