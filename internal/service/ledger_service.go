package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swingold/escrowd/internal/domain"
	"github.com/swingold/escrowd/internal/ledger"
)

// LedgerService fronts the in-memory ledger with the persistence and caching
// collaborators. The ledger remains the source of truth; the journal, cache
// and audit log are best-effort and never fail a core operation that already
// succeeded.
type LedgerService struct {
	ledger   *ledger.Ledger
	journal  domain.TransferStore // optional
	balances domain.BalanceCache  // optional
	audit    domain.AuditStore    // optional
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewLedgerService creates a LedgerService. journal, balances and audit may
// be nil when the corresponding backend is disabled.
func NewLedgerService(
	core *ledger.Ledger,
	journal domain.TransferStore,
	balances domain.BalanceCache,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger:   core,
		journal:  journal,
		balances: balances,
		audit:    audit,
		logger:   logger.With(slog.String("component", "ledger_service")),
		nowFn:    time.Now,
	}
}

// Owner returns the ledger owner address.
func (s *LedgerService) Owner() common.Address {
	return s.ledger.Owner()
}

// Mint credits newly created units to an account. Only the owner may mint.
func (s *LedgerService) Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if err := s.ledger.Mint(caller, to, amount); err != nil {
		return fmt.Errorf("ledger_service: mint: %w", err)
	}

	s.journalEntry(ctx, common.Address{}, to, amount, domain.KindMint)
	s.refreshBalances(ctx, to)
	s.auditLog(ctx, domain.EventTypeMint, map[string]any{
		"to": to.Hex(), "amount": amount.String(),
	})
	return nil
}

// Transfer moves units between two accounts.
func (s *LedgerService) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := s.ledger.Transfer(from, to, amount); err != nil {
		return fmt.Errorf("ledger_service: transfer: %w", err)
	}

	s.journalEntry(ctx, from, to, amount, domain.KindTransfer)
	s.refreshBalances(ctx, from, to)
	s.auditLog(ctx, domain.EventTypeTransfer, map[string]any{
		"from": from.Hex(), "to": to.Hex(), "amount": amount.String(),
	})
	return nil
}

// Approve sets the spender's allowance over the owner's balance.
func (s *LedgerService) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := s.ledger.Approve(owner, spender, amount); err != nil {
		return fmt.Errorf("ledger_service: approve: %w", err)
	}

	s.auditLog(ctx, domain.EventTypeApproval, map[string]any{
		"owner": owner.Hex(), "spender": spender.Hex(), "amount": amount.String(),
	})
	return nil
}

// Allowance returns the spender's remaining allowance over the owner's
// balance.
func (s *LedgerService) Allowance(owner, spender common.Address) *big.Int {
	return s.ledger.Allowance(owner, spender)
}

// TransferFrom moves units from owner to recipient on the spender's
// authority, consuming allowance.
func (s *LedgerService) TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *big.Int) error {
	if err := s.ledger.TransferFrom(spender, owner, to, amount); err != nil {
		return fmt.Errorf("ledger_service: transfer from: %w", err)
	}

	s.journalEntry(ctx, owner, to, amount, domain.KindTrade)
	s.refreshBalances(ctx, owner, to)
	s.auditLog(ctx, domain.EventTypeTransfer, map[string]any{
		"spender": spender.Hex(), "from": owner.Hex(), "to": to.Hex(),
		"amount": amount.String(), "kind": string(domain.KindTrade),
	})
	return nil
}

// Deposit converts attached native currency into ledger units at 1:1.
func (s *LedgerService) Deposit(ctx context.Context, account common.Address, amount *big.Int) error {
	if err := s.ledger.Deposit(account, amount); err != nil {
		return fmt.Errorf("ledger_service: deposit: %w", err)
	}

	s.journalEntry(ctx, common.Address{}, account, amount, domain.KindDeposit)
	s.refreshBalances(ctx, account)
	s.auditLog(ctx, domain.EventTypeDeposit, map[string]any{
		"account": account.Hex(), "amount": amount.String(),
	})
	return nil
}

// Withdraw burns ledger units back to native currency, bounded by the
// deposit reserve.
func (s *LedgerService) Withdraw(ctx context.Context, account common.Address, amount *big.Int) error {
	if err := s.ledger.Withdraw(account, amount); err != nil {
		return fmt.Errorf("ledger_service: withdraw: %w", err)
	}

	s.journalEntry(ctx, account, common.Address{}, amount, domain.KindWithdraw)
	s.refreshBalances(ctx, account)
	s.auditLog(ctx, domain.EventTypeWithdraw, map[string]any{
		"account": account.Hex(), "amount": amount.String(),
	})
	return nil
}

// BalanceOf returns an account's balance from the ledger and refreshes the
// cached copy.
func (s *LedgerService) BalanceOf(ctx context.Context, addr common.Address) *big.Int {
	// The in-process ledger is authoritative, so reads never consult the
	// cache; a skipped write-through would otherwise serve a stale balance
	// for the cache TTL. The cache exists for out-of-process readers.
	bal := s.ledger.BalanceOf(addr)
	s.refreshBalances(ctx, addr)
	return bal
}

// History returns the in-memory transfer history for an account.
func (s *LedgerService) History(addr common.Address) []domain.TransferRecord {
	return s.ledger.History(addr)
}

// Journal returns the persisted transfer journal for an account. Requires
// the journal store; returns nil when it is disabled.
func (s *LedgerService) Journal(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.TransferEntry, error) {
	if s.journal == nil {
		return nil, nil
	}
	entries, err := s.journal.ListByAccount(ctx, addr.Hex(), opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: journal: %w", err)
	}
	return entries, nil
}

// TotalSupply returns the total number of units in circulation.
func (s *LedgerService) TotalSupply() *big.Int {
	return s.ledger.TotalSupply()
}

// NativeReserve returns the native currency backing deposits.
func (s *LedgerService) NativeReserve() *big.Int {
	return s.ledger.NativeReserve()
}

// journalEntry appends to the persistent journal; failures are logged, not
// returned.
func (s *LedgerService) journalEntry(ctx context.Context, from, to common.Address, amount *big.Int, kind domain.TransferKind) {
	if s.journal == nil {
		return
	}
	entry := domain.TransferEntry{
		From:   from.Hex(),
		To:     to.Hex(),
		Amount: amount.String(),
		Kind:   kind,
		At:     s.nowFn().UTC(),
	}
	if err := s.journal.Insert(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "journal insert failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// refreshBalances writes the given accounts' post-operation balances through
// to the cache.
func (s *LedgerService) refreshBalances(ctx context.Context, addrs ...common.Address) {
	if s.balances == nil {
		return
	}
	for _, addr := range addrs {
		if err := s.balances.Set(ctx, addr.Hex(), s.ledger.BalanceOf(addr)); err != nil {
			s.logger.WarnContext(ctx, "balance cache set failed",
				slog.String("address", addr.Hex()),
				slog.String("error", err.Error()),
			)
			// Drop whatever the cache holds so out-of-process readers see
			// a miss rather than a stale balance.
			if err := s.balances.Invalidate(ctx, addr.Hex()); err != nil {
				s.logger.WarnContext(ctx, "balance cache invalidate failed",
					slog.String("address", addr.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// auditLog records the operation in the audit store; failures are logged.
func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
