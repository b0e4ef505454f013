package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/swingold/escrowd/internal/escrow"
	"github.com/swingold/escrowd/internal/ledger"
	"github.com/swingold/escrowd/internal/retention"
	"github.com/swingold/escrowd/internal/server"
	"github.com/swingold/escrowd/internal/server/handler"
	"github.com/swingold/escrowd/internal/server/ws"
	"github.com/swingold/escrowd/internal/service"
)

// seedLockTTL bounds how long a crashed seeder can block a retry.
const seedLockTTL = time.Minute

// ServeMode builds the ledger and escrow cores, wires the service layer on
// top of them, and runs the HTTP API plus background workers until the
// context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	core := ledger.New(deps.Owner)
	manager := escrow.NewManager(core, deps.EscrowAddress)
	if d := a.cfg.Escrow.Timeout.Duration; d > 0 {
		manager.SetTimeout(d)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Keeps serve mode alive until shutdown even when every optional
	// component is disabled.
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if deps.SignalBus != nil {
		emitter := service.NewBusEmitter(deps.SignalBus, 256, a.logger)
		core.SetEmitter(emitter)
		manager.SetEmitter(emitter)
		g.Go(func() error {
			return emitter.Run(ctx)
		})
	}

	ledgerSvc := service.NewLedgerService(core, deps.TransferStore, deps.Balances, deps.AuditStore, a.logger)
	tradeSvc := service.NewTradeService(manager, deps.TradeStore, deps.AuditStore, deps.Notifier, a.logger)

	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.SignalBus != nil {
			hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
				Mode:      a.cfg.Mode,
				StartedAt: time.Now().UTC(),
				Stream:    service.EventStream,
			})
			g.Go(func() error {
				return hub.Run(ctx)
			})
		}

		srv := server.NewServer(server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			APIKey:        a.cfg.Server.APIKey,
			SignatureAuth: a.cfg.Server.SignatureAuth,
			RateLimit:     a.cfg.Server.RateLimit,
			RateWindow:    a.cfg.Server.RateWindow.Duration,
		}, server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Ledger: handler.NewLedgerHandler(ledgerSvc, a.logger),
			Trades: handler.NewTradeHandler(tradeSvc, a.logger),
		}, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		a.logger.InfoContext(ctx, "http server enabled",
			slog.Int("port", a.cfg.Server.Port),
			slog.Bool("websocket", hub != nil),
		)
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		worker := retention.NewArchiver(
			deps.Archiver,
			deps.TradeStore,
			deps.TransferStore,
			a.cfg.Archive.RetentionDays,
			a.logger,
		)
		g.Go(func() error {
			if expr := a.cfg.Archive.Cron; expr != "" {
				return worker.RunCron(ctx, expr)
			}
			return worker.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	a.logger.InfoContext(ctx, "serve mode started",
		slog.String("owner", deps.Owner.Hex()),
		slog.String("escrow_address", deps.EscrowAddress.Hex()),
		slog.Duration("trade_timeout", a.cfg.Escrow.Timeout.Duration),
	)

	return g.Wait()
}

// SeedMode mints the configured starting balance to each seed account and
// exits. A distributed lock guards against two instances seeding at once.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	accounts := a.cfg.Ledger.SeedAccounts
	if len(accounts) == 0 {
		return fmt.Errorf("app: seed mode requires ledger.seed_accounts")
	}

	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, "escrowd:seed", seedLockTTL)
		if err != nil {
			return fmt.Errorf("app: acquire seed lock: %w", err)
		}
		defer unlock()
	}

	core := ledger.New(deps.Owner)
	svc := service.NewLedgerService(core, deps.TransferStore, deps.Balances, deps.AuditStore, a.logger)

	// Whole tokens scaled to 18 decimals.
	amount := new(big.Int).Mul(big.NewInt(a.cfg.Ledger.SeedAmount), big.NewInt(1e18))

	for _, acct := range accounts {
		to := common.HexToAddress(acct)
		if err := svc.Mint(ctx, deps.Owner, to, amount); err != nil {
			return fmt.Errorf("app: seed %s: %w", acct, err)
		}
		a.logger.InfoContext(ctx, "seeded account",
			slog.String("account", to.Hex()),
			slog.Int64("tokens", a.cfg.Ledger.SeedAmount),
		)
	}

	a.logger.InfoContext(ctx, "seed complete",
		slog.Int("accounts", len(accounts)),
		slog.String("supply", core.TotalSupply().String()),
	)
	return nil
}
