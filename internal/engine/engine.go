// Package engine wires the trading components together and exposes the
// surface consumed by the dashboard and CLI layers.
package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/executor"
	"github.com/swaybot/sway/internal/ledger"
	"github.com/swaybot/sway/internal/orderbook"
	"github.com/swaybot/sway/internal/scheduler"
	"github.com/swaybot/sway/internal/storage/snapshot"
)

// minProfitFromSettings adapts the settings provider to the order book's
// threshold dependency.
type minProfitFromSettings struct {
	provider *config.SettingsProvider
}

func (m minProfitFromSettings) MinProfitPercent() decimal.Decimal {
	return m.provider.Current().MinProfitPercent
}

// Engine owns the component lifecycle: constructed once at startup, torn
// down and rebuilt only on explicit restart.
type Engine struct {
	cfg      config.Config
	logger   *zap.Logger
	settings *config.SettingsProvider

	sentiment scheduler.SentimentClient
	pricer    scheduler.Pricer
	chain     executor.Chain
	quotes    executor.QuoteClient
	relay     executor.RelayClient
	wallet    executor.Wallet

	store   snapshot.Store
	journal *executor.Journal
	audit   *executor.AuditLog

	mu        sync.RWMutex
	latest    snapshot.Snapshot
	onCycle   []func(snapshot.Snapshot)
	restartCh chan struct{}
}

// Deps bundles the external collaborators injected into the engine.
type Deps struct {
	Sentiment scheduler.SentimentClient
	Pricer    scheduler.Pricer
	Chain     executor.Chain
	Quotes    executor.QuoteClient
	Relay     executor.RelayClient
	Wallet    executor.Wallet
}

// New constructs the engine and its durable stores.
func New(cfg config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	store, err := snapshot.NewFileStore(cfg.SnapshotPath)
	if err != nil {
		return nil, errors.Wrap(err, "init snapshot store")
	}
	journal, err := executor.NewJournal(cfg.JournalDir)
	if err != nil {
		return nil, errors.Wrap(err, "init execution journal")
	}
	audit, err := executor.NewAuditLog(cfg.AuditLogPath)
	if err != nil {
		return nil, errors.Wrap(err, "init audit log")
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		settings:  config.NewSettingsProvider(cfg.Settings, nil, logger),
		sentiment: deps.Sentiment,
		pricer:    deps.Pricer,
		chain:     deps.Chain,
		quotes:    deps.Quotes,
		relay:     deps.Relay,
		wallet:    deps.Wallet,
		store:     store,
		journal:   journal,
		audit:     audit,
		restartCh: make(chan struct{}, 1),
	}, nil
}

// Run builds the components and drives trading cycles until the context is
// cancelled. A restart request tears the scheduler down and rebuilds from a
// fresh on-chain balance read, treating the new ledger as inception.
func (e *Engine) Run(ctx context.Context) error {
	fresh := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sched, err := e.build(ctx, fresh)
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- sched.Run(runCtx) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-e.restartCh:
			e.logger.Info("restart requested, rebuilding engine from on-chain state")
			cancel()
			// in-flight work finishes before the rebuild starts
			<-done
			fresh = true
		case err := <-done:
			cancel()
			return err
		}
	}
}

// build assembles ledger, order book, executor and scheduler, from the
// persisted snapshot unless fresh is requested.
func (e *Engine) build(ctx context.Context, fresh bool) (*scheduler.Scheduler, error) {
	var snap *snapshot.Snapshot
	if !fresh {
		loaded, err := e.store.Load()
		if err != nil {
			e.logger.Warn("snapshot unreadable, starting from on-chain state", zap.Error(err))
		} else {
			snap = loaded
		}
	}

	base, err := e.chain.Balance(ctx, e.wallet.Address(), e.cfg.Pair.Base.Mint)
	if err != nil {
		return nil, errors.Wrap(err, "query base balance")
	}
	quote, err := e.chain.Balance(ctx, e.wallet.Address(), e.cfg.Pair.Quote.Mint)
	if err != nil {
		return nil, errors.Wrap(err, "query quote balance")
	}

	ldg := ledger.New(e.cfg.Pair, base, quote, e.logger)
	book := orderbook.New(minProfitFromSettings{provider: e.settings}, e.logger)
	exec := executor.New(e.cfg.Pair, e.wallet, e.chain, e.quotes, e.relay, e.settings, e.journal, e.audit, e.cfg, e.logger)

	if snap != nil {
		ldg.LoadState(snap.Ledger)
		ldg.UpdateBalances(base, quote)
		book.LoadState(snap.OrderBook)
		exec.RestoreLastTradeTimes(snap.LastTradeTime)
		exec.RestoreLastSentiment(snap.LastSentiment)
		if err := e.settings.Replace(snap.Settings); err != nil {
			e.logger.Warn("persisted settings invalid, keeping configured settings", zap.Error(err))
		}
		e.logger.Info("state restored from snapshot",
			zap.Int("trades", len(snap.OrderBook.Trades)),
			zap.Int64("cycles", snap.Ledger.CycleCount))
	}

	for _, pending := range e.journal.Pending() {
		e.logger.Warn("unresolved swap intent from previous run",
			zap.String("intent_id", pending.ID),
			zap.String("direction", string(pending.Direction)),
			zap.Time("time", pending.Time))
	}

	sched := scheduler.New(e.cfg.Pair, e.sentiment, e.pricer, exec, ldg, book, e.store, e.settings, e.cfg, e.logger)
	sched.OnCycleComplete(e.publish)
	return sched, nil
}

func (e *Engine) publish(snap snapshot.Snapshot) {
	e.mu.Lock()
	e.latest = snap
	callbacks := append([]func(snapshot.Snapshot){}, e.onCycle...)
	e.mu.Unlock()

	for _, fn := range callbacks {
		fn(snap)
	}
}

// LatestSnapshot returns the snapshot persisted after the most recent cycle.
func (e *Engine) LatestSnapshot() snapshot.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// OnCycleComplete registers a callback invoked after every completed cycle.
func (e *Engine) OnCycleComplete(fn func(snapshot.Snapshot)) {
	e.mu.Lock()
	e.onCycle = append(e.onCycle, fn)
	e.mu.Unlock()
}

// Restart requests a teardown and rebuild from fresh on-chain balances.
// In-flight executor attempts are allowed to finish; no further legs start.
func (e *Engine) Restart() {
	select {
	case e.restartCh <- struct{}{}:
	default:
	}
}

// UpdateSettings applies a partial settings mutation, effective next cycle.
func (e *Engine) UpdateSettings(patch config.SettingsPatch) error {
	return e.settings.Update(patch)
}

// Close releases the durable stores.
func (e *Engine) Close() error {
	return e.journal.Close()
}
