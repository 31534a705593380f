// Package scheduler drives the trading cycle: fetch signal, decide, execute
// the close and open legs, reconcile, persist and sleep until the next
// aligned boundary.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/domain"
	"github.com/swaybot/sway/internal/executor"
	"github.com/swaybot/sway/internal/ledger"
	"github.com/swaybot/sway/internal/orderbook"
	"github.com/swaybot/sway/internal/storage/snapshot"
	"github.com/swaybot/sway/pkg/retrier"
)

// SentimentClient fetches the external 0-100 sentiment index.
type SentimentClient interface {
	Index(ctx context.Context) (float64, error)
}

// Pricer fetches the spot price of the base token in quote terms.
type Pricer interface {
	Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// swapExecutor runs one swap leg and exposes the execution state the
// scheduler persists with each snapshot.
type swapExecutor interface {
	Execute(ctx context.Context, intent executor.TradeIntent) (*domain.SwapResult, error)
	LastTradeTimes() map[string]time.Time
	LastSentiment() *float64
}

type settingsProvider interface {
	Current() config.Settings
}

// Scheduler is the per-cycle control loop. All mutable engine state (ledger,
// order book, cooldown anchors) is touched only from this goroutine; the two
// execution legs run concurrently but their effects are applied here, close
// before open, after both joined.
type Scheduler struct {
	logger    *zap.Logger
	pair      domain.Pair
	sentiment SentimentClient
	pricer    Pricer
	exec      swapExecutor
	ledger    *ledger.Ledger
	book      *orderbook.Book
	store     snapshot.Store
	settings  settingsProvider

	timeframe   time.Duration
	settleDelay time.Duration
	legRetrier  *retrier.Retrier

	onCycle     []func(snapshot.Snapshot)
	failedSaves int
	now         func() time.Time
}

// New builds the scheduler.
func New(
	pair domain.Pair,
	sentiment SentimentClient,
	pricer Pricer,
	exec swapExecutor,
	ldg *ledger.Ledger,
	book *orderbook.Book,
	store snapshot.Store,
	settings settingsProvider,
	cfg config.Config,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		logger:      logger.With(zap.String("component", "scheduler"), zap.String("pair", pair.String())),
		pair:        pair,
		sentiment:   sentiment,
		pricer:      pricer,
		exec:        exec,
		ledger:      ldg,
		book:        book,
		store:       store,
		settings:    settings,
		timeframe:   cfg.Timeframe,
		settleDelay: cfg.SettleDelay,
		legRetrier: retrier.NewFixed(cfg.LegRetryDelay, cfg.LegRetries,
			retrier.WithRetryIf(func(err error) bool {
				reason, ok := executor.FailureReasonOf(err)
				return ok && reason.Retryable()
			})),
		now: time.Now,
	}
}

// OnCycleComplete registers a callback invoked with the persisted snapshot
// after every cycle. Callbacks run on the scheduler goroutine.
func (s *Scheduler) OnCycleComplete(fn func(snapshot.Snapshot)) {
	s.onCycle = append(s.onCycle, fn)
}

// Run executes cycles until the context is cancelled. The first cycle fires
// immediately; subsequent cycles align to the configured wall-clock boundary
// plus the settle delay, so cycles stay on round-number boundaries even
// after delays.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting trading loop",
		zap.Duration("timeframe", s.timeframe),
		zap.Duration("settle_delay", s.settleDelay))

	for {
		if err := s.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error("cycle failed", zap.Error(err))
		}

		next := nextAlignedTime(s.now(), s.timeframe, s.settleDelay)
		s.logger.Debug("cycle scheduled", zap.Time("next", next))

		select {
		case <-ctx.Done():
			s.logger.Info("context done, stopping trading loop")
			return ctx.Err()
		case <-time.After(next.Sub(s.now())):
		}
	}
}

// RunCycle executes exactly one cycle. State is persisted before returning
// regardless of the outcome, so a crash loses at most one cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	defer func() {
		s.ledger.IncrementCycle()
		snap := s.persist()
		for _, fn := range s.onCycle {
			fn(snap)
		}
	}()

	index, price, fetchErr := s.fetchSignal(ctx)
	if fetchErr != nil {
		return fetchErr
	}

	s.book.UpdateTradeUPNL(price)

	settings := s.settings.Current()
	direction, ok := s.decide(index, price, settings)
	if !ok {
		s.logger.Info("no trade signal this cycle", zap.Float64("index", index), zap.String("price", price.String()))
		return nil
	}

	if settings.MonitorMode {
		s.logger.Info("monitor mode: skipping execution",
			zap.String("direction", string(direction)),
			zap.Float64("index", index),
			zap.String("price", price.String()))
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	closeCandidate := s.book.FindOldestMatchingTrade(direction.Opposite(), price)
	closeResult, openResult := s.executeLegs(ctx, direction, index, closeCandidate)

	// Reconcile in fixed order, close before open, so statistics never
	// transiently show two offsetting open positions.
	if closeResult != nil && closeCandidate != nil {
		if s.book.CloseTrade(closeCandidate.ID, closeResult.Price) {
			s.ledger.LogTrade(index, closeResult.Price, closeResult.BaseAmountChange, closeResult.QuoteAmountChange)
		}
	}
	if openResult != nil {
		s.book.AddTrade(openResult.Price, openResult.BaseAmountChange, openResult.QuoteAmountChange, openResult.TxID)
		s.ledger.LogTrade(index, openResult.Price, openResult.BaseAmountChange, openResult.QuoteAmountChange)
	}

	s.book.UpdateTradeUPNL(price)
	stats := s.ledger.EnhancedStatistics(price)
	s.logger.Info("cycle reconciled",
		zap.Int64("cycle", stats.CycleCount),
		zap.String("net_change", stats.NetChange.String()),
		zap.String("current_value", stats.CurrentValue.String()))

	return nil
}

func (s *Scheduler) fetchSignal(ctx context.Context) (float64, decimal.Decimal, error) {
	index, err := s.sentiment.Index(ctx)
	if err != nil {
		return 0, decimal.Zero, errors.Wrap(err, "fetch sentiment index")
	}

	price, err := s.pricer.Price(ctx, s.pair)
	if err != nil {
		return 0, decimal.Zero, errors.Wrap(err, "fetch price")
	}
	if !price.IsPositive() {
		return 0, decimal.Zero, errors.Errorf("price oracle returned non-positive price %s", price)
	}

	return index, price, nil
}

// decide maps the signal to a trade direction. Sentiment mode trades on any
// non-neutral bucket; allocation mode rebalances toward a contrarian target
// split and triggers only when the deviation clears the minimum trade size.
func (s *Scheduler) decide(index float64, price decimal.Decimal, settings config.Settings) (domain.TradeDirection, bool) {
	if settings.Mode == config.ModeAllocation {
		return s.decideAllocation(index, price, settings)
	}

	bucket := settings.SentimentBoundaries.Bucket(index)
	direction, ok := bucket.Direction()
	if !ok {
		return "", false
	}

	s.logger.Info("sentiment signal",
		zap.Float64("index", index),
		zap.String("bucket", string(bucket)),
		zap.String("direction", string(direction)))
	return direction, true
}

func (s *Scheduler) decideAllocation(index float64, price decimal.Decimal, settings config.Settings) (domain.TradeDirection, bool) {
	base, quote := s.ledger.Balances()
	baseValue := base.Mul(price)
	totalValue := baseValue.Add(quote)
	if !totalValue.IsPositive() {
		return "", false
	}

	// contrarian target: the more fearful the index, the larger the base
	// allocation. AllocationThreshold is the pivot index at which the book
	// targets an even split.
	hundred := decimal.NewFromInt(100)
	pivot := decimal.NewFromFloat(settings.AllocationThreshold)
	targetPct := decimal.NewFromInt(50).Add(pivot.Sub(decimal.NewFromFloat(index)))
	if targetPct.IsNegative() {
		targetPct = decimal.Zero
	}
	if targetPct.GreaterThan(hundred) {
		targetPct = hundred
	}
	currentPct := baseValue.Div(totalValue).Mul(hundred)
	deviation := targetPct.Sub(currentPct)

	notional := deviation.Abs().Mul(totalValue).Div(hundred)
	if notional.LessThan(settings.MinTradeSize) {
		s.logger.Debug("allocation deviation below minimum trade size",
			zap.String("deviation_pct", deviation.String()),
			zap.String("notional", notional.String()))
		return "", false
	}

	direction := domain.TradeDirectionSell
	if deviation.IsPositive() {
		direction = domain.TradeDirectionBuy
	}

	s.logger.Info("allocation signal",
		zap.Float64("index", index),
		zap.String("target_pct", targetPct.String()),
		zap.String("current_pct", currentPct.String()),
		zap.String("direction", string(direction)))
	return direction, true
}

// executeLegs runs the close and open legs concurrently and joins before
// returning. Leg failures are logged, not propagated: a failed leg simply
// contributes no result to reconciliation.
func (s *Scheduler) executeLegs(ctx context.Context, direction domain.TradeDirection, index float64, closeCandidate *domain.Trade) (closeResult, openResult *domain.SwapResult) {
	g, legCtx := errgroup.WithContext(ctx)

	if closeCandidate != nil {
		g.Go(func() error {
			result, err := s.executeLeg(legCtx, executor.TradeIntent{
				Direction:       closeCandidate.Direction.Opposite(),
				Sentiment:       index,
				Bucket:          s.settings.Current().SentimentBoundaries.Bucket(index),
				SkipSignalGuard: true,
			})
			if err != nil {
				s.logLegFailure("close", err)
				return nil
			}
			closeResult = result
			return nil
		})
	}

	g.Go(func() error {
		result, err := s.executeLeg(legCtx, executor.TradeIntent{
			Direction: direction,
			Sentiment: index,
			Bucket:    s.settings.Current().SentimentBoundaries.Bucket(index),
		})
		if err != nil {
			s.logLegFailure("open", err)
			return nil
		}
		openResult = result
		return nil
	})

	_ = g.Wait()
	return closeResult, openResult
}

// executeLeg applies the uniform leg retry policy: bounded attempts with a
// fixed delay, and only for retryable failure classes.
func (s *Scheduler) executeLeg(ctx context.Context, intent executor.TradeIntent) (*domain.SwapResult, error) {
	return retrier.DoWithData(s.legRetrier, ctx, func(ctx context.Context) (*domain.SwapResult, error) {
		return s.exec.Execute(ctx, intent)
	})
}

func (s *Scheduler) logLegFailure(leg string, err error) {
	if reason, ok := executor.FailureReasonOf(err); ok && !reason.Retryable() {
		// business rejection, final for the cycle
		s.logger.Info("leg rejected", zap.String("leg", leg), zap.String("reason", string(reason)))
		return
	}
	s.logger.Warn("leg failed", zap.String("leg", leg), zap.Error(err))
}

// persist writes the full snapshot. A failed write keeps the in-memory state
// authoritative and bumps the degraded-health counter.
func (s *Scheduler) persist() snapshot.Snapshot {
	snap := snapshot.Snapshot{
		Ledger:        s.ledger.State(),
		OrderBook:     s.book.State(),
		Settings:      s.settings.Current(),
		LastSentiment: s.exec.LastSentiment(),
		LastTradeTime: s.exec.LastTradeTimes(),
		FailedSaves:   s.failedSaves,
	}

	if err := s.store.Save(snap); err != nil {
		s.failedSaves++
		snap.FailedSaves = s.failedSaves
		s.logger.Error("snapshot write failed, in-memory state remains authoritative",
			zap.Int("consecutive_failures", s.failedSaves),
			zap.Error(err))
		return snap
	}

	s.failedSaves = 0
	snap.FailedSaves = 0
	return snap
}

// nextAlignedTime computes the next wall-clock boundary aligned to the
// timeframe plus the settle delay.
func nextAlignedTime(now time.Time, timeframe, settleDelay time.Duration) time.Time {
	boundary := now.Truncate(timeframe)
	next := boundary.Add(timeframe).Add(settleDelay)
	if !next.After(now) {
		next = next.Add(timeframe)
	}
	return next
}
