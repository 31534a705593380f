// Package executor turns a trade intent into a settled on-chain swap result
// or a classified failure: cooldown gate, sizing, quote, bundle construction,
// submission and confirmation polling.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/domain"
	"github.com/swaybot/sway/pkg/retrier"
)

// ErrRateLimited marks a submission rejected by HTTP 429 rate limiting.
// It is the only submission error the backoff retrier keeps retrying.
var ErrRateLimited = errors.New("rate limited")

// QuoteRequest asks the aggregator for an exact-in or exact-out quote.
type QuoteRequest struct {
	InputMint  string
	OutputMint string
	Amount     decimal.Decimal
	// ExactOut when true Amount fixes the output side of the swap.
	ExactOut bool
}

// Quote is the aggregator response, including the unsigned swap transaction.
type Quote struct {
	InAmount  decimal.Decimal
	OutAmount decimal.Decimal
	SwapTx    []byte
}

// QuoteClient requests swap quotes from the liquidity aggregator.
type QuoteClient interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// BundleState relay-side status of a submitted bundle.
type BundleState string

const (
	BundleStatePending BundleState = "pending"
	BundleStateLanded  BundleState = "landed"
	BundleStateFailed  BundleState = "failed"
)

// BundleStatus is the relay poll response. Amount changes are realized
// on-chain deltas reported once the bundle landed.
type BundleStatus struct {
	State       BundleState
	TxID        string
	BaseChange  decimal.Decimal
	QuoteChange decimal.Decimal
}

// RelayClient submits signed transaction sets and polls their status.
type RelayClient interface {
	TipFloor(ctx context.Context) (decimal.Decimal, error)
	SubmitBundle(ctx context.Context, txs [][]byte) (string, error)
	BundleStatus(ctx context.Context, bundleID string) (BundleStatus, error)
}

// Wallet signs transactions for the single tracked wallet.
type Wallet interface {
	Address() string
	TipTransaction(blockhash string, lamports decimal.Decimal) ([]byte, error)
	AccountingTransaction(blockhash string, memo string) ([]byte, error)
	Sign(txs [][]byte) ([][]byte, error)
}

// Chain queries the RPC node.
type Chain interface {
	LatestBlockhash(ctx context.Context) (string, error)
	Balance(ctx context.Context, wallet, mint string) (decimal.Decimal, error)
}

type settingsProvider interface {
	Current() config.Settings
}

// TradeIntent is the decision handed to the executor for one leg.
type TradeIntent struct {
	Direction domain.TradeDirection
	Sentiment float64
	Bucket    domain.SentimentBucket
	// SkipSignalGuard bypasses the hysteresis check; set for close legs,
	// which liquidate an existing position rather than act on the signal.
	SkipSignalGuard bool
}

// ExecutionError is a classified swap failure. The reason decides whether the
// caller may retry within the cycle.
type ExecutionError struct {
	Reason domain.FailureReason
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// FailureReasonOf extracts the classification from an executor error.
func FailureReasonOf(err error) (domain.FailureReason, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Reason, true
	}
	return "", false
}

// Executor executes swap bundles for one wallet. Execute is safe for
// concurrent use: the scheduler runs the close and open legs of a cycle in
// parallel against the same instance.
type Executor struct {
	logger   *zap.Logger
	pair     domain.Pair
	wallet   Wallet
	chain    Chain
	quotes   QuoteClient
	relay    RelayClient
	settings settingsProvider
	journal  *Journal
	audit    *AuditLog

	maxTip          decimal.Decimal
	staticTipFloor  decimal.Decimal
	confirmInterval time.Duration
	confirmAttempts int
	submitRetrier   *retrier.Retrier

	// mu guards the trade anchors and the strategic sizing period.
	mu            sync.Mutex
	lastTradeTime map[string]time.Time
	lastSentiment *float64
	period        *domain.TradingPeriod
	now           func() time.Time
}

// New builds the executor.
func New(
	pair domain.Pair,
	wallet Wallet,
	chain Chain,
	quotes QuoteClient,
	relay RelayClient,
	settings settingsProvider,
	journal *Journal,
	audit *AuditLog,
	cfg config.Config,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		logger:          logger.With(zap.String("component", "executor"), zap.String("pair", pair.String())),
		pair:            pair,
		wallet:          wallet,
		chain:           chain,
		quotes:          quotes,
		relay:           relay,
		settings:        settings,
		journal:         journal,
		audit:           audit,
		maxTip:          cfg.MaxTipLamports,
		staticTipFloor:  cfg.StaticTipFloorLamports,
		confirmInterval: cfg.ConfirmPollInterval,
		confirmAttempts: cfg.ConfirmPollAttempts,
		submitRetrier: retrier.NewBackoff(
			retrier.WithMaxRetries(4),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithRetryIf(func(err error) bool { return errors.Is(err, ErrRateLimited) }),
		),
		lastTradeTime: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Execute runs the full pipeline for one trade intent.
func (e *Executor) Execute(ctx context.Context, intent TradeIntent) (*domain.SwapResult, error) {
	settings := e.settings.Current()

	if err := e.checkCooldown(settings); err != nil {
		e.recordFailure("", intent, decimal.Zero, err)
		return nil, err
	}
	if err := e.checkSignalChange(settings, intent); err != nil {
		e.recordFailure("", intent, decimal.Zero, err)
		return nil, err
	}

	amount, exactOut, err := e.tradeSize(ctx, intent, settings)
	if err != nil {
		classified := &ExecutionError{Reason: domain.FailureQuote, Err: err}
		e.recordFailure("", intent, decimal.Zero, classified)
		return nil, classified
	}

	quote, err := e.requestQuote(ctx, intent.Direction, amount, exactOut)
	if err != nil {
		classified := &ExecutionError{Reason: domain.FailureQuote, Err: err}
		e.recordFailure("", intent, amount, classified)
		return nil, classified
	}

	record, err := e.journal.Prepare(intent.Direction, intent.Sentiment, amount)
	if err != nil {
		return nil, errors.Wrap(err, "journal swap intent")
	}

	result, execErr := e.submitAndConfirm(ctx, record, quote)
	if execErr != nil {
		if err := e.journal.MarkFailed(record, execErr); err != nil {
			e.logger.Error("failed to journal failed intent", zap.Error(err))
		}
		e.recordFailure(record.ID, intent, amount, execErr)
		return nil, execErr
	}

	now := e.now()
	// Reconciliation legs do not advance the anchors: cooldown and
	// hysteresis meter signal-driven trades only.
	if !intent.SkipSignalGuard {
		sentiment := intent.Sentiment
		e.mu.Lock()
		e.lastTradeTime[e.wallet.Address()] = now
		e.lastSentiment = &sentiment
		e.mu.Unlock()
	}

	if err := e.journal.MarkDone(record, result.TxID); err != nil {
		e.logger.Error("failed to journal landed intent", zap.Error(err))
	}
	if err := e.audit.Record(auditEntry{
		Time:        now,
		IntentID:    record.ID,
		Direction:   intent.Direction,
		Sentiment:   intent.Sentiment,
		Amount:      amount,
		Price:       result.Price,
		BaseChange:  result.BaseAmountChange,
		QuoteChange: result.QuoteAmountChange,
		TxID:        result.TxID,
		Outcome:     "landed",
	}); err != nil {
		e.logger.Error("failed to append audit trail", zap.Error(err))
	}

	e.logger.Info("swap landed",
		zap.String("intent_id", record.ID),
		zap.String("direction", string(intent.Direction)),
		zap.String("price", result.Price.String()),
		zap.String("base_change", result.BaseAmountChange.String()),
		zap.String("quote_change", result.QuoteAmountChange.String()))

	return result, nil
}

func (e *Executor) checkCooldown(settings config.Settings) error {
	e.mu.Lock()
	last, ok := e.lastTradeTime[e.wallet.Address()]
	e.mu.Unlock()
	if !ok || settings.Cooldown <= 0 {
		return nil
	}

	elapsed := e.now().Sub(last)
	if elapsed < settings.Cooldown {
		return &ExecutionError{
			Reason: domain.FailureCooldown,
			Err:    fmt.Errorf("cooldown active: %s elapsed of %s", elapsed.Round(time.Second), settings.Cooldown),
		}
	}
	return nil
}

func (e *Executor) checkSignalChange(settings config.Settings, intent TradeIntent) error {
	e.mu.Lock()
	anchor := e.lastSentiment
	e.mu.Unlock()
	if intent.SkipSignalGuard || anchor == nil || settings.MinSentimentChange <= 0 {
		return nil
	}

	delta := intent.Sentiment - *anchor
	if delta < 0 {
		delta = -delta
	}
	if delta < settings.MinSentimentChange {
		return &ExecutionError{
			Reason: domain.FailureInsignificantChange,
			Err:    fmt.Errorf("index moved %.2f, need %.2f", delta, settings.MinSentimentChange),
		}
	}
	return nil
}

func (e *Executor) requestQuote(ctx context.Context, direction domain.TradeDirection, amount decimal.Decimal, exactOut bool) (*Quote, error) {
	req := QuoteRequest{Amount: amount, ExactOut: exactOut}
	if direction == domain.TradeDirectionBuy {
		req.InputMint = e.pair.Quote.Mint
		req.OutputMint = e.pair.Base.Mint
	} else {
		req.InputMint = e.pair.Base.Mint
		req.OutputMint = e.pair.Quote.Mint
	}

	quote, err := e.quotes.Quote(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "request quote")
	}
	if quote.InAmount.IsZero() || quote.OutAmount.IsZero() {
		return nil, fmt.Errorf("aggregator returned empty quote")
	}
	return quote, nil
}

func (e *Executor) recordFailure(intentID string, intent TradeIntent, amount decimal.Decimal, cause error) {
	reason, _ := FailureReasonOf(cause)
	e.logger.Warn("swap attempt failed",
		zap.String("direction", string(intent.Direction)),
		zap.String("reason", string(reason)),
		zap.Error(cause))

	if err := e.audit.Record(auditEntry{
		Time:      e.now(),
		IntentID:  intentID,
		Direction: intent.Direction,
		Sentiment: intent.Sentiment,
		Amount:    amount,
		Outcome:   string(reason),
	}); err != nil {
		e.logger.Error("failed to append audit trail", zap.Error(err))
	}
}

// LastTradeTimes exposes the cooldown anchors for persistence.
func (e *Executor) LastTradeTimes() map[string]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Time, len(e.lastTradeTime))
	for k, v := range e.lastTradeTime {
		out[k] = v
	}
	return out
}

// RestoreLastTradeTimes reloads cooldown anchors from a persisted snapshot.
func (e *Executor) RestoreLastTradeTimes(times map[string]time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range times {
		e.lastTradeTime[k] = v
	}
}

// LastSentiment exposes the hysteresis anchor for persistence.
func (e *Executor) LastSentiment() *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSentiment
}

// RestoreLastSentiment reloads the hysteresis anchor.
func (e *Executor) RestoreLastSentiment(v *float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSentiment = v
}
