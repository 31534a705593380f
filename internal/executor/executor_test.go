package executor

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/domain"
	"github.com/swaybot/sway/pkg/retrier"
)

const (
	testBaseMint  = "So11111111111111111111111111111111111111112"
	testQuoteMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testWalletKey = "wallet-1"
)

func testPair() domain.Pair {
	return domain.Pair{
		Base:  domain.Token{Symbol: "SOL", Mint: testBaseMint, Decimals: 9},
		Quote: domain.Token{Symbol: "USDC", Mint: testQuoteMint, Decimals: 6},
	}
}

type stubSettings struct {
	settings config.Settings
}

func (s stubSettings) Current() config.Settings { return s.settings }

type stubWallet struct {
	mu    sync.Mutex
	tips  []decimal.Decimal
	memos []string
}

func (w *stubWallet) Address() string { return testWalletKey }

func (w *stubWallet) TipTransaction(_ string, lamports decimal.Decimal) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tips = append(w.tips, lamports)
	return []byte("tip"), nil
}

func (w *stubWallet) AccountingTransaction(_ string, memo string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.memos = append(w.memos, memo)
	return []byte(memo), nil
}

func (w *stubWallet) Sign(txs [][]byte) ([][]byte, error) { return txs, nil }

type stubChain struct {
	balances map[string]decimal.Decimal
	balErr   error
}

func (c *stubChain) LatestBlockhash(context.Context) (string, error) { return "blockhash-1", nil }

func (c *stubChain) Balance(_ context.Context, _, mint string) (decimal.Decimal, error) {
	if c.balErr != nil {
		return decimal.Zero, c.balErr
	}
	return c.balances[mint], nil
}

type stubQuotes struct {
	mu    sync.Mutex
	calls []QuoteRequest
	quote *Quote
	err   error
}

func (q *stubQuotes) Quote(_ context.Context, req QuoteRequest) (*Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, req)
	if q.err != nil {
		return nil, q.err
	}
	return q.quote, nil
}

type stubRelay struct {
	mu          sync.Mutex
	tipFloor    decimal.Decimal
	tipFloorErr error

	submitCalls int
	submitErrs  []error
	bundleID    string

	statuses   []BundleStatus
	statusErr  error
	statusIdx  int
	lastBundle string
}

func (r *stubRelay) TipFloor(context.Context) (decimal.Decimal, error) {
	return r.tipFloor, r.tipFloorErr
}

func (r *stubRelay) SubmitBundle(context.Context, [][]byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitCalls++
	if len(r.submitErrs) > 0 {
		err := r.submitErrs[0]
		r.submitErrs = r.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return r.bundleID, nil
}

func (r *stubRelay) BundleStatus(_ context.Context, bundleID string) (BundleStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBundle = bundleID
	if r.statusErr != nil {
		return BundleStatus{}, r.statusErr
	}
	if r.statusIdx >= len(r.statuses) {
		return BundleStatus{State: BundleStatePending}, nil
	}
	status := r.statuses[r.statusIdx]
	r.statusIdx++
	return status, nil
}

type executorFixture struct {
	exec      *Executor
	wallet    *stubWallet
	chain     *stubChain
	quotes    *stubQuotes
	relay     *stubRelay
	auditPath string
}

func landedRelay() *stubRelay {
	return &stubRelay{
		tipFloor: decimal.NewFromInt(20_000),
		bundleID: "bundle-1",
		statuses: []BundleStatus{{
			State:       BundleStateLanded,
			TxID:        "sig-1",
			BaseChange:  decimal.RequireFromString("0.5"),
			QuoteChange: decimal.NewFromInt(-50),
		}},
	}
}

func newTestExecutor(t *testing.T, settings config.Settings, relay *stubRelay) *executorFixture {
	t.Helper()

	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	auditPath := filepath.Join(dir, "trades.csv")
	audit, err := NewAuditLog(auditPath)
	require.NoError(t, err)

	wallet := &stubWallet{}
	chain := &stubChain{balances: map[string]decimal.Decimal{
		testQuoteMint: decimal.NewFromInt(1000),
		testBaseMint:  decimal.NewFromInt(4),
	}}
	quotes := &stubQuotes{quote: &Quote{
		InAmount:  decimal.NewFromInt(50),
		OutAmount: decimal.RequireFromString("0.5"),
		SwapTx:    []byte("swap"),
	}}

	cfg := config.Config{
		MaxTipLamports:         decimal.NewFromInt(1_000_000),
		StaticTipFloorLamports: decimal.NewFromInt(10_000),
		ConfirmPollInterval:    time.Millisecond,
		ConfirmPollAttempts:    3,
	}

	exec := New(testPair(), wallet, chain, quotes, relay, stubSettings{settings: settings}, journal, audit, cfg, zap.NewNop())
	// keep rate-limit backoff out of test wall time
	exec.submitRetrier = retrier.NewBackoff(
		retrier.WithMaxRetries(4),
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithRetryIf(func(err error) bool { return errors.Is(err, ErrRateLimited) }),
	)

	return &executorFixture{exec: exec, wallet: wallet, chain: chain, quotes: quotes, relay: relay, auditPath: auditPath}
}

func variableSettings() config.Settings {
	settings := config.DefaultSettings()
	settings.Cooldown = 0
	settings.MinSentimentChange = 0
	return settings
}

func readAuditRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func buyIntent(sentiment float64) TradeIntent {
	return TradeIntent{
		Direction: domain.TradeDirectionBuy,
		Sentiment: sentiment,
		Bucket:    domain.SentimentExtremeFear,
	}
}

func TestExecutor_Execute_Lands(t *testing.T) {
	f := newTestExecutor(t, variableSettings(), landedRelay())

	result, err := f.exec.Execute(context.Background(), buyIntent(20))
	require.NoError(t, err)

	assert.Equal(t, "sig-1", result.TxID)
	assert.True(t, result.Price.Equal(decimal.NewFromInt(100)), "price derives from realized deltas, got %s", result.Price)
	assert.True(t, result.BaseAmountChange.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, result.QuoteAmountChange.Equal(decimal.NewFromInt(-50)))
	assert.Equal(t, domain.TradeDirectionBuy, result.Direction())

	// variable sizing: 1000 quote balance * 0.10 extreme fear multiplier
	require.Len(t, f.quotes.calls, 1)
	assert.True(t, f.quotes.calls[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, testQuoteMint, f.quotes.calls[0].InputMint)
	assert.Equal(t, testBaseMint, f.quotes.calls[0].OutputMint)
	assert.False(t, f.quotes.calls[0].ExactOut)

	anchor, ok := f.exec.LastTradeTimes()[testWalletKey]
	require.True(t, ok, "landed swap records the cooldown anchor")
	assert.WithinDuration(t, time.Now(), anchor, time.Minute)
	require.NotNil(t, f.exec.LastSentiment())
	assert.Equal(t, 20.0, *f.exec.LastSentiment())

	assert.Empty(t, f.exec.journal.Pending(), "landed intent is resolved in the journal")

	rows := readAuditRows(t, f.auditPath)
	require.Len(t, rows, 2, "header plus one row")
	assert.Equal(t, "landed", rows[1][9])
	assert.Equal(t, "sig-1", rows[1][8])
}

func TestExecutor_Execute_CooldownShortCircuits(t *testing.T) {
	settings := variableSettings()
	settings.Cooldown = 5 * time.Minute

	f := newTestExecutor(t, settings, landedRelay())
	f.exec.lastTradeTime[testWalletKey] = time.Now().Add(-3 * time.Minute)

	result, err := f.exec.Execute(context.Background(), buyIntent(20))
	require.Nil(t, result)

	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureCooldown, reason)
	assert.False(t, reason.Retryable())

	assert.Empty(t, f.quotes.calls, "no quote is requested under cooldown")
	assert.Zero(t, f.relay.submitCalls)

	rows := readAuditRows(t, f.auditPath)
	require.Len(t, rows, 2, "the rejected attempt still reaches the audit trail")
	assert.Equal(t, "cooldown", rows[1][9])
}

func TestExecutor_Execute_CooldownElapsed(t *testing.T) {
	settings := variableSettings()
	settings.Cooldown = 5 * time.Minute

	f := newTestExecutor(t, settings, landedRelay())
	f.exec.lastTradeTime[testWalletKey] = time.Now().Add(-6 * time.Minute)

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	require.NoError(t, err)
}

func TestExecutor_Execute_ConcurrentLegs(t *testing.T) {
	relay := landedRelay()
	relay.statuses = append(relay.statuses, BundleStatus{
		State:       BundleStateLanded,
		TxID:        "sig-2",
		BaseChange:  decimal.RequireFromString("-0.5"),
		QuoteChange: decimal.NewFromInt(50),
	})
	f := newTestExecutor(t, variableSettings(), relay)

	closeIntent := TradeIntent{
		Direction:       domain.TradeDirectionSell,
		Sentiment:       20,
		Bucket:          domain.SentimentExtremeFear,
		SkipSignalGuard: true,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.exec.Execute(context.Background(), closeIntent)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.exec.Execute(context.Background(), buyIntent(20))
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Empty(t, f.exec.journal.Pending(), "both intents resolve in the journal")
	rows := readAuditRows(t, f.auditPath)
	require.Len(t, rows, 3, "header plus one row per leg")

	anchor, ok := f.exec.LastTradeTimes()[testWalletKey]
	require.True(t, ok, "the open leg records the cooldown anchor")
	assert.WithinDuration(t, time.Now(), anchor, time.Minute)
}

func TestExecutor_Execute_CloseLegLeavesAnchorsUntouched(t *testing.T) {
	settings := variableSettings()
	settings.Cooldown = 5 * time.Minute

	relay := landedRelay()
	relay.statuses = append(relay.statuses, BundleStatus{
		State:       BundleStateLanded,
		TxID:        "sig-2",
		BaseChange:  decimal.RequireFromString("0.5"),
		QuoteChange: decimal.NewFromInt(-50),
	})
	f := newTestExecutor(t, settings, relay)

	closeIntent := buyIntent(20)
	closeIntent.SkipSignalGuard = true

	_, err := f.exec.Execute(context.Background(), closeIntent)
	require.NoError(t, err)
	assert.Empty(t, f.exec.LastTradeTimes(), "a reconciliation leg does not start a cooldown window")
	assert.Nil(t, f.exec.LastSentiment())

	_, err = f.exec.Execute(context.Background(), buyIntent(20))
	require.NoError(t, err, "the open leg is not cooldown-rejected by the landed close")
	assert.NotEmpty(t, f.exec.LastTradeTimes())
}

func TestExecutor_Execute_HysteresisGuard(t *testing.T) {
	settings := variableSettings()
	settings.MinSentimentChange = 3

	f := newTestExecutor(t, settings, landedRelay())
	last := 50.0
	f.exec.RestoreLastSentiment(&last)

	_, err := f.exec.Execute(context.Background(), buyIntent(51))
	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureInsignificantChange, reason)
	assert.Empty(t, f.quotes.calls)
}

func TestExecutor_Execute_CloseLegSkipsHysteresis(t *testing.T) {
	settings := variableSettings()
	settings.MinSentimentChange = 3

	f := newTestExecutor(t, settings, landedRelay())
	last := 50.0
	f.exec.RestoreLastSentiment(&last)

	intent := buyIntent(51)
	intent.SkipSignalGuard = true

	_, err := f.exec.Execute(context.Background(), intent)
	require.NoError(t, err)
}

func TestExecutor_Execute_QuoteFailureIsRetryable(t *testing.T) {
	f := newTestExecutor(t, variableSettings(), landedRelay())
	f.quotes.err = errors.New("aggregator unavailable")

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureQuote, reason)
	assert.True(t, reason.Retryable())
	assert.Zero(t, f.relay.submitCalls, "no bundle is submitted without a quote")
}

func TestExecutor_Execute_RelayRejectsBundle(t *testing.T) {
	relay := landedRelay()
	relay.statuses = []BundleStatus{{State: BundleStateFailed}}

	f := newTestExecutor(t, variableSettings(), relay)

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureBundle, reason)

	assert.Empty(t, f.exec.LastTradeTimes(), "failed swap leaves the cooldown anchor unset")
	assert.Empty(t, f.exec.journal.Pending(), "failed intent is resolved in the journal")

	rows := readAuditRows(t, f.auditPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "bundle_failure", rows[1][9])
}

func TestExecutor_Execute_ConfirmationTimeout(t *testing.T) {
	relay := landedRelay()
	relay.statuses = nil // every poll reports pending

	f := newTestExecutor(t, variableSettings(), relay)

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureBundle, reason)
}

func TestExecutor_Execute_RetriesRateLimitedSubmission(t *testing.T) {
	relay := landedRelay()
	relay.submitErrs = []error{ErrRateLimited, ErrRateLimited}

	f := newTestExecutor(t, variableSettings(), relay)

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	require.NoError(t, err)
	assert.Equal(t, 3, f.relay.submitCalls)
}

func TestExecutor_Execute_NonRateLimitSubmitErrorFailsFast(t *testing.T) {
	relay := landedRelay()
	relay.submitErrs = []error{errors.New("relay internal error")}

	f := newTestExecutor(t, variableSettings(), relay)

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	reason, ok := FailureReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.FailureBundle, reason)
	assert.Equal(t, 1, f.relay.submitCalls)
}

func TestExecutor_BundleCarriesAccountingMemo(t *testing.T) {
	f := newTestExecutor(t, variableSettings(), landedRelay())

	_, err := f.exec.Execute(context.Background(), buyIntent(20))
	require.NoError(t, err)

	require.Len(t, f.wallet.memos, 1)
	assert.Contains(t, f.wallet.memos[0], "sway:")
	assert.Contains(t, f.wallet.memos[0], ":buy:")
}

func TestExecutor_TipLamports(t *testing.T) {
	t.Run("live floor within bounds", func(t *testing.T) {
		f := newTestExecutor(t, variableSettings(), landedRelay())
		tip := f.exec.tipLamports(context.Background())
		assert.True(t, tip.Equal(decimal.NewFromInt(20_000)))
	})

	t.Run("falls back to static floor", func(t *testing.T) {
		relay := landedRelay()
		relay.tipFloorErr = errors.New("unavailable")
		f := newTestExecutor(t, variableSettings(), relay)
		tip := f.exec.tipLamports(context.Background())
		assert.True(t, tip.Equal(decimal.NewFromInt(10_000)))
	})

	t.Run("capped at maximum", func(t *testing.T) {
		relay := landedRelay()
		relay.tipFloor = decimal.NewFromInt(5_000_000)
		f := newTestExecutor(t, variableSettings(), relay)
		tip := f.exec.tipLamports(context.Background())
		assert.True(t, tip.Equal(decimal.NewFromInt(1_000_000)))
	})
}
