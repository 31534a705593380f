package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/internal/domain"
	"github.com/swaybot/sway/pkg/retrier"
)

// submitAndConfirm builds the three-transaction bundle on one fresh
// blockhash, submits it and polls the relay until it lands, fails or the
// poll budget runs out.
func (e *Executor) submitAndConfirm(ctx context.Context, record *IntentRecord, quote *Quote) (*domain.SwapResult, *ExecutionError) {
	txs, err := e.buildBundle(ctx, record, quote)
	if err != nil {
		return nil, &ExecutionError{Reason: domain.FailureBundle, Err: err}
	}

	// Backoff with jitter applies only here: the relay rate-limits
	// submissions, while status polling below stays a plain fixed interval.
	bundleID, err := retrier.DoWithData(e.submitRetrier, ctx, func(ctx context.Context) (string, error) {
		return e.relay.SubmitBundle(ctx, txs)
	})
	if err != nil {
		return nil, &ExecutionError{Reason: domain.FailureBundle, Err: errors.Wrap(err, "submit bundle")}
	}

	e.logger.Debug("bundle submitted", zap.String("bundle_id", bundleID), zap.String("intent_id", record.ID))

	status, confirmErr := e.awaitSettlement(ctx, bundleID)
	if confirmErr != nil {
		return nil, confirmErr
	}

	return mapResult(status)
}

// buildBundle assembles swap, relay tip and volume-accounting transactions
// sharing one blockhash and signs them together so they land or fail as a
// unit.
func (e *Executor) buildBundle(ctx context.Context, record *IntentRecord, quote *Quote) ([][]byte, error) {
	blockhash, err := e.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch blockhash")
	}

	tip := e.tipLamports(ctx)
	tipTx, err := e.wallet.TipTransaction(blockhash, tip)
	if err != nil {
		return nil, errors.Wrap(err, "build tip transaction")
	}

	memo := fmt.Sprintf("sway:%s:%s:%s", record.ID, record.Direction, record.Amount.String())
	accountingTx, err := e.wallet.AccountingTransaction(blockhash, memo)
	if err != nil {
		return nil, errors.Wrap(err, "build accounting transaction")
	}

	signed, err := e.wallet.Sign([][]byte{quote.SwapTx, tipTx, accountingTx})
	if err != nil {
		return nil, errors.Wrap(err, "sign bundle")
	}
	return signed, nil
}

// tipLamports sizes the relay tip from the live tip-floor estimate, falling
// back to the static floor, and bounds it by the configured maximum.
func (e *Executor) tipLamports(ctx context.Context) decimal.Decimal {
	tip, err := e.relay.TipFloor(ctx)
	if err != nil || !tip.IsPositive() {
		e.logger.Debug("tip floor estimate unavailable, using static fallback", zap.Error(err))
		tip = e.staticTipFloor
	}
	if tip.GreaterThan(e.maxTip) {
		tip = e.maxTip
	}
	return tip
}

func (e *Executor) awaitSettlement(ctx context.Context, bundleID string) (*BundleStatus, *ExecutionError) {
	for attempt := 0; attempt < e.confirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &ExecutionError{Reason: domain.FailureBundle, Err: ctx.Err()}
		case <-time.After(e.confirmInterval):
		}

		status, err := e.relay.BundleStatus(ctx, bundleID)
		if err != nil {
			e.logger.Debug("bundle status poll failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		switch status.State {
		case BundleStateLanded:
			return &status, nil
		case BundleStateFailed:
			return nil, &ExecutionError{
				Reason: domain.FailureBundle,
				Err:    fmt.Errorf("relay rejected bundle %s", bundleID),
			}
		}
	}

	// timeout without resolution is treated as failure
	return nil, &ExecutionError{
		Reason: domain.FailureBundle,
		Err:    fmt.Errorf("bundle %s unresolved after %d polls", bundleID, e.confirmAttempts),
	}
}

// mapResult derives the swap result from realized amounts. The price comes
// from what actually settled, not the original quote, so slippage is
// reflected.
func mapResult(status *BundleStatus) (*domain.SwapResult, *ExecutionError) {
	if status.BaseChange.IsZero() {
		return nil, &ExecutionError{
			Reason: domain.FailureBundle,
			Err:    fmt.Errorf("landed bundle reported zero base amount change"),
		}
	}

	return &domain.SwapResult{
		TxID:              status.TxID,
		Price:             status.QuoteChange.Div(status.BaseChange).Abs(),
		BaseAmountChange:  status.BaseChange,
		QuoteAmountChange: status.QuoteChange,
	}, nil
}
