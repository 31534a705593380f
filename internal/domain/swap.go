package domain

import "github.com/shopspring/decimal"

// SwapResult is the settled outcome of one executed swap leg. Amount changes
// are realized on-chain deltas, not the original quote, so Price reflects
// actual slippage.
type SwapResult struct {
	TxID              string          `json:"tx_id"`
	Price             decimal.Decimal `json:"price"`
	BaseAmountChange  decimal.Decimal `json:"base_amount_change"`
	QuoteAmountChange decimal.Decimal `json:"quote_amount_change"`
}

// Direction classifies the result from the sign of the base amount change.
func (r *SwapResult) Direction() TradeDirection {
	if r.BaseAmountChange.IsNegative() {
		return TradeDirectionSell
	}
	return TradeDirectionBuy
}

// FailureReason classifies why a swap attempt produced no settled result.
type FailureReason string

const (
	// FailureCooldown the per-wallet cooldown window has not elapsed.
	FailureCooldown FailureReason = "cooldown"
	// FailureInsignificantChange the sentiment index did not move enough
	// to justify a new trade (hysteresis guard).
	FailureInsignificantChange FailureReason = "insignificant_signal_change"
	// FailureQuote the aggregator could not produce a usable quote.
	FailureQuote FailureReason = "quote_failure"
	// FailureBundle the relay rejected the bundle or it did not land.
	FailureBundle FailureReason = "bundle_failure"
)

// Retryable reports whether the caller may retry the attempt within the
// same cycle. Business rejections are final for the cycle.
func (r FailureReason) Retryable() bool {
	return r == FailureQuote || r == FailureBundle
}
