package executor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/domain"
)

var percentDivisor = decimal.NewFromInt(100)

// tradeSize computes the swap amount for the intent and whether the quote
// should fix the output side.
//
// Variable sizing: input-token balance times the bucket multiplier,
// recomputed every cycle. Buys spend quote exact-in, sells spend base
// exact-in.
//
// Strategic sizing: a quote notional fixed once per rolling 24h trading
// period. Buys spend it exact-in, sells request it exact-out so every trade
// of the period moves the same notional.
func (e *Executor) tradeSize(ctx context.Context, intent TradeIntent, settings config.Settings) (decimal.Decimal, bool, error) {
	switch settings.SizingMethod {
	case domain.SizingVariable:
		amount, err := e.variableSize(ctx, intent, settings)
		return amount, false, err
	case domain.SizingStrategic:
		amount, err := e.strategicSize(ctx, settings)
		return amount, intent.Direction == domain.TradeDirectionSell, err
	default:
		return decimal.Zero, false, fmt.Errorf("unsupported sizing method: %s", settings.SizingMethod)
	}
}

func (e *Executor) variableSize(ctx context.Context, intent TradeIntent, settings config.Settings) (decimal.Decimal, error) {
	multiplier, ok := settings.SentimentMultipliers[intent.Bucket]
	if !ok || multiplier.IsZero() {
		return decimal.Zero, fmt.Errorf("no sizing multiplier for bucket %s", intent.Bucket)
	}

	inputMint := e.pair.Quote.Mint
	if intent.Direction == domain.TradeDirectionSell {
		inputMint = e.pair.Base.Mint
	}

	balance, err := e.chain.Balance(ctx, e.wallet.Address(), inputMint)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query balance for sizing")
	}

	amount := balance.Mul(multiplier)
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("computed trade size is not positive: balance %s, multiplier %s", balance, multiplier)
	}
	return amount, nil
}

func (e *Executor) strategicSize(ctx context.Context, settings config.Settings) (decimal.Decimal, error) {
	now := e.now()
	e.mu.Lock()
	if !e.period.Expired(now) {
		size := e.period.BaseTradeSize
		e.mu.Unlock()
		return size, nil
	}
	e.mu.Unlock()

	quoteBalance, err := e.chain.Balance(ctx, e.wallet.Address(), e.pair.Quote.Mint)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query quote balance for trading period")
	}

	size := quoteBalance.Mul(settings.StrategicPercent).Div(percentDivisor)
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("strategic trade size is not positive: balance %s", quoteBalance)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// A concurrent leg may have rolled the period over while the balance
	// query was in flight.
	if !e.period.Expired(now) {
		return e.period.BaseTradeSize, nil
	}
	e.period = &domain.TradingPeriod{Start: now, BaseTradeSize: size}
	e.logger.Info("new trading period established",
		zap.Time("start", now),
		zap.String("base_trade_size", size.String()))

	return size, nil
}

// TradingPeriod exposes the active strategic sizing window, nil when none.
func (e *Executor) TradingPeriod() *domain.TradingPeriod {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.period
}
