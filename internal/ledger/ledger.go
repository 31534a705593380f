// Package ledger tracks wallet balances, cumulative traded volumes and the
// derived position statistics of the single tracked wallet.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TradeRecord is one logged trade in the ledger history.
type TradeRecord struct {
	Time        time.Time             `json:"time"`
	Sentiment   float64               `json:"sentiment"`
	Price       decimal.Decimal       `json:"price"`
	BaseChange  decimal.Decimal       `json:"base_change"`
	QuoteChange decimal.Decimal       `json:"quote_change"`
	Direction   domain.TradeDirection `json:"direction"`
}

// derivedCache memoizes price-dependent derived values. The price is queried
// once per cycle, so a single-entry cache keyed by price value is enough.
type derivedCache struct {
	valid        bool
	price        decimal.Decimal
	netChange    decimal.Decimal
	currentValue decimal.Decimal
	pctChange    decimal.Decimal
}

// Ledger is the position accountant. It is created once at startup and lives
// for the process lifetime; a restart discards it and reinitializes from
// fresh on-chain balances. All access happens from the scheduler goroutine.
type Ledger struct {
	logger *zap.Logger
	pair   domain.Pair

	baseBalance  decimal.Decimal
	quoteBalance decimal.Decimal

	initialBaseBalance  decimal.Decimal
	initialQuoteBalance decimal.Decimal

	totalBought   decimal.Decimal
	totalSpent    decimal.Decimal
	totalSold     decimal.Decimal
	totalReceived decimal.Decimal
	netBaseTraded decimal.Decimal

	startTime  time.Time
	cycleCount int64
	history    []TradeRecord

	cache derivedCache
	now   func() time.Time
}

// New builds a ledger treating the supplied on-chain balances as inception.
func New(pair domain.Pair, baseBalance, quoteBalance decimal.Decimal, logger *zap.Logger) *Ledger {
	l := &Ledger{
		logger:              logger.With(zap.String("component", "ledger"), zap.String("pair", pair.String())),
		pair:                pair,
		baseBalance:         baseBalance,
		quoteBalance:        quoteBalance,
		initialBaseBalance:  baseBalance,
		initialQuoteBalance: quoteBalance,
		now:                 time.Now,
	}
	l.startTime = l.now()
	return l
}

// UpdateBalances replaces current balances with freshly queried on-chain
// values. An invalid value retains the prior one and logs a validation
// failure; the call never fails.
func (l *Ledger) UpdateBalances(base, quote decimal.Decimal) {
	if base.IsNegative() {
		l.logger.Warn("rejected base balance update", zap.String("value", base.String()))
	} else {
		l.baseBalance = base
	}

	if quote.IsNegative() {
		l.logger.Warn("rejected quote balance update", zap.String("value", quote.String()))
	} else {
		l.quoteBalance = quote
	}

	l.cache.valid = false
}

// LogTrade validates and appends a trade to the history, updating running
// totals. Returns nil when validation fails; the caller must treat nil as
// "not logged", not as an error.
func (l *Ledger) LogTrade(sentiment float64, price, baseChange, quoteChange decimal.Decimal) *TradeRecord {
	if !price.IsPositive() {
		l.logger.Warn("trade not logged: price must be positive", zap.String("price", price.String()))
		return nil
	}
	if baseChange.IsZero() {
		l.logger.Warn("trade not logged: base change is zero")
		return nil
	}

	direction := domain.TradeDirectionSell
	if baseChange.IsPositive() {
		direction = domain.TradeDirectionBuy
	}

	record := TradeRecord{
		Time:        l.now(),
		Sentiment:   sentiment,
		Price:       price,
		BaseChange:  baseChange,
		QuoteChange: quoteChange,
		Direction:   direction,
	}
	l.history = append(l.history, record)

	switch direction {
	case domain.TradeDirectionBuy:
		l.totalBought = l.totalBought.Add(baseChange)
		l.totalSpent = l.totalSpent.Add(quoteChange.Abs())
	case domain.TradeDirectionSell:
		l.totalSold = l.totalSold.Add(baseChange.Abs())
		l.totalReceived = l.totalReceived.Add(quoteChange.Abs())
	}
	l.netBaseTraded = l.netBaseTraded.Add(baseChange)

	l.cache.valid = false

	return &l.history[len(l.history)-1]
}

// AverageEntryPrice totalSpent/totalBought, zero when nothing was bought.
func (l *Ledger) AverageEntryPrice() decimal.Decimal {
	if l.totalBought.IsZero() {
		return decimal.Zero
	}
	return l.totalSpent.Div(l.totalBought)
}

// AverageExitPrice totalReceived/totalSold, zero when nothing was sold.
func (l *Ledger) AverageExitPrice() decimal.Decimal {
	if l.totalSold.IsZero() {
		return decimal.Zero
	}
	return l.totalReceived.Div(l.totalSold)
}

// NetChange is the realized plus mark-to-market result of all logged trades
// at the supplied price.
func (l *Ledger) NetChange(currentPrice decimal.Decimal) decimal.Decimal {
	l.refreshCache(currentPrice)
	return l.cache.netChange
}

// CurrentValue is the portfolio value at the supplied price.
func (l *Ledger) CurrentValue(currentPrice decimal.Decimal) decimal.Decimal {
	l.refreshCache(currentPrice)
	return l.cache.currentValue
}

// PortfolioPercentageChange is the net change relative to the inception
// portfolio valued at the supplied price.
func (l *Ledger) PortfolioPercentageChange(currentPrice decimal.Decimal) decimal.Decimal {
	l.refreshCache(currentPrice)
	return l.cache.pctChange
}

func (l *Ledger) refreshCache(currentPrice decimal.Decimal) {
	if l.cache.valid && l.cache.price.Equal(currentPrice) {
		return
	}

	netChange := l.totalReceived.Sub(l.totalSpent).Add(l.netBaseTraded.Mul(currentPrice))
	currentValue := l.quoteBalance.Add(l.baseBalance.Mul(currentPrice))

	initialValue := l.initialQuoteBalance.Add(l.initialBaseBalance.Mul(currentPrice))
	pctChange := decimal.Zero
	if initialValue.IsPositive() {
		pctChange = netChange.Div(initialValue).Mul(hundred)
	}

	l.cache = derivedCache{
		valid:        true,
		price:        currentPrice,
		netChange:    netChange,
		currentValue: currentValue,
		pctChange:    pctChange,
	}
}

// IncrementCycle bumps the completed-cycle counter.
func (l *Ledger) IncrementCycle() {
	l.cycleCount++
}

// CycleCount returns the number of completed cycles.
func (l *Ledger) CycleCount() int64 {
	return l.cycleCount
}

// Balances returns the currently tracked base and quote balances.
func (l *Ledger) Balances() (base, quote decimal.Decimal) {
	return l.baseBalance, l.quoteBalance
}

// History returns a copy of the logged trade history.
func (l *Ledger) History() []TradeRecord {
	out := make([]TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Statistics is the aggregated ledger report for one cycle.
type Statistics struct {
	Runtime           time.Duration   `json:"runtime"`
	CycleCount        int64           `json:"cycle_count"`
	BaseBalance       decimal.Decimal `json:"base_balance"`
	QuoteBalance      decimal.Decimal `json:"quote_balance"`
	TotalBought       decimal.Decimal `json:"total_bought"`
	TotalSpent        decimal.Decimal `json:"total_spent"`
	TotalSold         decimal.Decimal `json:"total_sold"`
	TotalReceived     decimal.Decimal `json:"total_received"`
	NetBaseTraded     decimal.Decimal `json:"net_base_traded"`
	AverageEntryPrice decimal.Decimal `json:"average_entry_price"`
	AverageExitPrice  decimal.Decimal `json:"average_exit_price"`
	NetChange         decimal.Decimal `json:"net_change"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	PercentageChange  decimal.Decimal `json:"percentage_change"`
	TradeCount        int             `json:"trade_count"`
}

// EnhancedStatistics aggregates the full ledger report. On any internal
// failure it degrades to a minimal report carrying at least runtime and
// cycle count instead of failing the whole cycle.
func (l *Ledger) EnhancedStatistics(currentPrice decimal.Decimal) (stats Statistics) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("statistics aggregation failed, returning minimal report", zap.Any("cause", r))
			stats = Statistics{
				Runtime:    l.now().Sub(l.startTime),
				CycleCount: l.cycleCount,
			}
		}
	}()

	stats = Statistics{
		Runtime:           l.now().Sub(l.startTime),
		CycleCount:        l.cycleCount,
		BaseBalance:       l.baseBalance,
		QuoteBalance:      l.quoteBalance,
		TotalBought:       l.totalBought,
		TotalSpent:        l.totalSpent,
		TotalSold:         l.totalSold,
		TotalReceived:     l.totalReceived,
		NetBaseTraded:     l.netBaseTraded,
		AverageEntryPrice: l.AverageEntryPrice(),
		AverageExitPrice:  l.AverageExitPrice(),
		NetChange:         l.NetChange(currentPrice),
		CurrentValue:      l.CurrentValue(currentPrice),
		PercentageChange:  l.PortfolioPercentageChange(currentPrice),
		TradeCount:        len(l.history),
	}
	return stats
}

// State is the serializable ledger snapshot.
type State struct {
	BaseBalance         decimal.Decimal `json:"base_balance"`
	QuoteBalance        decimal.Decimal `json:"quote_balance"`
	InitialBaseBalance  decimal.Decimal `json:"initial_base_balance"`
	InitialQuoteBalance decimal.Decimal `json:"initial_quote_balance"`
	TotalBought         decimal.Decimal `json:"total_bought"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	TotalSold           decimal.Decimal `json:"total_sold"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	NetBaseTraded       decimal.Decimal `json:"net_base_traded"`
	StartTime           time.Time       `json:"start_time"`
	CycleCount          int64           `json:"cycle_count"`
	History             []TradeRecord   `json:"history"`
}

// State captures the ledger for persistence.
func (l *Ledger) State() State {
	return State{
		BaseBalance:         l.baseBalance,
		QuoteBalance:        l.quoteBalance,
		InitialBaseBalance:  l.initialBaseBalance,
		InitialQuoteBalance: l.initialQuoteBalance,
		TotalBought:         l.totalBought,
		TotalSpent:          l.totalSpent,
		TotalSold:           l.totalSold,
		TotalReceived:       l.totalReceived,
		NetBaseTraded:       l.netBaseTraded,
		StartTime:           l.startTime,
		CycleCount:          l.cycleCount,
		History:             l.History(),
	}
}

// LoadState restores the ledger from a persisted snapshot.
func (l *Ledger) LoadState(state State) {
	l.baseBalance = state.BaseBalance
	l.quoteBalance = state.QuoteBalance
	l.initialBaseBalance = state.InitialBaseBalance
	l.initialQuoteBalance = state.InitialQuoteBalance
	l.totalBought = state.TotalBought
	l.totalSpent = state.TotalSpent
	l.totalSold = state.TotalSold
	l.totalReceived = state.TotalReceived
	l.netBaseTraded = state.NetBaseTraded
	if !state.StartTime.IsZero() {
		l.startTime = state.StartTime
	}
	l.cycleCount = state.CycleCount
	l.history = append([]TradeRecord(nil), state.History...)
	l.cache.valid = false
}
