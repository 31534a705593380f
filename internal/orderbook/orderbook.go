// Package orderbook keeps the durable collection of discrete trades and
// implements the matching algorithm used to close opposing positions:
// age priority with a profitability gate, not price-time priority.
package orderbook

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/internal/domain"
)

// minProfitProvider supplies the configured minimum-profit threshold.
type minProfitProvider interface {
	MinProfitPercent() decimal.Decimal
}

// Book holds all discrete trades of the wallet. It is touched only from the
// scheduler goroutine; persistence goes through State/LoadState.
type Book struct {
	logger      *zap.Logger
	minProfit   minProfitProvider
	trades      []*domain.Trade
	byID        map[string]*domain.Trade
	lastUpdated time.Time
	now         func() time.Time
}

// New builds an empty order book.
func New(minProfit minProfitProvider, logger *zap.Logger) *Book {
	return &Book{
		logger:    logger.With(zap.String("component", "orderbook")),
		minProfit: minProfit,
		byID:      make(map[string]*domain.Trade),
		now:       time.Now,
	}
}

// AddTrade constructs and stores an open trade. Ingestion is idempotent: a
// duplicate id is a no-op returning the already stored record unchanged.
func (b *Book) AddTrade(price, baseChange, quoteChange decimal.Decimal, id string) *domain.Trade {
	if existing, ok := b.byID[id]; ok {
		return existing
	}

	direction := domain.TradeDirectionBuy
	if baseChange.IsNegative() {
		direction = domain.TradeDirectionSell
	}

	trade := &domain.Trade{
		ID:         id,
		Timestamp:  b.now(),
		Price:      price,
		BaseAmount: baseChange.Abs(),
		QuoteValue: quoteChange.Abs(),
		Direction:  direction,
		Status:     domain.TradeStatusOpen,
	}

	b.trades = append(b.trades, trade)
	b.byID[id] = trade
	b.lastUpdated = b.now()

	b.logger.Info("trade added",
		zap.String("id", id),
		zap.String("direction", string(direction)),
		zap.String("price", price.String()),
		zap.String("base_amount", trade.BaseAmount.String()))

	return trade
}

// FindOldestMatchingTrade returns the oldest open trade of the given
// direction whose signed profit percentage at the current price meets the
// configured minimum. Returns nil when no trade qualifies.
func (b *Book) FindOldestMatchingTrade(direction domain.TradeDirection, currentPrice decimal.Decimal) *domain.Trade {
	threshold := b.minProfit.MinProfitPercent()

	var oldest *domain.Trade
	for _, trade := range b.trades {
		if !trade.IsOpen() || trade.Direction != direction {
			continue
		}
		if trade.ProfitPercent(currentPrice).LessThan(threshold) {
			continue
		}
		if oldest == nil || trade.Timestamp.Before(oldest.Timestamp) {
			oldest = trade
		}
	}

	return oldest
}

// CloseTrade transitions an open trade to closed, computing realized PnL
// against the entry price. Returns false without mutation when the trade is
// missing or already closed.
func (b *Book) CloseTrade(id string, closePrice decimal.Decimal) bool {
	trade, ok := b.byID[id]
	if !ok {
		b.logger.Warn("close failed: unknown trade", zap.String("id", id))
		return false
	}
	if !trade.IsOpen() {
		b.logger.Warn("close failed: trade already closed", zap.String("id", id))
		return false
	}

	realized := closePrice.Sub(trade.Price).Mul(trade.BaseAmount)
	if trade.Direction == domain.TradeDirectionSell {
		realized = realized.Neg()
	}

	closedAt := b.now()
	trade.Status = domain.TradeStatusClosed
	trade.ClosePrice = closePrice
	trade.ClosedAt = &closedAt
	trade.RealizedPnl = realized
	trade.UnrealizedPnl = decimal.Zero
	b.lastUpdated = closedAt

	b.logger.Info("trade closed",
		zap.String("id", id),
		zap.String("close_price", closePrice.String()),
		zap.String("realized_pnl", realized.String()))

	return true
}

// UpdateTradeUPNL recomputes unrealized PnL for every open trade. Open
// sell-direction trades floor unrealized loss at zero: only unrealized
// profit is surfaced for short-style positions. This asymmetry is a
// deliberate product decision, kept as-is.
func (b *Book) UpdateTradeUPNL(currentPrice decimal.Decimal) {
	for _, trade := range b.trades {
		if !trade.IsOpen() {
			continue
		}

		upnl := currentPrice.Sub(trade.Price).Mul(trade.BaseAmount)
		if trade.Direction == domain.TradeDirectionSell {
			upnl = upnl.Neg()
			if upnl.IsNegative() {
				upnl = decimal.Zero
			}
		}
		trade.UnrealizedPnl = upnl
	}
}

// Statistics aggregate order book figures. Pure aggregation, no side effects.
type Statistics struct {
	TotalTrades   int             `json:"total_trades"`
	OpenTrades    int             `json:"open_trades"`
	ClosedTrades  int             `json:"closed_trades"`
	WinningTrades int             `json:"winning_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}

// TradeStatistics computes aggregate statistics over all stored trades.
func (b *Book) TradeStatistics() Statistics {
	stats := Statistics{}

	for _, trade := range b.trades {
		stats.TotalTrades++
		stats.TotalVolume = stats.TotalVolume.Add(trade.QuoteValue)

		if trade.Status == domain.TradeStatusClosed {
			stats.ClosedTrades++
			stats.RealizedPnl = stats.RealizedPnl.Add(trade.RealizedPnl)
			if trade.RealizedPnl.IsPositive() {
				stats.WinningTrades++
			}
			continue
		}

		stats.OpenTrades++
		stats.UnrealizedPnl = stats.UnrealizedPnl.Add(trade.UnrealizedPnl)
	}

	if stats.ClosedTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(stats.ClosedTrades))).
			Mul(decimal.NewFromInt(100))
	}

	return stats
}

// OpenTrades returns open trades of the given direction, oldest first.
func (b *Book) OpenTrades(direction domain.TradeDirection) []*domain.Trade {
	var out []*domain.Trade
	for _, trade := range b.trades {
		if trade.IsOpen() && trade.Direction == direction {
			out = append(out, trade)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// State is the serializable order book snapshot.
type State struct {
	LastUpdated time.Time      `json:"last_updated"`
	Trades      []domain.Trade `json:"trades"`
}

// State captures the full trade set for persistence.
func (b *Book) State() State {
	trades := make([]domain.Trade, 0, len(b.trades))
	for _, trade := range b.trades {
		trades = append(trades, *trade)
	}
	return State{LastUpdated: b.lastUpdated, Trades: trades}
}

// LoadState restores the trade set from a persisted snapshot. Every record is
// re-validated and normalized so a corrupted or partially written document
// degrades gracefully instead of crashing startup.
func (b *Book) LoadState(state State) {
	b.trades = b.trades[:0]
	b.byID = make(map[string]*domain.Trade, len(state.Trades))
	b.lastUpdated = state.LastUpdated

	for i := range state.Trades {
		trade := state.Trades[i]
		if !trade.Normalize() {
			b.logger.Warn("dropped malformed trade record on load", zap.String("id", trade.ID))
			continue
		}
		if _, ok := b.byID[trade.ID]; ok {
			b.logger.Warn("dropped duplicate trade record on load", zap.String("id", trade.ID))
			continue
		}

		stored := trade
		b.trades = append(b.trades, &stored)
		b.byID[stored.ID] = &stored
	}

	sort.Slice(b.trades, func(i, j int) bool { return b.trades[i].Timestamp.Before(b.trades[j].Timestamp) })
}
