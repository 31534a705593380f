package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swaybot/sway/internal/domain"
)

type fixedThreshold struct {
	value decimal.Decimal
}

func (f fixedThreshold) MinProfitPercent() decimal.Decimal {
	return f.value
}

func newTestBook(minProfit string) *Book {
	return New(fixedThreshold{value: decimal.RequireFromString(minProfit)}, zap.NewNop())
}

func TestBook_AddTrade_Idempotent(t *testing.T) {
	b := newTestBook("0.2")

	first := b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "tx-1")
	require.NotNil(t, first)
	assert.Equal(t, domain.TradeDirectionBuy, first.Direction)
	assert.True(t, first.BaseAmount.Equal(decimal.NewFromInt(10)))

	duplicate := b.AddTrade(decimal.NewFromInt(999), decimal.NewFromInt(-1), decimal.NewFromInt(1), "tx-1")
	require.NotNil(t, duplicate)
	assert.Same(t, first, duplicate, "duplicate id returns the stored record")
	assert.True(t, duplicate.Price.Equal(decimal.NewFromInt(100)), "original fields are retained")
	assert.Equal(t, domain.TradeDirectionBuy, duplicate.Direction)
	assert.Equal(t, 1, b.TradeStatistics().TotalTrades)
}

func TestBook_FindOldestMatchingTrade_ProfitabilityGate(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "tx-1")

	// 100 -> 100.1 is 0.1%, below the 0.2% gate
	assert.Nil(t, b.FindOldestMatchingTrade(domain.TradeDirectionBuy, decimal.RequireFromString("100.1")))

	// 100 -> 100.3 is 0.3%, above the gate
	match := b.FindOldestMatchingTrade(domain.TradeDirectionBuy, decimal.RequireFromString("100.3"))
	require.NotNil(t, match)
	assert.Equal(t, "tx-1", match.ID)
}

func TestBook_FindOldestMatchingTrade_AgePriority(t *testing.T) {
	b := newTestBook("0")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.now = func() time.Time { return base.Add(time.Hour) }
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "newer")

	b.now = func() time.Time { return base }
	b.AddTrade(decimal.NewFromInt(90), decimal.NewFromInt(1), decimal.NewFromInt(-90), "older")

	match := b.FindOldestMatchingTrade(domain.TradeDirectionBuy, decimal.NewFromInt(200))
	require.NotNil(t, match)
	assert.Equal(t, "older", match.ID, "age decides, not profitability margin")
}

func TestBook_FindOldestMatchingTrade_FiltersDirectionAndStatus(t *testing.T) {
	b := newTestBook("0")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(-1), decimal.NewFromInt(100), "sell-1")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "buy-1")
	require.True(t, b.CloseTrade("buy-1", decimal.NewFromInt(150)))

	assert.Nil(t, b.FindOldestMatchingTrade(domain.TradeDirectionBuy, decimal.NewFromInt(200)),
		"closed trades never match")

	match := b.FindOldestMatchingTrade(domain.TradeDirectionSell, decimal.NewFromInt(50))
	require.NotNil(t, match)
	assert.Equal(t, "sell-1", match.ID)
}

func TestBook_CloseTrade(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "tx-1")

	require.True(t, b.CloseTrade("tx-1", decimal.NewFromInt(110)))

	state := b.State()
	require.Len(t, state.Trades, 1)
	closed := state.Trades[0]
	assert.Equal(t, domain.TradeStatusClosed, closed.Status)
	assert.True(t, closed.RealizedPnl.Equal(decimal.NewFromInt(100)), "got %s", closed.RealizedPnl)
	assert.True(t, closed.ClosePrice.Equal(decimal.NewFromInt(110)))
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.UnrealizedPnl.IsZero())
}

func TestBook_CloseTrade_SellSideRealizedPnl(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(-10), decimal.NewFromInt(1000), "tx-1")

	// sold at 100, bought back at 90: realized +100
	require.True(t, b.CloseTrade("tx-1", decimal.NewFromInt(90)))
	assert.True(t, b.State().Trades[0].RealizedPnl.Equal(decimal.NewFromInt(100)))
}

func TestBook_CloseTrade_NoMutationOnInvalidTarget(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "tx-1")
	require.True(t, b.CloseTrade("tx-1", decimal.NewFromInt(110)))
	before := b.State()

	assert.False(t, b.CloseTrade("missing", decimal.NewFromInt(120)))
	assert.False(t, b.CloseTrade("tx-1", decimal.NewFromInt(120)), "closed is terminal")

	after := b.State()
	require.Len(t, after.Trades, 1)
	assert.True(t, after.Trades[0].ClosePrice.Equal(before.Trades[0].ClosePrice))
	assert.True(t, after.Trades[0].RealizedPnl.Equal(before.Trades[0].RealizedPnl))
}

func TestBook_UpdateTradeUPNL(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "buy-1")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(-10), decimal.NewFromInt(1000), "sell-1")

	b.UpdateTradeUPNL(decimal.NewFromInt(110))

	state := b.State()
	byID := map[string]domain.Trade{}
	for _, trade := range state.Trades {
		byID[trade.ID] = trade
	}

	assert.True(t, byID["buy-1"].UnrealizedPnl.Equal(decimal.NewFromInt(100)))
	assert.True(t, byID["sell-1"].UnrealizedPnl.IsZero(), "sell-side unrealized loss is floored at zero")

	b.UpdateTradeUPNL(decimal.NewFromInt(90))
	for _, trade := range b.State().Trades {
		byID[trade.ID] = trade
	}
	assert.True(t, byID["buy-1"].UnrealizedPnl.Equal(decimal.NewFromInt(-100)), "buy-side losses are reported")
	assert.True(t, byID["sell-1"].UnrealizedPnl.Equal(decimal.NewFromInt(100)))
}

func TestBook_TradeStatistics(t *testing.T) {
	b := newTestBook("0")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "t1")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "t2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "t3")
	require.True(t, b.CloseTrade("t1", decimal.NewFromInt(110)))
	require.True(t, b.CloseTrade("t2", decimal.NewFromInt(95)))

	stats := b.TradeStatistics()
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 1, stats.OpenTrades)
	assert.Equal(t, 2, stats.ClosedTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.True(t, stats.WinRate.Equal(decimal.NewFromInt(50)), "got %s", stats.WinRate)
	assert.True(t, stats.RealizedPnl.Equal(decimal.NewFromInt(5)))
	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(300)))
}

func TestBook_StateRoundTrip(t *testing.T) {
	b := newTestBook("0.2")
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(-1000), "tx-1")
	b.AddTrade(decimal.NewFromInt(105), decimal.NewFromInt(-5), decimal.NewFromInt(525), "tx-2")
	require.True(t, b.CloseTrade("tx-1", decimal.NewFromInt(110)))
	state := b.State()

	restored := newTestBook("0.2")
	restored.LoadState(state)
	restoredState := restored.State()
	require.Len(t, restoredState.Trades, 2)

	byID := map[string]domain.Trade{}
	for _, trade := range restoredState.Trades {
		byID[trade.ID] = trade
	}
	for _, original := range state.Trades {
		got, ok := byID[original.ID]
		require.True(t, ok, "trade %s survives the round trip", original.ID)
		assert.Equal(t, original.Direction, got.Direction)
		assert.Equal(t, original.Status, got.Status)
		assert.True(t, got.Price.Equal(original.Price))
		assert.True(t, got.BaseAmount.Equal(original.BaseAmount))
		assert.True(t, got.RealizedPnl.Equal(original.RealizedPnl))
		assert.True(t, got.ClosePrice.Equal(original.ClosePrice))
	}
}

func TestBook_LoadState_DropsMalformedAndDuplicateRecords(t *testing.T) {
	now := time.Now()
	state := State{
		LastUpdated: now,
		Trades: []domain.Trade{
			{ID: "", Price: decimal.NewFromInt(100), Status: domain.TradeStatusOpen},
			{ID: "ok", Timestamp: now, Price: decimal.NewFromInt(100), BaseAmount: decimal.NewFromInt(1),
				Direction: domain.TradeDirectionBuy, Status: domain.TradeStatusOpen},
			{ID: "ok", Timestamp: now, Price: decimal.NewFromInt(200), BaseAmount: decimal.NewFromInt(2),
				Direction: domain.TradeDirectionBuy, Status: domain.TradeStatusOpen},
			{ID: "no-price", Timestamp: now, BaseAmount: decimal.NewFromInt(1),
				Direction: domain.TradeDirectionBuy, Status: domain.TradeStatusOpen},
		},
	}

	b := newTestBook("0.2")
	b.LoadState(state)

	restored := b.State()
	require.Len(t, restored.Trades, 1)
	assert.Equal(t, "ok", restored.Trades[0].ID)
	assert.True(t, restored.Trades[0].Price.Equal(decimal.NewFromInt(100)), "first occurrence wins")
}

func TestBook_OpenTrades_SortedOldestFirst(t *testing.T) {
	b := newTestBook("0")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.now = func() time.Time { return base.Add(2 * time.Hour) }
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "third")
	b.now = func() time.Time { return base }
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "first")
	b.now = func() time.Time { return base.Add(time.Hour) }
	b.AddTrade(decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(-100), "second")

	open := b.OpenTrades(domain.TradeDirectionBuy)
	require.Len(t, open, 3)
	assert.Equal(t, "first", open[0].ID)
	assert.Equal(t, "second", open[1].ID)
	assert.Equal(t, "third", open[2].ID)
}
