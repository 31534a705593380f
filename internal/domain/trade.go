package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeDirection side of a discrete trade.
type TradeDirection string

const (
	TradeDirectionBuy  TradeDirection = "buy"
	TradeDirectionSell TradeDirection = "sell"
)

// Opposite returns the other side.
func (d TradeDirection) Opposite() TradeDirection {
	if d == TradeDirectionBuy {
		return TradeDirectionSell
	}
	return TradeDirectionBuy
}

// IsValid reports whether the direction is one of the known sides.
func (d TradeDirection) IsValid() bool {
	return d == TradeDirectionBuy || d == TradeDirectionSell
}

// TradeStatus lifecycle state of a trade. Closed is terminal: a closed
// trade is never reopened or mutated again except by reloading persisted state.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is a discrete executed trade tracked by the order book.
type Trade struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Price         decimal.Decimal `json:"price"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	QuoteValue    decimal.Decimal `json:"quote_value"`
	Direction     TradeDirection  `json:"direction"`
	Status        TradeStatus     `json:"status"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	ClosePrice    decimal.Decimal `json:"close_price,omitempty"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl,omitempty"`
}

// IsOpen reports whether the trade can still be matched and closed.
func (t *Trade) IsOpen() bool {
	return t != nil && t.Status == TradeStatusOpen
}

// ProfitPercent returns the signed profit percentage of the trade at the
// given market price: (current-entry)/entry*100 for buys, mirrored for sells.
func (t *Trade) ProfitPercent(currentPrice decimal.Decimal) decimal.Decimal {
	if t == nil || t.Price.IsZero() {
		return decimal.Zero
	}

	diff := currentPrice.Sub(t.Price).Div(t.Price).Mul(decimal.NewFromInt(100))
	if t.Direction == TradeDirectionSell {
		return diff.Neg()
	}
	return diff
}

// Normalize repairs a trade record loaded from persisted state so a corrupted
// or partially written document degrades gracefully instead of failing startup.
// Returns false when the record is unusable even after defaulting.
func (t *Trade) Normalize() bool {
	if t == nil || t.ID == "" {
		return false
	}

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if !t.Direction.IsValid() {
		if t.BaseAmount.IsNegative() {
			t.Direction = TradeDirectionSell
		} else {
			t.Direction = TradeDirectionBuy
		}
	}
	if t.Status != TradeStatusOpen && t.Status != TradeStatusClosed {
		t.Status = TradeStatusOpen
	}
	t.BaseAmount = t.BaseAmount.Abs()
	t.QuoteValue = t.QuoteValue.Abs()

	// status=open implies no realized outcome.
	if t.Status == TradeStatusOpen {
		t.RealizedPnl = decimal.Zero
		t.ClosePrice = decimal.Zero
		t.ClosedAt = nil
	}

	return t.Price.IsPositive()
}
