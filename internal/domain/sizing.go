package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SizingMethod selects how the notional of a trade is computed.
type SizingMethod string

const (
	// SizingVariable balance multiplied by the sentiment multiplier,
	// recomputed every cycle.
	SizingVariable SizingMethod = "variable"
	// SizingStrategic fixed notional established once per rolling 24h
	// trading period.
	SizingStrategic SizingMethod = "strategic"
)

// Validate checks the method is one of the known strategies.
func (m SizingMethod) Validate() error {
	if m != SizingVariable && m != SizingStrategic {
		return fmt.Errorf("unsupported sizing method: %s", m)
	}
	return nil
}

// TradingPeriodWindow duration of one strategic sizing window.
const TradingPeriodWindow = 24 * time.Hour

// TradingPeriod fixes a base trade size for a rolling 24h window so repeated
// signals within the window trade a consistent notional instead of
// re-percentaging a shrinking or growing balance.
type TradingPeriod struct {
	Start         time.Time       `json:"start"`
	BaseTradeSize decimal.Decimal `json:"base_trade_size"`
}

// Expired reports whether the window has rolled over and the size must be
// recomputed from the current balance.
func (p *TradingPeriod) Expired(now time.Time) bool {
	return p == nil || p.Start.IsZero() || now.Sub(p.Start) >= TradingPeriodWindow
}
