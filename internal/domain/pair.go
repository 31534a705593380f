// Package domain defines core data structures used throughout the trading engine.
package domain

import "fmt"

// Token describes one side of the traded pair.
type Token struct {
	// Symbol human-readable ticker, e.g. "SOL".
	Symbol string `yaml:"symbol" json:"symbol"`
	// Mint on-chain token address.
	Mint string `yaml:"mint" json:"mint"`
	// Decimals token decimal places.
	Decimals int `yaml:"decimals" json:"decimals"`
}

// Pair base/quote token pair descriptor, selected once at configuration time.
type Pair struct {
	// Base traded token.
	Base Token `yaml:"base" json:"base"`
	// Quote settlement token.
	Quote Token `yaml:"quote" json:"quote"`
}

// String returns the string representation.
func (p *Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base.Symbol, p.Quote.Symbol)
}
