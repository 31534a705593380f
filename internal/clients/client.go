// Package clients provides thin HTTP adapters for the external services the
// engine consumes: sentiment index, price oracle, swap aggregator, bundle
// relay and the RPC node. Adapters do no retrying and hold no business
// logic; classification and retry policy live in the executor.
package clients

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 15 * time.Second

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "sway/1.0")
}

func isRateLimited(resp *resty.Response) bool {
	return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
}

// toRawUnits converts a token amount to its integer on-chain representation.
func toRawUnits(amount decimal.Decimal, decimals int) string {
	return amount.Shift(int32(decimals)).Truncate(0).String()
}

// fromRawUnits converts an integer on-chain amount back to token units.
func fromRawUnits(raw decimal.Decimal, decimals int) decimal.Decimal {
	return raw.Shift(int32(-decimals))
}
