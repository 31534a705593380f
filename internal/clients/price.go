package clients

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/swaybot/sway/internal/domain"
)

// PriceClient fetches spot prices from the price oracle.
type PriceClient struct {
	client *resty.Client
}

// NewPriceClient builds a price oracle client.
func NewPriceClient(baseURL string) *PriceClient {
	return &PriceClient{client: newRestyClient(baseURL)}
}

type priceResponse struct {
	Data map[string]struct {
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// Price returns the spot price of the base token in quote-token terms.
func (c *PriceClient) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	var out priceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("ids", pair.Base.Mint).
		SetQueryParam("vsToken", pair.Quote.Mint).
		SetResult(&out).
		Get("/price")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch price")
	}
	if resp.IsError() {
		return decimal.Zero, errors.Errorf("price oracle returned %s", resp.Status())
	}

	entry, ok := out.Data[pair.Base.Mint]
	if !ok || !entry.Price.IsPositive() {
		return decimal.Zero, errors.Errorf("price oracle returned no usable price for %s", pair.Base.Symbol)
	}
	return entry.Price, nil
}
