package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/swaybot/sway/internal/domain"
	"github.com/swaybot/sway/internal/executor"
)

// QuoteClient requests swap quotes and swap transactions from the liquidity
// aggregator.
type QuoteClient struct {
	client *resty.Client
	pair   domain.Pair
	wallet string
}

// NewQuoteClient builds an aggregator client for the configured pair.
func NewQuoteClient(baseURL string, pair domain.Pair, wallet string) *QuoteClient {
	return &QuoteClient{client: newRestyClient(baseURL), pair: pair, wallet: wallet}
}

type quoteResponse struct {
	InAmount  decimal.Decimal `json:"inAmount"`
	OutAmount decimal.Decimal `json:"outAmount"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Quote fetches an exact-in or exact-out quote and the corresponding
// unsigned swap transaction.
func (c *QuoteClient) Quote(ctx context.Context, req executor.QuoteRequest) (*executor.Quote, error) {
	swapMode := "ExactIn"
	amountDecimals := c.decimalsForMint(req.InputMint)
	if req.ExactOut {
		swapMode = "ExactOut"
		amountDecimals = c.decimalsForMint(req.OutputMint)
	}

	var quote quoteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":  req.InputMint,
			"outputMint": req.OutputMint,
			"amount":     toRawUnits(req.Amount, amountDecimals),
			"swapMode":   swapMode,
		}).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return nil, errors.Wrap(err, "request quote")
	}
	if resp.IsError() {
		return nil, errors.Errorf("aggregator returned %s", resp.Status())
	}

	rawQuote := json.RawMessage(resp.Body())

	var swap swapResponse
	resp, err = c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"quoteResponse": rawQuote,
			"userPublicKey": c.wallet,
		}).
		SetResult(&swap).
		Post("/swap")
	if err != nil {
		return nil, errors.Wrap(err, "request swap transaction")
	}
	if resp.IsError() {
		return nil, errors.Errorf("aggregator swap endpoint returned %s", resp.Status())
	}

	swapTx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "decode swap transaction")
	}

	return &executor.Quote{
		InAmount:  fromRawUnits(quote.InAmount, c.decimalsForMint(req.InputMint)),
		OutAmount: fromRawUnits(quote.OutAmount, c.decimalsForMint(req.OutputMint)),
		SwapTx:    swapTx,
	}, nil
}

func (c *QuoteClient) decimalsForMint(mint string) int {
	if mint == c.pair.Base.Mint {
		return c.pair.Base.Decimals
	}
	return c.pair.Quote.Decimals
}
