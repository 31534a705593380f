package clients

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ChainClient queries the RPC node for blockhashes and balances.
type ChainClient struct {
	client   *resty.Client
	decimals map[string]int
}

// NewChainClient builds an RPC client. The decimals map translates raw
// integer balances per mint into token units.
func NewChainClient(baseURL string, decimals map[string]int) *ChainClient {
	return &ChainClient{client: newRestyClient(baseURL), decimals: decimals}
}

// LatestBlockhash returns a fresh blockhash for bundle construction.
func (c *ChainClient) LatestBlockhash(ctx context.Context) (string, error) {
	var out struct {
		Result struct {
			Value struct {
				Blockhash string `json:"blockhash"`
			} `json:"value"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getLatestBlockhash"}).
		SetResult(&out).
		Post("/")
	if err != nil {
		return "", errors.Wrap(err, "fetch latest blockhash")
	}
	if resp.IsError() || out.Error != nil {
		return "", errors.Errorf("rpc blockhash request failed: %s", resp.Status())
	}
	if out.Result.Value.Blockhash == "" {
		return "", errors.New("rpc returned empty blockhash")
	}

	return out.Result.Value.Blockhash, nil
}

// Balance returns the wallet's balance for the given mint in token units.
func (c *ChainClient) Balance(ctx context.Context, wallet, mint string) (decimal.Decimal, error) {
	var out struct {
		Result struct {
			Value struct {
				Amount decimal.Decimal `json:"amount"`
			} `json:"value"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getTokenAccountBalance", Params: []any{wallet, mint}}).
		SetResult(&out).
		Post("/")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch balance")
	}
	if resp.IsError() || out.Error != nil {
		return decimal.Zero, errors.Errorf("rpc balance request failed: %s", resp.Status())
	}

	return fromRawUnits(out.Result.Value.Amount, c.decimals[mint]), nil
}
