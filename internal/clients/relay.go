package clients

import (
	"context"
	"encoding/base64"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/swaybot/sway/internal/executor"
)

// RelayClient submits signed bundles to the block relay and polls their
// status. HTTP 429 is surfaced as executor.ErrRateLimited so the executor's
// backoff policy can handle it; nothing is retried here.
type RelayClient struct {
	client *resty.Client
}

// NewRelayClient builds a relay client.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{client: newRestyClient(baseURL)}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TipFloor returns the live relay tip-floor estimate in lamports.
func (c *RelayClient) TipFloor(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Result struct {
			LandedTips50thPercentile decimal.Decimal `json:"landed_tips_50th_percentile"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getTipFloor"}).
		SetResult(&out).
		Post("/api/v1/bundles")
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch tip floor")
	}
	if resp.IsError() || out.Error != nil {
		return decimal.Zero, errors.Errorf("relay tip floor request failed: %s", resp.Status())
	}

	return out.Result.LandedTips50thPercentile, nil
}

// SubmitBundle submits the signed transaction set and returns the bundle id.
func (c *RelayClient) SubmitBundle(ctx context.Context, txs [][]byte) (string, error) {
	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(tx))
	}

	var out struct {
		Result string    `json:"result"`
		Error  *rpcError `json:"error"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "sendBundle", Params: []any{encoded}}).
		SetResult(&out).
		Post("/api/v1/bundles")
	if err != nil {
		return "", errors.Wrap(err, "submit bundle")
	}
	if isRateLimited(resp) {
		return "", executor.ErrRateLimited
	}
	if resp.IsError() || out.Error != nil {
		return "", errors.Errorf("relay rejected submission: %s", resp.Status())
	}
	if out.Result == "" {
		return "", errors.New("relay returned empty bundle id")
	}

	return out.Result, nil
}

// BundleStatus polls the relay for settlement of a submitted bundle.
func (c *RelayClient) BundleStatus(ctx context.Context, bundleID string) (executor.BundleStatus, error) {
	var out struct {
		Result struct {
			Value []struct {
				Status       string          `json:"status"`
				Transactions []string        `json:"transactions"`
				BaseChange   decimal.Decimal `json:"base_change"`
				QuoteChange  decimal.Decimal `json:"quote_change"`
			} `json:"value"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "getBundleStatuses", Params: []any{[]string{bundleID}}}).
		SetResult(&out).
		Post("/api/v1/bundles")
	if err != nil {
		return executor.BundleStatus{}, errors.Wrap(err, "poll bundle status")
	}
	if resp.IsError() || out.Error != nil {
		return executor.BundleStatus{}, errors.Errorf("relay status request failed: %s", resp.Status())
	}
	if len(out.Result.Value) == 0 {
		return executor.BundleStatus{State: executor.BundleStatePending}, nil
	}

	entry := out.Result.Value[0]
	status := executor.BundleStatus{
		BaseChange:  entry.BaseChange,
		QuoteChange: entry.QuoteChange,
	}
	if len(entry.Transactions) > 0 {
		status.TxID = entry.Transactions[0]
	}

	switch entry.Status {
	case "Landed":
		status.State = executor.BundleStateLanded
	case "Failed":
		status.State = executor.BundleStateFailed
	default:
		status.State = executor.BundleStatePending
	}

	return status, nil
}
