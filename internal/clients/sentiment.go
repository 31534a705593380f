package clients

import (
	"context"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// SentimentClient fetches the 0-100 fear & greed style index.
type SentimentClient struct {
	client *resty.Client
}

// NewSentimentClient builds a sentiment index client.
func NewSentimentClient(baseURL string) *SentimentClient {
	return &SentimentClient{client: newRestyClient(baseURL)}
}

type sentimentResponse struct {
	Data []struct {
		Value string `json:"value"`
	} `json:"data"`
}

// Index returns the current index value.
func (c *SentimentClient) Index(ctx context.Context) (float64, error) {
	var out sentimentResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		SetResult(&out).
		Get("/fng/")
	if err != nil {
		return 0, errors.Wrap(err, "fetch sentiment index")
	}
	if resp.IsError() {
		return 0, errors.Errorf("sentiment feed returned %s", resp.Status())
	}
	if len(out.Data) == 0 {
		return 0, errors.New("sentiment feed returned no data")
	}

	value, err := strconv.ParseFloat(out.Data[0].Value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse index value %q", out.Data[0].Value)
	}
	if value < 0 || value > 100 {
		return 0, errors.Errorf("index value %v outside 0-100", value)
	}
	return value, nil
}
