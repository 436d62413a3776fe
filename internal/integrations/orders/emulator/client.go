package emulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/errs"
	"github.com/BearBump/ShipBox/internal/integrations/orders"
	"github.com/pkg/errors"
)

// Client talks to the channel emulator, which mimics the storefront order
// APIs and the marketplace shipments API behind one base URL:
//
//	GET /v1/{origin}/orders/{ref}    single order (Flex: single shipment)
//	GET /v1/{origin}/orders?store=   every open order of the store
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var _ orders.Fetcher = (*Client)(nil)

func (c *Client) FetchOrder(ctx context.Context, tok orders.Token, resourceRef string) ([]byte, error) {
	if resourceRef == "" {
		return nil, errs.Validation("empty resource ref")
	}
	u, err := c.url(tok, "/"+url.PathEscape(resourceRef))
	if err != nil {
		return nil, err
	}
	return c.get(ctx, tok, u)
}

func (c *Client) FetchAllOrders(ctx context.Context, tok orders.Token) ([][]byte, error) {
	u, err := c.url(tok, "")
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, tok, u)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.ExternalFetch(err, "decode order list")
	}
	out := make([][]byte, 0, len(raws))
	for _, r := range raws {
		out = append(out, []byte(r))
	}
	return out, nil
}

func (c *Client) url(tok orders.Token, suffix string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/%s/orders%s", strings.ToLower(string(tok.Origin)), suffix)
	q := u.Query()
	if tok.StoreID != "" {
		q.Set("store", tok.StoreID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, tok orders.Token, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if tok.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errs.ExternalFetch(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.NotFound("%s order", tok.Origin)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindExternalFetch, "%s rate limit (429)", tok.Origin)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.New(errs.KindExternalFetch, "%s auth rejected (%d)", tok.Origin, resp.StatusCode)
	case resp.StatusCode/100 != 2:
		return nil, errs.New(errs.KindExternalFetch, "%s http %d", tok.Origin, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errs.ExternalFetch(err, "read body")
	}
	return body, nil
}
