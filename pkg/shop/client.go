// SPDX-License-Identifier: Apache-2.0

package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/requester"
	"github.com/jllopis/hubnet/pkg/search"
)

// Client buys from shops. It implements requester.Transactor, reaching
// each provider at its registered location.
type Client struct {
	HTTP *http.Client
}

var _ requester.Transactor = (*Client)(nil)

// Attempt orders need from the provider's shop.
func (c *Client) Attempt(ctx context.Context, p search.Provider, need requester.Need) (map[string]int, error) {
	resp, err := c.Purchase(ctx, p.Identity.BaseURL(), map[string]int(need))
	if err != nil {
		return nil, err
	}
	return resp.Fulfilled, nil
}

// Purchase posts an order to the shop at baseURL.
func (c *Client) Purchase(ctx context.Context, baseURL string, items map[string]int) (PurchaseResponse, error) {
	payload, err := json.Marshal(PurchaseRequest{Items: items})
	if err != nil {
		return PurchaseResponse{}, errors.New(errors.CodeInternal, "encode order", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(baseURL, "/purchase"), bytes.NewReader(payload))
	if err != nil {
		return PurchaseResponse{}, errors.New(errors.CodeInvalidInput, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var out PurchaseResponse
	if err := c.do(req, &out); err != nil {
		return PurchaseResponse{}, err
	}
	return out, nil
}

// Capability fetches the description of the shop at baseURL.
func (c *Client) Capability(ctx context.Context, baseURL string) (Capability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(baseURL, "/capability"), nil)
	if err != nil {
		return Capability{}, errors.New(errors.CodeInvalidInput, "build request", err)
	}
	var out Capability
	if err := c.do(req, &out); err != nil {
		return Capability{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	hc := http.DefaultClient
	if c != nil && c.HTTP != nil {
		hc = c.HTTP
	}
	resp, err := hc.Do(req)
	if err != nil {
		return errors.New(errors.CodeTransport, "shop unreachable", err).WithContext("url", req.URL.String())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		code := errors.CodeProtocol
		if resp.StatusCode == http.StatusBadRequest {
			code = errors.CodeInvalidInput
		}
		return errors.New(code, fmt.Sprintf("shop answered %s", resp.Status), nil).
			WithContext("url", req.URL.String())
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeProtocol, "malformed shop reply", err)
	}
	return nil
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}
