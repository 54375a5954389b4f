// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/hubnet/pkg/errors"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/search"
)

// Client speaks the hub protocol to remote hubs.
type Client struct {
	HTTP *http.Client
	// As is the name sent as name_agent. Hubs forwarding a search put
	// their own identity here; when empty the query requester is used.
	As identity.Node
}

// NewClient returns a client using http.DefaultClient.
func NewClient(as identity.Node) *Client {
	return &Client{As: as}
}

// Search implements hub.PeerClient.
func (c *Client) Search(ctx context.Context, peer identity.Node, q search.Query, st search.State) (search.Result, error) {
	return c.SearchURL(ctx, peer.BaseURL(), q, st)
}

// SearchURL sends a search to the hub at baseURL.
func (c *Client) SearchURL(ctx context.Context, baseURL string, q search.Query, st search.State) (search.Result, error) {
	name := c.As.Name
	if name == "" {
		name = q.Requester.Name
	}
	params := url.Values{}
	params.Set("prompt", q.Text)
	params.Set("name_agent", name)

	payload, err := json.Marshal(searchRequest{
		HubUserSearch: identity.Friends(st.Visited),
		AgentBlock:    identity.Friends(st.Blocked),
	})
	if err != nil {
		return search.Result{}, errors.New(errors.CodeInternal, "encode search body", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, baseURL, "/search_agent", params, payload)
	if err != nil {
		return search.Result{}, err
	}
	if q.ID != "" {
		req.Header.Set(SearchIDHeader, q.ID)
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return search.Result{}, transportError(baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return search.Result{}, statusError(baseURL, resp)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return search.Result{}, errors.New(errors.CodeProtocol, "malformed search reply", err).
			WithContext("hub", baseURL)
	}
	res, err := decodeResult(out)
	if err != nil {
		if he, ok := errors.As(err); ok {
			he.WithContext("hub", baseURL)
		}
		return search.Result{}, err
	}
	return res, nil
}

// Register adds an agent to the hub at baseURL. Columns follow the
// registry table (Port, Agent Type, Active, ...). The hub records the
// caller's address as the agent host.
func (c *Client) Register(ctx context.Context, baseURL, name string, kind registry.Kind, columns map[string]string) error {
	params := url.Values{}
	params.Set("name_agent", name)
	params.Set("type_agent", kind.WireName())
	if columns == nil {
		columns = map[string]string{}
	}
	payload, err := json.Marshal(columns)
	if err != nil {
		return errors.New(errors.CodeInternal, "encode columns", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, baseURL, "/add_agent", params, payload)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return transportError(baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return statusError(baseURL, resp)
	}
	return nil
}

// SetActivation toggles the agent name (at the caller's address) on the
// hub at baseURL. An empty port toggles every port.
func (c *Client) SetActivation(ctx context.Context, baseURL, name string, active bool, port string) error {
	params := url.Values{}
	params.Set("name_agent", name)
	params.Set("boolean", strconv.FormatBool(active))
	if port != "" {
		params.Set("port", port)
	}
	req, err := c.newRequest(ctx, http.MethodPut, baseURL, "/activation_status", params, nil)
	if err != nil {
		return err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return transportError(baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(baseURL, resp)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, baseURL, path string, params url.Values, body []byte) (*http.Request, error) {
	target := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "build request", err).WithContext("url", target)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) http() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func transportError(hub string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "hub call timed out", err).WithContext("hub", hub)
	}
	return errors.New(errors.CodeTransport, "hub unreachable", err).WithContext("hub", hub)
}

func statusError(hub string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	code := errors.CodeProtocol
	switch resp.StatusCode {
	case http.StatusForbidden:
		code = errors.CodeUnauthorized
	case http.StatusConflict:
		code = errors.CodeAlreadyExists
	case http.StatusBadRequest:
		code = errors.CodeInvalidInput
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = errors.CodeTransport
	}
	return errors.New(code, fmt.Sprintf("hub answered %s", resp.Status), nil).
		WithContext("hub", hub).
		WithContext("body", strings.TrimSpace(string(body)))
}

// Remote is a hub reached over HTTP, seen as a search source.
type Remote struct {
	Hub    identity.Node
	Client *Client
}

// Identity returns the remote hub identity.
func (r Remote) Identity() identity.Node { return r.Hub }

// Search forwards the query to the remote hub.
func (r Remote) Search(ctx context.Context, q search.Query, st search.State) (search.Result, error) {
	return r.Client.Search(ctx, r.Hub, q, st)
}

// Endpoint is a hub known only by its base URL.
type Endpoint struct {
	BaseURL string
	Client  *Client
}

// Search sends the query to the hub at BaseURL.
func (e Endpoint) Search(ctx context.Context, q search.Query, st search.State) (search.Result, error) {
	return e.Client.SearchURL(ctx, e.BaseURL, q, st)
}
