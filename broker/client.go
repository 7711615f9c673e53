// broker/client.go
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ironbeam_auto_go/logs"
)

// Ensure APIClient implements the Client interface.
var _ Client = (*APIClient)(nil)

// DefaultBaseURL is the Ironbeam demo environment.
const DefaultBaseURL = "https://demo.ironbeamapi.com/v2"

// APIClient talks to the Ironbeam REST API.
type APIClient struct {
	Username string
	ApiKey   string
	Password string
	BaseURL  string
	Http     *http.Client

	mu    sync.RWMutex
	token string
}

// apiError mirrors the error body the Ironbeam API returns.
type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// authResponse is the body of a successful POST /auth.
type authResponse struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewAPIClient creates a REST client. baseURL may be empty, in which case
// the demo environment is used.
func NewAPIClient(username, apiKey, password, baseURL string, timeoutSeconds int) *APIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &APIClient{
		Username: username,
		ApiKey:   apiKey,
		Password: password,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Http:     &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// Authenticate exchanges the credentials for a bearer token.
func (c *APIClient) Authenticate(ctx context.Context) error {
	payload := map[string]string{
		"username": c.Username,
		"apiKey":   c.ApiKey,
	}
	if c.Password != "" {
		payload["password"] = c.Password
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(string(respBody)))
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 400:
		return fmt.Errorf("auth: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var auth authResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return fmt.Errorf("parse auth response: %w", err)
	}
	if auth.Token == "" {
		return fmt.Errorf("auth: empty token in response (status %q)", auth.Status)
	}

	c.mu.Lock()
	c.token = auth.Token
	c.mu.Unlock()

	logs.Infof("[Broker] Authenticated as %s", c.Username)
	return nil
}

// Token returns the current session token, empty before Authenticate.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// sendRequest performs an authenticated request and decodes the JSON
// response into out (if non-nil). It maps HTTP status classes onto the
// package sentinel errors.
func (c *APIClient) sendRequest(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	token := c.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	fullURL := c.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s %s: %s", ErrInvalidRequest, method, path, msg)
		default:
			return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response of %s %s: %w", method, path, err)
		}
	}
	return nil
}

// GetQuotes fetches current quotes for the given symbols.
func (c *APIClient) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	var out struct {
		Quotes []Quote `json:"quotes"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, "/market/quotes", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Quotes, nil
}

// GetPositions fetches all open positions for an account.
func (c *APIClient) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	var out struct {
		Positions []Position `json:"positions"`
	}
	path := fmt.Sprintf("/account/%s/positions", accountID)
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// GetOrders fetches working orders for an account.
func (c *APIClient) GetOrders(ctx context.Context, accountID string) ([]Order, error) {
	var out struct {
		Orders []Order `json:"orders"`
	}
	path := fmt.Sprintf("/order/%s/ANY", accountID)
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// UpdateStopLoss amends the stop loss leg of a bracket order.
func (c *APIClient) UpdateStopLoss(ctx context.Context, accountID, orderID string, quantity int, price float64) error {
	update := OrderUpdate{
		OrderID:  orderID,
		Quantity: quantity,
		StopLoss: &price,
		ClientID: uuid.NewString(),
	}
	return c.updateOrder(ctx, accountID, orderID, update)
}

// UpdateTakeProfit amends the take profit leg of a bracket order.
func (c *APIClient) UpdateTakeProfit(ctx context.Context, accountID, orderID string, quantity int, price float64) error {
	update := OrderUpdate{
		OrderID:    orderID,
		Quantity:   quantity,
		TakeProfit: &price,
		ClientID:   uuid.NewString(),
	}
	return c.updateOrder(ctx, accountID, orderID, update)
}

func (c *APIClient) updateOrder(ctx context.Context, accountID, orderID string, update OrderUpdate) error {
	path := fmt.Sprintf("/order/%s/update/%s", accountID, orderID)
	return c.sendRequest(ctx, http.MethodPut, path, nil, update, nil)
}

// StreamURL provisions a fresh stream session and returns the websocket
// URL to dial.
func (c *APIClient) StreamURL(ctx context.Context) (string, error) {
	var out struct {
		StreamID string `json:"streamId"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, "/stream/create", nil, nil, &out); err != nil {
		return "", err
	}
	if out.StreamID == "" {
		return "", fmt.Errorf("stream create: empty streamId in response")
	}

	wsBase := strings.Replace(c.BaseURL, "http", "ws", 1)
	return fmt.Sprintf("%s/stream/%s?token=%s", wsBase, out.StreamID, url.QueryEscape(c.Token())), nil
}
