package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	apiBaseURL     = "https://api.monzo.com"
	defaultTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the Monzo API. The history fetcher
// branches on StatusCode; every other caller treats it as fatal.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("monzo API error (status %d): %s", e.StatusCode, e.Body)
}

// Client is an authenticated Monzo API client. Construct one per export run
// with a valid bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option customizes a Client. Tests point the client at a stub server.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    apiBaseURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs an authenticated GET and decodes a 2xx JSON body into out.
// Non-2xx responses return *APIError; transport failures propagate as-is.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("get %s: creating request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("get %s: reading body: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("get %s: decoding response: %w", path, err)
	}
	return nil
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Accounts fetches all accounts, including closed ones.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var resp accountsResponse
	if err := c.get(ctx, "/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("Accounts: %w", err)
	}
	return resp.Accounts, nil
}

type potsResponse struct {
	Pots []Pot `json:"pots"`
}

// Pots fetches the pots belonging to a current account.
func (c *Client) Pots(ctx context.Context, accountID string) ([]Pot, error) {
	params := url.Values{}
	params.Set("current_account_id", accountID)

	var resp potsResponse
	if err := c.get(ctx, "/pots", params, &resp); err != nil {
		return nil, fmt.Errorf("Pots: %w", err)
	}
	return resp.Pots, nil
}

// AccountBalance fetches the live balance for an account.
func (c *Client) AccountBalance(ctx context.Context, accountID string) (*Balance, error) {
	params := url.Values{}
	params.Set("account_id", accountID)

	var balance Balance
	if err := c.get(ctx, "/balance", params, &balance); err != nil {
		return nil, fmt.Errorf("AccountBalance: %w", err)
	}
	return &balance, nil
}

// Identity is the response from /ping/whoami.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	ClientID      string `json:"client_id"`
	UserID        string `json:"user_id"`
}

// WhoAmI checks whether the current token is still accepted.
func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var identity Identity
	if err := c.get(ctx, "/ping/whoami", nil, &identity); err != nil {
		return nil, fmt.Errorf("WhoAmI: %w", err)
	}
	return &identity, nil
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// transactionsPage fetches one page of transactions within [since, before).
// Errors are returned unwrapped so the history fetcher can branch on
// *APIError status codes.
func (c *Client) transactionsPage(ctx context.Context, accountID, since, before string, limit int) ([]Transaction, error) {
	params := url.Values{}
	params.Set("account_id", accountID)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("expand[]", "merchant")
	params.Set("since", since)
	if before != "" {
		params.Set("before", before)
	}

	var resp transactionsResponse
	if err := c.get(ctx, "/transactions", params, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}
