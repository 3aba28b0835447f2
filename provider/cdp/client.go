// Package cdp implements the payment-provider contract against a remote
// CDP-style wallet API over JSON/HTTP. Requests are authenticated with a
// per-request JWT generated from a CDP API key; when no key is configured
// requests go out unauthenticated, which suits local gateways and tests.
package cdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coinbase/cdp-sdk/go/auth"

	agentpay "github.com/skymint/agentpay"
)

// DefaultTimeout bounds each provider request
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response body lands in messages
const maxErrorBody = 512

// Config configures the CDP provider client
type Config struct {
	// BaseURL is the base URL of the wallet API (required)
	BaseURL string

	// KeyID and KeySecret are the CDP API key used to sign requests.
	// Leave both empty to send unauthenticated requests.
	KeyID     string
	KeySecret string

	// HTTPClient overrides the default client (optional)
	HTTPClient *http.Client

	// Timeout for requests when no HTTPClient is given (optional,
	// defaults to DefaultTimeout)
	Timeout time.Duration
}

// Client speaks the wallet API. Implements agentpay.PaymentProvider.
type Client struct {
	baseURL    string
	host       string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// New creates a provider client from the config
func New(config *Config) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}

	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		host:       parsed.Host,
		keyID:      config.KeyID,
		keySecret:  config.KeySecret,
		httpClient: httpClient,
	}, nil
}

// ============================================================================
// Wire types
// ============================================================================

type createWalletRequest struct {
	OwnerRef   string  `json:"owner_ref"`
	SpendLimit float64 `json:"spend_limit"`
}

type createWalletResponse struct {
	WalletID      string `json:"wallet_id"`
	WalletAddress string `json:"wallet_address"`
	Network       string `json:"network,omitempty"`
}

type makePaymentRequest struct {
	Amount      float64 `json:"amount"`
	Recipient   string  `json:"recipient"`
	Description string  `json:"description,omitempty"`
}

type makePaymentResponse struct {
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type walletStatusResponse struct {
	IsActive         bool    `json:"is_active"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// ============================================================================
// PaymentProvider implementation
// ============================================================================

// CreateWallet provisions a session wallet for ownerRef
func (c *Client) CreateWallet(ctx context.Context, ownerRef string, limit float64) (*agentpay.WalletInfo, error) {
	var resp createWalletResponse
	err := c.do(ctx, http.MethodPost, "/wallets", createWalletRequest{
		OwnerRef:   ownerRef,
		SpendLimit: limit,
	}, &resp)
	if err != nil {
		return nil, agentpay.NewProviderCallError("createWallet", err)
	}
	return &agentpay.WalletInfo{
		WalletID:      resp.WalletID,
		WalletAddress: resp.WalletAddress,
		Network:       resp.Network,
	}, nil
}

// MakePayment transfers amount from the wallet to the recipient address
func (c *Client) MakePayment(ctx context.Context, walletID string, amount float64, recipient, description string) (*agentpay.PaymentReceipt, error) {
	var resp makePaymentResponse
	path := fmt.Sprintf("/wallets/%s/payments", url.PathEscape(walletID))
	err := c.do(ctx, http.MethodPost, path, makePaymentRequest{
		Amount:      amount,
		Recipient:   recipient,
		Description: description,
	}, &resp)
	if err != nil {
		return nil, agentpay.NewProviderCallError("makePayment", err)
	}
	return &agentpay.PaymentReceipt{
		PaymentID: resp.PaymentID,
		Signature: resp.Signature,
	}, nil
}

// GetStatus reports the wallet's activity flag and remaining balance
func (c *Client) GetStatus(ctx context.Context, walletID string) (*agentpay.WalletStatus, error) {
	var resp walletStatusResponse
	path := fmt.Sprintf("/wallets/%s", url.PathEscape(walletID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, agentpay.NewProviderCallError("getStatus", err)
	}
	return &agentpay.WalletStatus{
		IsActive:         resp.IsActive,
		RemainingBalance: resp.RemainingBalance,
	}, nil
}

// do executes one JSON request against the API, signing it when a CDP key
// is configured
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.keyID != "" && c.keySecret != "" {
		jwt, err := auth.GenerateJWT(auth.JwtOptions{
			KeyID:         c.keyID,
			KeySecret:     c.keySecret,
			RequestMethod: method,
			RequestHost:   c.host,
			RequestPath:   path,
		})
		if err != nil {
			return fmt.Errorf("generate request JWT: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ensure Client implements PaymentProvider
var _ agentpay.PaymentProvider = (*Client)(nil)
