package btcpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dpyc/tollbooth/pkg/logger"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 15 * time.Second
	writeTimeout   = 10 * time.Second

	// Client-side ceiling on request rate. Polling operators share one
	// client per process; this keeps a busy host from hammering the
	// payment server.
	requestsPerSecond = 10
	requestBurst      = 20
)

// Client is an HTTP client for the BTCPay Server Greenfield API v1.
//
// The credential is sent as "Authorization: token <key>" (not Bearer) per
// BTCPay convention. Safe for concurrent use; one client per operator
// process, closed on shutdown.
type Client struct {
	baseURL    string
	storeID    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewClient creates a new BTCPay client. The host URL is normalized to
// strip a trailing slash before appending /api/v1.
func NewClient(host, apiKey, storeID string, log *logger.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   4,
	}
	return &Client{
		baseURL: strings.TrimSuffix(host, "/") + "/api/v1",
		storeID: storeID,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout + writeTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		logger:  log.WithField("component", "btcpay"),
	}
}

// SetBaseURL overrides the normalized base URL (useful for testing)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// do performs an authenticated request and maps every failure onto the
// btcpay error taxonomy. A non-nil out receives the decoded JSON body.
func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTimeout, Message: "rate limiter wait cancelled", Err: err}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindGeneric, Message: "failed to encode request body", Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return &Error{Kind: KindGeneric, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Authorization", "token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	c.logger.Debug("API request",
		"method", method,
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 400 {
		return &Error{
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Error{Kind: KindGeneric, Message: "failed to decode response", Err: err}
		}
	}
	return nil
}

// transportError classifies a non-HTTP failure as timeout or connection.
func transportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindConnection, Message: err.Error(), Err: err}
}

// HealthCheck probes GET /health.
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetStore fetches the configured store's metadata.
func (c *Client) GetStore(ctx context.Context) (*Store, error) {
	var s Store
	if err := c.do(ctx, http.MethodGet, "/stores/"+c.storeID, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetAPIKeyInfo returns the current credential's metadata and permissions.
func (c *Client) GetAPIKeyInfo(ctx context.Context) (*APIKeyInfo, error) {
	var info APIKeyInfo
	if err := c.do(ctx, http.MethodGet, "/api-keys/current", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateInvoice creates a Lightning invoice denominated in SATS. The
// metadata map is passed through to the provider unchanged.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, metadata map[string]interface{}) (*Invoice, error) {
	payload := map[string]interface{}{
		"amount":   strconv.FormatInt(amountSats, 10),
		"currency": "SATS",
	}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stores/%s/invoices", c.storeID), payload, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice fetches an invoice by id.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/invoices/%s", c.storeID, invoiceID), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreatePayout issues a store payout. The amount is converted from sats to
// an 8-decimal BTC string (BTCPay expects BTC). An empty method defaults
// to Lightning.
func (c *Client) CreatePayout(ctx context.Context, destination string, amountSats int64, payoutMethod string) (*Payout, error) {
	amountBTC, err := SatsToBTCString(amountSats)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	if payoutMethod == "" {
		payoutMethod = PayoutMethodLightning
	}
	payload := map[string]interface{}{
		"destination":    destination,
		"amount":         amountBTC,
		"payoutMethodId": payoutMethod,
	}
	var p Payout
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stores/%s/payouts", c.storeID), payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayoutProcessors lists the store's configured payout processors.
func (c *Client) GetPayoutProcessors(ctx context.Context) ([]PayoutProcessor, error) {
	var procs []PayoutProcessor
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/stores/%s/payout-processors", c.storeID), nil, &procs); err != nil {
		return nil, err
	}
	return procs, nil
}
