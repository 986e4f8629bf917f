package paypal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/silvershield/silvershield-backend/internal/apperrors"
	"github.com/silvershield/silvershield-backend/internal/config"
)

const requestTimeout = 20 * time.Second

// Client is a PayPal checkout (orders v2) client
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Environment  string
	ReturnURL    string
	CancelURL    string
	httpClient   *http.Client
}

// OrderResult is the normalized outcome of an order-create call. Mocked is set
// when the client had no credentials and produced a deterministic mock order,
// so callers never mistake it for a live transaction.
type OrderResult struct {
	OrderID     string
	Status      string
	ApprovalURL string
	Mocked      bool
	Raw         string
}

// CaptureResult is the normalized outcome of a capture call. Completed maps
// the provider's completion status; anything else settles as FAILED.
type CaptureResult struct {
	TransactionID string
	Status        string
	Completed     bool
	Mocked        bool
	Raw           string
}

// NewClient creates a new PayPal client
func NewClient(cfg config.PaypalConfig) *Client {
	baseURL := "https://api-m.sandbox.paypal.com"
	if cfg.Environment == "production" {
		baseURL = "https://api-m.paypal.com"
	}
	return &Client{
		BaseURL:      baseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Environment:  cfg.Environment,
		ReturnURL:    cfg.ReturnURL,
		CancelURL:    cfg.CancelURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

// IsConfigured reports whether live credentials are present
func (c *Client) IsConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return apperrors.ProviderTimeout("PayPal request timed out. Please try again.", err)
	}
	return apperrors.ProviderTimeout("PayPal request failed to reach the provider. Please try again.", err)
}

func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.ClientID + ":" + c.ClientSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.ProviderRejected("PayPal token request failed: %s", string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return "", apperrors.MalformedResponse("PayPal token response did not include an access token.", err)
	}
	return tokenResp.AccessToken, nil
}

// CreateOrder creates a provider-side order and returns its approval URL.
// Without credentials it falls back to a deterministic mock order so the rest
// of the pipeline stays testable; the result is flagged Mocked.
func (c *Client) CreateOrder(ctx context.Context, amount float64, currency, description string) (*OrderResult, error) {
	if !c.IsConfigured() {
		orderID := fmt.Sprintf("MOCK-PAYPAL-%d", time.Now().UnixMilli())
		approvalURL := c.ReturnURL + "?mockPaypal=true"
		raw, _ := json.Marshal(map[string]interface{}{
			"mocked": true,
			"id":     orderID,
			"status": "CREATED",
		})
		return &OrderResult{
			OrderID:     orderID,
			Status:      "CREATED",
			ApprovalURL: approvalURL,
			Mocked:      true,
			Raw:         string(raw),
		}, nil
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	requestBody := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"description": description,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         fmt.Sprintf("%.2f", amount),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": c.ReturnURL,
			"cancel_url": c.CancelURL,
		},
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v2/checkout/orders", strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	raw := string(body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.ProviderRejected("PayPal order creation failed: %s", raw)
	}

	var order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &order); err != nil || order.ID == "" {
		return nil, apperrors.MalformedResponse("PayPal order response was unparseable: "+raw, err)
	}

	approvalURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}

	return &OrderResult{
		OrderID:     order.ID,
		Status:      order.Status,
		ApprovalURL: approvalURL,
		Raw:         raw,
	}, nil
}

// CaptureOrder finalizes a previously approved order. PayPal captures are
// idempotent on the provider side; calling this twice for the same order does
// not double-charge.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	if !c.IsConfigured() {
		raw, _ := json.Marshal(map[string]interface{}{
			"mocked": true,
			"id":     orderID,
			"status": "COMPLETED",
		})
		return &CaptureResult{
			TransactionID: orderID,
			Status:        "COMPLETED",
			Completed:     true,
			Mocked:        true,
			Raw:           string(raw),
		}, nil
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v2/checkout/orders/"+orderID+"/capture", strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	raw := string(body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.ProviderRejected("PayPal capture failed: %s", raw)
	}

	var capture struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &capture); err != nil {
		return nil, apperrors.MalformedResponse("PayPal capture response was unparseable: "+raw, err)
	}

	transactionID := capture.ID
	if transactionID == "" {
		transactionID = orderID
	}

	return &CaptureResult{
		TransactionID: transactionID,
		Status:        capture.Status,
		Completed:     capture.Status == "COMPLETED",
		Raw:           raw,
	}, nil
}
