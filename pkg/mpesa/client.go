package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/silvershield/silvershield-backend/internal/apperrors"
	"github.com/silvershield/silvershield-backend/internal/config"
)

const requestTimeout = 20 * time.Second

var (
	canonicalPhonePattern  = regexp.MustCompile(`^254(7|1)\d{8}$`)
	localPhonePattern      = regexp.MustCompile(`^0(7|1)\d{8}$`)
	subscriberPhonePattern = regexp.MustCompile(`^(7|1)\d{8}$`)
	nonDigitPattern        = regexp.MustCompile(`\D`)
	placeholderURLPattern  = regexp.MustCompile(`(?i)example\.com|your-domain\.com`)
	localhostPattern       = regexp.MustCompile(`(?i)localhost|127\.0\.0\.1`)
)

// Client is a Daraja (M-Pesa) STK push client
type Client struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Paybill        string
	AccountNumber  string
	CallbackURL    string
	Environment    string
	httpClient     *http.Client
}

// STKPushResult is the normalized outcome of a successful charge initiation.
// Raw carries the provider payload verbatim for the audit trail only.
type STKPushResult struct {
	CheckoutRequestID   string
	ResponseDescription string
	CustomerMessage     string
	NormalizedPhone     string
	Environment         string
	Raw                 string
}

// PaymentDetails describes the paybill configuration shown to donors before
// initiation, including configuration warnings.
type PaymentDetails struct {
	Paybill       string   `json:"paybill"`
	AccountNumber string   `json:"accountNumber"`
	Environment   string   `json:"environment"`
	Configured    bool     `json:"configured"`
	Warnings      []string `json:"warnings"`
}

// NewClient creates a new M-Pesa client
func NewClient(cfg config.MpesaConfig) *Client {
	baseURL := "https://sandbox.safaricom.co.ke"
	if cfg.Environment == "production" {
		baseURL = "https://api.safaricom.co.ke"
	}
	return &Client{
		BaseURL:        baseURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		ShortCode:      cfg.ShortCode,
		Passkey:        cfg.Passkey,
		Paybill:        cfg.Paybill,
		AccountNumber:  cfg.AccountNumber,
		CallbackURL:    cfg.CallbackURL,
		Environment:    cfg.Environment,
		httpClient:     &http.Client{Timeout: requestTimeout},
	}
}

// NormalizePhone converts a donor phone number to the canonical 254XXXXXXXXX
// digit format. Accepted input shapes: 07XXXXXXXX / 01XXXXXXXX, the bare
// 9-digit subscriber number, or the already-canonical form.
func NormalizePhone(phone string) (string, error) {
	digits := nonDigitPattern.ReplaceAllString(phone, "")
	if digits == "" {
		return "", apperrors.Validation("Phone number is required for M-Pesa STK push.")
	}
	if canonicalPhonePattern.MatchString(digits) {
		return digits, nil
	}
	if localPhonePattern.MatchString(digits) {
		return "254" + digits[1:], nil
	}
	if subscriberPhonePattern.MatchString(digits) {
		return "254" + digits, nil
	}
	return "", apperrors.Validation("Invalid phone format. Use 07XXXXXXXX, 01XXXXXXXX, or 2547XXXXXXXX.")
}

// FormatTimestamp renders the Daraja yyyymmddhhmmss timestamp
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// Password builds the base64 shortcode+passkey+timestamp signature Daraja
// expects on an STK push request
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

func isCallbackURLValid(callbackURL, environment string) bool {
	value := strings.TrimSpace(callbackURL)
	if value == "" {
		return false
	}
	if !strings.HasPrefix(strings.ToLower(value), "http://") && !strings.HasPrefix(strings.ToLower(value), "https://") {
		return false
	}
	if placeholderURLPattern.MatchString(value) {
		return false
	}
	if environment == "production" && localhostPattern.MatchString(value) {
		return false
	}
	return true
}

// ConfigurationWarnings lists everything standing between this client and a
// live STK push. The sandbox warning is advisory; all others are hard.
func (c *Client) ConfigurationWarnings() []string {
	var warnings []string

	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		warnings = append(warnings, "Missing MPESA_CONSUMER_KEY or MPESA_CONSUMER_SECRET.")
	}
	if c.ShortCode == "" {
		warnings = append(warnings, "Missing MPESA_SHORTCODE.")
	}
	if c.Passkey == "" {
		warnings = append(warnings, "Missing MPESA_PASSKEY.")
	} else if len(c.Passkey) < 20 {
		warnings = append(warnings, "MPESA_PASSKEY looks invalid. Use the full Lipa na M-Pesa passkey from Daraja portal.")
	}
	if !isCallbackURLValid(c.CallbackURL, c.Environment) {
		warnings = append(warnings, "MPESA_CALLBACK_URL is invalid or still a placeholder. Use your public API callback URL.")
	}
	if c.Environment != "production" {
		warnings = append(warnings, "MPESA_ENVIRONMENT is sandbox. Sandbox may not trigger a real phone STK popup.")
	}

	return warnings
}

func hardWarnings(warnings []string) []string {
	var hard []string
	for _, w := range warnings {
		if !strings.Contains(w, "sandbox") {
			hard = append(hard, w)
		}
	}
	return hard
}

// IsConfigured reports whether all required credentials are present
func (c *Client) IsConfigured() bool {
	return len(hardWarnings(c.ConfigurationWarnings())) == 0
}

// PaymentDetails returns the paybill details and configuration state for display
func (c *Client) PaymentDetails() PaymentDetails {
	return PaymentDetails{
		Paybill:       c.Paybill,
		AccountNumber: c.AccountNumber,
		Environment:   c.Environment,
		Configured:    c.IsConfigured(),
		Warnings:      c.ConfigurationWarnings(),
	}
}

// classifyTransportError maps transport failures to the retryable timeout
// class. Anything that never produced a provider response is safe to retry.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
		return apperrors.ProviderTimeout("M-Pesa request timed out. Please try again.", err)
	}
	return apperrors.ProviderTimeout("M-Pesa request failed to reach the provider. Please try again.", err)
}

func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return "", apperrors.Configuration("M-Pesa consumer credentials are missing.")
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+auth)

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
		return "", apperrors.ProviderRejected("M-Pesa token request failed: %s", string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return "", apperrors.MalformedResponse("M-Pesa token response did not include an access token.", err)
	}
	return tokenResp.AccessToken, nil
}

// InitiateSTKPush sends a CustomerPayBillOnline push prompt to the donor's
// phone. A non-zero synchronous ResponseCode is a hard initiation failure,
// distinct from the asynchronous outcome delivered later on the callback URL.
func (c *Client) InitiateSTKPush(ctx context.Context, amount float64, phone, accountReference, transactionDesc string) (*STKPushResult, error) {
	if hard := hardWarnings(c.ConfigurationWarnings()); len(hard) > 0 {
		return nil, apperrors.Configuration("M-Pesa is not fully configured. %s", strings.Join(hard, " "))
	}

	normalizedPhone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := FormatTimestamp(time.Now())
	wholeAmount := int64(amount + 0.5)
	if wholeAmount < 1 {
		wholeAmount = 1
	}
	if transactionDesc == "" {
		transactionDesc = "Silver Shield Donation"
	}

	requestBody := map[string]interface{}{
		"BusinessShortCode": c.ShortCode,
		"Password":          Password(c.ShortCode, c.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            wholeAmount,
		"PartyA":            normalizedPhone,
		"PartyB":            c.ShortCode,
		"PhoneNumber":       normalizedPhone,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  accountReference,
		"TransactionDesc":   transactionDesc,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/mpesa/stkpush/v1/processrequest", strings.NewReader(string(jsonBody)))
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

	var payload map[string]interface{}
	if unmarshalErr := json.Unmarshal(body, &payload); unmarshalErr != nil {
		if resp.StatusCode == http.StatusOK {
			return nil, apperrors.MalformedResponse("M-Pesa STK response was not valid JSON: "+raw, unmarshalErr)
		}
		return nil, apperrors.ProviderRejected("M-Pesa STK request failed: %s", raw)
	}

	if resp.StatusCode != http.StatusOK {
		message := stringField(payload, "errorMessage")
		if message == "" {
			message = raw
		}
		return nil, apperrors.ProviderRejected("M-Pesa STK request failed: %s", message)
	}

	if code := stringField(payload, "ResponseCode"); code != "0" {
		description := stringField(payload, "ResponseDescription")
		if description == "" {
			description = "Unknown provider response."
		}
		return nil, apperrors.ProviderRejected("M-Pesa STK rejected: %s", description)
	}

	return &STKPushResult{
		CheckoutRequestID:   stringField(payload, "CheckoutRequestID"),
		ResponseDescription: stringField(payload, "ResponseDescription"),
		CustomerMessage:     stringField(payload, "CustomerMessage"),
		NormalizedPhone:     normalizedPhone,
		Environment:         c.Environment,
		Raw:                 raw,
	}, nil
}

// stringField reads a payload field that providers send either as a string or
// a number
func stringField(payload map[string]interface{}, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
