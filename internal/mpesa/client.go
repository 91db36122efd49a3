package mpesa

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	tokenPath          = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath        = "/mpesa/stkpush/v1/processrequest"
	b2cPaymentPath     = "/mpesa/b2c/v1/paymentrequest"
	timestampLayout    = "20060102150405"
	tokenExpirySkew    = 30 * time.Second
	defaultCallTimeout = 15 * time.Second
)

// Config captures the provider integration settings.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	InitiatorName   string
	InitiatorSecret string
	CertPath        string
	ValidationKey   []byte
	CallbackBaseURL string
	// Hardened enables callback signature verification. Relaxed mode is a
	// deliberate non-production switch and must be set explicitly.
	Hardened bool
	Timeout  time.Duration
}

// Client talks to the mobile-money provider's HTTP API. The bearer token is
// cached per process; refresh runs through a single-flight group so
// concurrent callers observing an expired token never issue redundant
// credential exchanges.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	token   string
	expiry  time.Time
	refresh singleflight.Group
}

// NewClient builds a provider client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// AccessToken returns the cached bearer token while it is still valid and
// refreshes it otherwise. Reads outside the refresh window take only the
// read lock since the cached token is immutable between refreshes.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.expiry
	c.mu.RUnlock()
	if token != "" && time.Now().Before(expiry) {
		return token, nil
	}

	result, err, _ := c.refresh.Do("token", func() (any, error) {
		// Another caller may have refreshed while this one waited.
		c.mu.RLock()
		token, expiry := c.token, c.expiry
		c.mu.RUnlock()
		if token != "" && time.Now().Before(expiry) {
			return token, nil
		}
		return c.exchangeCredentials(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) exchangeCredentials(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %v: %w", err, ErrProviderAuth)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("token exchange rejected", "status", resp.StatusCode, "payload", string(body))
		return "", &ProviderError{Op: "token exchange", Status: resp.StatusCode, Payload: string(body)}
	}

	var parsed struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %v: %w", err, ErrProviderAuth)
	}
	seconds, err := strconv.ParseInt(parsed.ExpiresIn.String(), 10, 64)
	if err != nil || parsed.AccessToken == "" {
		return "", fmt.Errorf("malformed token response: %w", ErrProviderAuth)
	}

	expiry := time.Now().Add(time.Duration(seconds)*time.Second - tokenExpirySkew)

	c.mu.Lock()
	c.token = parsed.AccessToken
	c.expiry = expiry
	c.mu.Unlock()

	return parsed.AccessToken, nil
}

// InitiateCollection requests the provider push a payment prompt to the
// payer's phone, tagged with reference for callback correlation. It returns
// the provider-issued checkout request identifier.
func (c *Client) InitiateCollection(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	timestamp := time.Now().Format(timestampLayout)
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.requestPassword(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackBaseURL + "/api/v1/mpesa/callback",
		"AccountReference":  reference,
		"TransactionDesc":   "Wallet funding",
	}

	var parsed struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
	}
	if err := c.post(ctx, "collection", stkPushPath, payload, &parsed); err != nil {
		return "", err
	}
	if parsed.CheckoutRequestID == "" {
		return "", fmt.Errorf("collection response missing checkout id: %w", ErrProviderRequest)
	}
	return parsed.CheckoutRequestID, nil
}

// InitiateDisbursement requests the provider push funds to the recipient's
// phone. The security credential is the initiator secret sealed with the
// provider's RSA public certificate; this is asymmetric and entirely
// separate from the system's symmetric vault.
func (c *Client) InitiateDisbursement(ctx context.Context, phone string, amount int64, reference string) (string, error) {
	credential, err := c.securityCredential()
	if err != nil {
		return "", fmt.Errorf("security credential: %v: %w", err, ErrProviderRequest)
	}

	payload := map[string]any{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": credential,
		"CommandID":          "BusinessPayment",
		"Amount":             amount,
		"PartyA":             c.cfg.ShortCode,
		"PartyB":             phone,
		"Remarks":            "Withdrawal " + reference,
		"QueueTimeOutURL":    c.cfg.CallbackBaseURL + "/api/v1/mpesa/b2c-timeout",
		"ResultURL":          c.cfg.CallbackBaseURL + "/api/v1/mpesa/b2c-result",
		"Occasion":           reference,
	}

	var parsed struct {
		ConversationID string `json:"ConversationID"`
	}
	if err := c.post(ctx, "disbursement", b2cPaymentPath, payload, &parsed); err != nil {
		return "", err
	}
	if parsed.ConversationID == "" {
		return "", fmt.Errorf("disbursement response missing conversation id: %w", ErrProviderRequest)
	}
	return parsed.ConversationID, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload any, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrProviderRequest)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("provider rejected request", "op", op, "status", resp.StatusCode, "payload", string(respBody))
		return &ProviderError{Op: op, Status: resp.StatusCode, Payload: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %v: %w", op, err, ErrProviderRequest)
	}
	return nil
}

// requestPassword derives the collection request password the provider
// expects: base64(shortcode + passkey + timestamp).
func (c *Client) requestPassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

func (c *Client) securityCredential() (string, error) {
	pemBytes, err := os.ReadFile(c.cfg.CertPath)
	if err != nil {
		return "", fmt.Errorf("read provider cert: %w", err)
	}
	pub, err := parseRSAPublicKey(pemBytes)
	if err != nil {
		return "", err
	}
	sealed, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(c.cfg.InitiatorSecret))
	if err != nil {
		return "", fmt.Errorf("seal initiator secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("provider cert is not PEM encoded")
	}

	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, fmt.Errorf("provider cert does not hold an RSA key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse provider public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("provider key is not RSA")
	}
	return rsaPub, nil
}
