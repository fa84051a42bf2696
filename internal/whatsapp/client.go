// Package whatsapp is a thin client for the Meta WhatsApp Cloud API plus the
// webhook payload model.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
)

// Credentials identify one tenant's business number.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// CredentialRefresher reloads credentials after the API rejects a token.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context, phoneNumberID string) (Credentials, error)
}

// Config controls how the client behaves.
type Config struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Refresher  CredentialRefresher
}

// Client sends messages on behalf of any tenant; credentials travel with
// each call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	refresher  CredentialRefresher
}

// New creates a configured client. MaxRetries defaults to 2, giving three
// attempts in total.
func New(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    base + "/" + version,
		httpClient: httpClient,
		maxRetries: retries,
		backoff:    backoff,
		logger:     logger,
		refresher:  cfg.Refresher,
	}
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, creds Credentials, to, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	req := newRequest(to, "text")
	req.Text = &textBody{Body: body}
	return c.send(ctx, creds, req)
}

// SendButtons sends up to three reply buttons. Titles are cut to 20 runes.
func (c *Client) SendButtons(ctx context.Context, creds Credentials, to, body string, buttons []Button) (string, error) {
	req, err := buttonsRequest(to, body, buttons)
	if err != nil {
		return "", err
	}
	return c.send(ctx, creds, req)
}

// SendList sends a single-choice list of up to ten rows.
func (c *Client) SendList(ctx context.Context, creds Credentials, to, body, buttonLabel string, sections []Section) (string, error) {
	req, err := listRequest(to, body, buttonLabel, sections)
	if err != nil {
		return "", err
	}
	return c.send(ctx, creds, req)
}

// SendTemplate sends an approved template, which is allowed outside the
// 24 hour customer service window.
func (c *Client) SendTemplate(ctx context.Context, creds Credentials, to, name, language string, params []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: template name required", ErrInvalidMessage)
	}
	return c.send(ctx, creds, templateRequest(to, name, language, params))
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, creds Credentials, messageID string) error {
	body, err := json.Marshal(markReadRequest{MessagingProduct: "whatsapp", Status: "read", MessageID: messageID})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal read receipt: %w", err)
	}
	_, err = c.invokeWithRefresh(ctx, creds, body)
	return err
}

func (c *Client) send(ctx context.Context, creds Credentials, req sendRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" {
		return "", fmt.Errorf("%w: recipient required", ErrInvalidMessage)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal %s message: %w", req.Type, err)
	}
	data, err := c.invokeWithRefresh(ctx, creds, body)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("whatsapp: decode send response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", nil
	}
	return resp.Messages[0].ID, nil
}

// invokeWithRefresh retries exactly once with refreshed credentials when the
// token is rejected.
func (c *Client) invokeWithRefresh(ctx context.Context, creds Credentials, body []byte) ([]byte, error) {
	data, err := c.invoke(ctx, creds, body)
	if err == nil || c.refresher == nil {
		return data, err
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.IsAuth() {
		return nil, err
	}
	c.logger.Warn("whatsapp: access token rejected, refreshing", "phone_number_id", creds.PhoneNumberID)
	fresh, refreshErr := c.refresher.RefreshCredentials(ctx, creds.PhoneNumberID)
	if refreshErr != nil {
		return nil, fmt.Errorf("whatsapp: refresh credentials: %w (after %v)", refreshErr, err)
	}
	return c.invoke(ctx, fresh, body)
}

func (c *Client) invoke(ctx context.Context, creds Credentials, body []byte) ([]byte, error) {
	if strings.TrimSpace(creds.PhoneNumberID) == "" || strings.TrimSpace(creds.AccessToken) == "" {
		return nil, errors.New("whatsapp: credentials required")
	}
	url := c.baseURL + "/" + creds.PhoneNumberID + "/messages"
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("whatsapp: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("whatsapp: http error: %w", err)
			}
			lastErr = err
			c.logRetry(creds.PhoneNumberID, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("whatsapp: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(creds.PhoneNumberID, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("whatsapp: request failed without response")
}

// maxBackoff caps the delay between two attempts.
const maxBackoff = 10 * time.Second

// retryDelay is backoff * 2^attempt, capped at maxBackoff.
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.backoff
	for i := 0; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.retryDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(phoneNumberID string, attempt int, status int, err error) {
	c.logger.Warn("whatsapp retry",
		"phone_number_id", phoneNumberID,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// Graph API error codes the rest of the system branches on.
const (
	CodeInvalidToken  = 190
	CodeOutsideWindow = 131047
)

// APIError is a non-2xx Graph API response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("whatsapp: %s (status=%d code=%d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("whatsapp: http status %d", e.StatusCode)
}

// IsOutsideWindow reports the "re-engagement message" failure: free-form
// messages are refused more than 24 hours after the customer last wrote.
func (e *APIError) IsOutsideWindow() bool {
	return e != nil && e.Code == CodeOutsideWindow
}

// IsAuth reports a rejected or expired access token.
func (e *APIError) IsAuth() bool {
	return e != nil && (e.StatusCode == http.StatusUnauthorized || e.Code == CodeInvalidToken)
}

// IsOutsideWindow unwraps err and checks for the 24 hour window failure.
func IsOutsideWindow(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsOutsideWindow()
}

// IsAuth unwraps err and checks for a token failure.
func IsAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	envelope.Error.StatusCode = status
	return envelope.Error
}
