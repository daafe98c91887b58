package smartflo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"crm-telephony/internal/config"
)

// ErrUnauthorized means the provider rejected our credentials; it is
// not retried.
var ErrUnauthorized = errors.New("smartflo: unauthorized")

// tokenSkew renews the bearer token this long before its stated expiry.
const tokenSkew = 2 * time.Minute

// Client talks to the Smartflo cloud telephony API. All methods
// authenticate lazily: the first call logs in and later calls reuse
// the bearer token until it nears expiry.
//
// Transient failures (5xx, 429, transport errors) are retried with
// capped exponential backoff; other 4xx responses surface immediately.
type Client struct {
	baseURL    string
	email      string
	password   string
	callerID   string
	maxRetries int
	httpc      *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	now func() time.Time
	// sleep is injectable so retry tests run instantly.
	sleep func(time.Duration)
}

func NewClient(cfg config.SmartfloConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		email:      cfg.Email,
		password:   cfg.Password,
		callerID:   cfg.CallerID,
		maxRetries: retries,
		httpc:      &http.Client{Timeout: timeout},
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// CallerID returns the default outbound presentation number.
func (c *Client) CallerID() string { return c.callerID }

type loginResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresIn is seconds until expiry.
	ExpiresIn int `json:"expires_in"`
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-tokenSkew)) {
		return c.token, nil
	}

	body, status, err := c.doOnce(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return "", fmt.Errorf("smartflo: login: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("smartflo: login: unexpected status %d", status)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("smartflo: login: decode response: %w", err)
	}
	if lr.AccessToken == "" {
		return "", errors.New("smartflo: login: empty access token")
	}
	expires := time.Duration(lr.ExpiresIn) * time.Second
	if expires <= 0 {
		expires = time.Hour
	}
	c.token = lr.AccessToken
	c.tokenExpiry = c.now().Add(expires)
	return c.token, nil
}

// ClickToCallRequest originates an agent-to-customer call. CustomID is
// the correlation token echoed back in later webhooks.
type ClickToCallRequest struct {
	AgentNumber       string `json:"agent_number"`
	DestinationNumber string `json:"destination_number"`
	CallerID          string `json:"caller_id"`
	CustomID          string `json:"custom_identifier"`
}

type ClickToCallResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

func (c *Client) ClickToCall(ctx context.Context, req ClickToCallRequest) (ClickToCallResponse, error) {
	if req.CallerID == "" {
		req.CallerID = c.callerID
	}
	var resp ClickToCallResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/click_to_call", req, &resp); err != nil {
		return ClickToCallResponse{}, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("smartflo: click-to-call rejected: %s", resp.Message)
	}
	return resp, nil
}

// CDR is one provider-side call detail record.
type CDR struct {
	CallID        string `json:"call_id"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
	AgentNumber   string `json:"agent_number"`
	CallerID      string `json:"caller_id_number"`
	Destination   string `json:"destination_number"`
	Duration      int    `json:"duration"`
	RecordingURL  string `json:"recording_url"`
	Disposition   string `json:"disposition"`
	CallStartTime string `json:"call_start_time"`
	CallEndTime   string `json:"call_end_time"`
}

type cdrResponse struct {
	Results []CDR `json:"results"`
}

// FetchCDRs lists call detail records in [from, to].
func (c *Client) FetchCDRs(ctx context.Context, from, to time.Time) ([]CDR, error) {
	q := url.Values{}
	q.Set("from_date", from.UTC().Format("2006-01-02 15:04:05"))
	q.Set("to_date", to.UTC().Format("2006-01-02 15:04:05"))

	var resp cdrResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/call/records?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type recordingResponse struct {
	RecordingURL string `json:"recording_url"`
	URL          string `json:"url"`
}

// FetchRecordingURL looks up the recording for a finished call. An
// empty return with nil error means the recording is not ready yet.
func (c *Client) FetchRecordingURL(ctx context.Context, providerCallID string) (string, error) {
	var resp recordingResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/call/recording?call_id="+url.QueryEscape(providerCallID), nil, &resp)
	if err != nil {
		return "", err
	}
	if resp.RecordingURL != "" {
		return resp.RecordingURL, nil
	}
	return resp.URL, nil
}

// doJSON runs one authenticated request with retries and decodes the
// response into out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			c.sleep(backoff)
			backoff *= 2
			if backoff > 8*time.Second {
				backoff = 8 * time.Second
			}
		}

		body, status, err := c.doOnce(ctx, method, path, token, in)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case status >= 200 && status < 300:
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("smartflo: decode %s response: %w", path, err)
			}
			return nil
		case status == http.StatusUnauthorized:
			// Token may have been revoked early; force a re-login on
			// the next attempt.
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			token, err = c.ensureToken(ctx)
			if err != nil {
				return err
			}
			lastErr = ErrUnauthorized
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("smartflo: %s %s: status %d", method, path, status)
		default:
			return fmt.Errorf("smartflo: %s %s: status %d: %s", method, path, status, truncate(body, 256))
		}
	}
	return fmt.Errorf("smartflo: %s %s: retries exhausted: %w", method, path, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path, token string, in any) ([]byte, int, error) {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
