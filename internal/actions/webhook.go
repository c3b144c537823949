package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clienthub/automation/pkg/schema"
)

// WebhookConfig configures the call-webhook action.
type WebhookConfig struct {
	Client          *http.Client // transport override for tests
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	DefaultDelay    time.Duration // inter-attempt delay when the step sets none
}

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultWebhookTimeout  = 30 * time.Second
	defaultRetryDelay      = time.Second
)

// WebhookAction calls an external HTTP endpoint with bounded retry. Network
// errors and 5xx responses retry up to max_retries with a fixed delay; 4xx
// responses are terminal on first sight.
type WebhookAction struct {
	config WebhookConfig
}

// NewWebhookAction creates a call-webhook action.
func NewWebhookAction(cfg WebhookConfig) *WebhookAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultWebhookTimeout
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = defaultRetryDelay
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &WebhookAction{config: cfg}
}

func (a *WebhookAction) Name() schema.ActionType { return schema.ActionCallWebhook }
func (a *WebhookAction) Description() string {
	return "Call an external HTTP endpoint with per-attempt timeout and bounded retry."
}

func (a *WebhookAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p schema.WebhookParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "call-webhook requires a url")
	}
	u, err := url.ParseRequestURI(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "call-webhook: invalid url %q", p.URL)
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}

	timeout := a.config.DefaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}

	delay := a.config.DefaultDelay
	if p.RetryDelay != "" {
		d, derr := time.ParseDuration(p.RetryDelay)
		if derr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "call-webhook: invalid retry_delay %q", p.RetryDelay)
		}
		delay = d
	}

	var bodyBytes []byte
	if p.Body != nil {
		bodyBytes, err = json.Marshal(p.Body)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "call-webhook: cannot marshal body: %s", err.Error()).WithCause(err)
		}
	}

	maxAttempts := p.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, schema.NewErrorf(schema.ErrCodeCancelled, "call-webhook cancelled after %d attempts", attempt-1).WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		result, retryable, aerr := a.attempt(ctx, method, p.URL, p.Headers, bodyBytes, timeout)
		if aerr == nil {
			result["attempts"] = attempt
			out, merr := json.Marshal(result)
			if merr != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "call-webhook: marshal output: %s", merr.Error()).WithCause(merr)
			}
			return &Result{
				Success: true,
				Message: fmt.Sprintf("webhook %s %s returned %v (attempt %d)", method, p.URL, result["status_code"], attempt),
				Output:  json.RawMessage(out),
			}, nil
		}
		lastErr = aerr
		if !retryable {
			break
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"call-webhook %s %s failed: %s", method, p.URL, lastErr.Error()).
		WithCause(lastErr).
		WithDetails(map[string]any{"url": p.URL, "max_retries": p.MaxRetries})
}

// attempt performs one HTTP round trip. The bool reports whether the failure
// class is retryable (network error or 5xx).
func (a *WebhookAction) attempt(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, timeout time.Duration) (map[string]any, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, reader)
	if err != nil {
		return nil, false, schema.NewErrorf(schema.ErrCodeValidation, "build request: %s", err.Error()).WithCause(err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.config.Client.Do(req)
	if err != nil {
		return nil, true, schema.NewErrorf(schema.ErrCodeTransient, "request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, true, schema.NewErrorf(schema.ErrCodeTransient, "read response: %s", err.Error()).WithCause(err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	var parsedBody any
	if len(respBytes) > 0 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			if jerr := json.Unmarshal(respBytes, &parsedBody); jerr != nil {
				parsedBody = string(respBytes)
			}
		} else {
			parsedBody = string(respBytes)
		}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"status":      resp.Status,
		"headers":     respHeaders,
		"body":        parsedBody,
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, schema.NewErrorf(schema.ErrCodeTransient, "server returned %d", resp.StatusCode).WithDetails(result)
	case resp.StatusCode >= 400:
		// Client errors are deterministic; retrying cannot help.
		return nil, false, schema.NewErrorf(schema.ErrCodeNonRetryable, "server returned %d", resp.StatusCode).WithDetails(result)
	}
	return result, false, nil
}
