package primitives

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leolilley/ryeos/internal/backoff"
)

// RetryKind selects the backoff shape for a failed HTTP sync call.
type RetryKind string

const (
	RetryExponential RetryKind = "exponential"
	RetryFixed       RetryKind = "fixed"
)

// RetryPolicy configures how an HTTP sync call retries transient
// failures (non-2xx/3xx responses and transport errors).
type RetryPolicy struct {
	Kind        RetryKind
	MaxAttempts int
	DelayMs     float64
}

// AuthKind selects how credentials are attached to an HTTP sync call.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthAPIKey AuthKind = "api_key"
	AuthNone   AuthKind = ""
)

// AuthConfig describes the auth block of an HTTP sync call.
type AuthConfig struct {
	Kind   AuthKind
	Token  string // bearer token, or the api key value
	Header string // header name for api_key auth; defaults to "X-API-Key"
}

// HTTPRequest is the templated description of a one-shot HTTP call.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any // marshaled as JSON if non-nil
	Timeout time.Duration
	Retry   RetryPolicy
	Auth    AuthConfig
}

// HTTPResult is the outcome of an HTTP sync call.
type HTTPResult struct {
	Success    bool              `json:"success"`
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// HTTPSync performs one-shot HTTP requests with environment templating,
// retry, and bearer/api-key auth, in the manner of the provider
// clients' http.Client usage (see internal/providers/venice).
type HTTPSync struct {
	client *http.Client
}

// NewHTTPSync returns an HTTPSync primitive using client, or a sane
// default client if client is nil.
func NewHTTPSync(client *http.Client) *HTTPSync {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSync{client: client}
}

// Do executes req, resolving ${VAR:-default} placeholders in the URL
// and headers against the process environment, then retrying per
// req.Retry on transport errors or a non-2xx/3xx status.
func (h *HTTPSync) Do(ctx context.Context, req HTTPRequest, params map[string]string) (*HTTPResult, error) {
	url := ResolveTemplate(req.URL, params)
	headers := ResolveTemplateMap(req.Headers, params)

	var bodyBytes []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("primitives: marshal HTTP body: %w", err)
		}
		bodyBytes = b
	}

	maxAttempts := req.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastResult *HTTPResult
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryDelay(req.Retry, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := h.attempt(ctx, req, url, headers, bodyBytes)
		lastResult, lastErr = result, err
		if err == nil && result.Success {
			break
		}
	}

	if lastResult == nil {
		return nil, lastErr
	}
	lastResult.DurationMs = time.Since(start).Milliseconds()
	return lastResult, nil
}

func (h *HTTPSync) attempt(ctx context.Context, req HTTPRequest, url string, headers map[string]string, body []byte) (*HTTPResult, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("primitives: build HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	applyAuth(httpReq, req.Auth)

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return &HTTPResult{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}, err
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &HTTPResult{Success: false, StatusCode: resp.StatusCode, Error: readErr.Error()}, readErr
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 400
	result := &HTTPResult{
		Success:    success,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    respHeaders,
	}
	if !success {
		result.Error = fmt.Sprintf("unsuccessful status code %d", resp.StatusCode)
	}
	return result, nil
}

func applyAuth(req *http.Request, auth AuthConfig) {
	switch auth.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	}
}

func retryDelay(policy RetryPolicy, attempt int) time.Duration {
	delayMs := policy.DelayMs
	if delayMs <= 0 {
		delayMs = 200
	}
	if policy.Kind == RetryFixed {
		return time.Duration(delayMs) * time.Millisecond
	}
	bp := backoff.BackoffPolicy{InitialMs: delayMs, MaxMs: delayMs * 16, Factor: 2, Jitter: 0.1}
	return backoff.ComputeBackoff(bp, attempt-1)
}
