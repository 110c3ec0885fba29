package protocolbanks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ============================================================================
// Request Types
// ============================================================================

// RequestOptions tunes a single request.
type RequestOptions struct {
	// SkipAuth sends the request without a bearer credential. Used by the
	// credential endpoints themselves.
	SkipAuth bool
	// Headers are added to the request after the defaults.
	Headers map[string]string
}

// RequestInterceptor runs before a request is sent. Returning an error
// aborts the request.
type RequestInterceptor func(*http.Request) error

// ResponseInterceptor runs after a response is received, before decoding.
type ResponseInterceptor func(*http.Response) error

// envelope is the wire shape of every backend response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	Code      string      `json:"code"`
	Category  string      `json:"category"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details"`
	Retryable bool        `json:"retryable"`
}

// ============================================================================
// Transport
// ============================================================================

// Transport is the concurrency-bounded, rate-limited, retrying HTTP client
// shared by every module. It owns the TokenPair credential: acquisition,
// refresh and replacement all happen here and nowhere else.
type Transport struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	retry      RetryConfig
	limits     LimitsConfig

	refreshThreshold time.Duration

	limiter  *rate.Limiter
	queue    chan struct{} // admission, capacity QueueSize
	inflight chan struct{} // in-flight cap, capacity MaxConcurrent

	tokenMu sync.RWMutex
	token   *TokenPair
	sf      singleflight.Group

	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor

	log zerolog.Logger
	now func() time.Time
}

// NewTransport builds a transport from config, applying defaults for any
// zero-valued knob.
func NewTransport(config *Config) *Transport {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := DefaultRetryConfig()
	if config.Retry != nil {
		retry = *config.Retry
	}
	limits := DefaultLimitsConfig()
	if config.Limits != nil {
		limits = *config.Limits
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = APIBaseURLFor(config.Environment)
	}
	threshold := config.TokenRefreshThreshold
	if threshold == 0 {
		threshold = time.Minute
	}

	return &Transport{
		baseURL:          baseURL,
		apiKey:           config.APIKey,
		apiSecret:        config.APISecret,
		httpClient:       &http.Client{Timeout: timeout},
		retry:            retry,
		limits:           limits,
		refreshThreshold: threshold,
		limiter:          rate.NewLimiter(rate.Limit(limits.MaxRequestsPerSecond), limits.MaxRequestsPerSecond),
		queue:            make(chan struct{}, limits.QueueSize),
		inflight:         make(chan struct{}, limits.MaxConcurrent),
		log:              zerolog.Nop(),
		now:              time.Now,
	}
}

// WithLogger sets the transport logger.
func (t *Transport) WithLogger(log zerolog.Logger) *Transport {
	t.log = log
	return t
}

// OnRequest appends a request interceptor.
func (t *Transport) OnRequest(fn RequestInterceptor) *Transport {
	t.reqInterceptors = append(t.reqInterceptors, fn)
	return t
}

// OnResponse appends a response interceptor.
func (t *Transport) OnResponse(fn ResponseInterceptor) *Transport {
	t.respInterceptors = append(t.respInterceptors, fn)
	return t
}

// Get performs a GET request and decodes the envelope data into result.
func (t *Transport) Get(ctx context.Context, path string, result interface{}) error {
	return t.Request(ctx, http.MethodGet, path, nil, result, nil)
}

// Post performs a POST request and decodes the envelope data into result.
func (t *Transport) Post(ctx context.Context, path string, body, result interface{}) error {
	return t.Request(ctx, http.MethodPost, path, body, result, nil)
}

// Put performs a PUT request and decodes the envelope data into result.
func (t *Transport) Put(ctx context.Context, path string, body, result interface{}) error {
	return t.Request(ctx, http.MethodPut, path, body, result, nil)
}

// Delete performs a DELETE request and decodes the envelope data into result.
func (t *Transport) Delete(ctx context.Context, path string, result interface{}) error {
	return t.Request(ctx, http.MethodDelete, path, nil, result, nil)
}

// Request schedules, rate-limits, authenticates, executes and retries one
// API call. result may be nil when the caller only cares about success.
func (t *Transport) Request(ctx context.Context, method, path string, body, result interface{}, opts *RequestOptions) error {
	if opts == nil {
		opts = &RequestOptions{}
	}

	// Admission: fail fast rather than queue unboundedly.
	select {
	case t.queue <- struct{}{}:
		apiQueueDepth.Inc()
	default:
		apiRequestsTotal.WithLabelValues(method, path, "queue_full").Inc()
		t.log.Warn().Str("method", method).Str("path", path).
			Int("queue_size", t.limits.QueueSize).Msg("request rejected, queue full")
		return NewQueueFullError(t.limits.QueueSize)
	}
	defer func() {
		<-t.queue
		apiQueueDepth.Dec()
	}()

	// In-flight cap.
	select {
	case t.inflight <- struct{}{}:
	case <-ctx.Done():
		return NewTimeoutError("Request cancelled while waiting for a slot")
	}
	defer func() { <-t.inflight }()

	if err := t.limiter.Wait(ctx); err != nil {
		return NewTimeoutError("Request cancelled while rate limited")
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
				"Failed to marshal request body")
		}
	}

	err := t.requestWithRetry(ctx, method, path, bodyBytes, result, opts)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	apiRequestsTotal.WithLabelValues(method, path, outcome).Inc()
	return err
}

func (t *Transport) requestWithRetry(ctx context.Context, method, path string, body []byte, result interface{}, opts *RequestOptions) error {
	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			apiRetriesTotal.Inc()
			delay := t.backoffDelay(attempt)
			if sdkErr, ok := lastErr.(*SDKError); ok && sdkErr.RetryAfter > 0 {
				delay = sdkErr.RetryAfter
			}
			t.log.Debug().Str("method", method).Str("path", path).
				Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
			select {
			case <-ctx.Done():
				return NewTimeoutError("Request cancelled during backoff")
			case <-time.After(delay):
			}
		}

		err := t.execute(ctx, method, path, body, result, opts)
		if err == nil {
			return nil
		}

		sdkErr, ok := err.(*SDKError)
		if !ok {
			return err
		}

		// One refresh-and-retry on an expired credential, then give up.
		if sdkErr.Code == ErrAuthTokenExpired && !opts.SkipAuth {
			if refreshed {
				return sdkErr
			}
			refreshed = true
			t.log.Debug().Str("method", method).Str("path", path).
				Msg("credential rejected, refreshing once")
			t.invalidateToken()
			if _, terr := t.ensureToken(ctx); terr != nil {
				return terr
			}
			attempt-- // the refreshed retry does not consume the backoff budget
			lastErr = nil
			continue
		}

		if !sdkErr.IsRetryable() {
			return sdkErr
		}
		lastErr = sdkErr
	}

	return lastErr
}

// execute performs a single HTTP exchange and classifies the outcome.
func (t *Transport) execute(ctx context.Context, method, path string, body []byte, result interface{}, opts *RequestOptions) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return NewNetworkError("Failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", t.apiKey)
	req.Header.Set("User-Agent", "protocolbanks-go/1.0.0")

	if !opts.SkipAuth {
		token, err := t.ensureToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	for _, fn := range t.reqInterceptors {
		if err := fn(req); err != nil {
			return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
				"Request interceptor rejected request: "+err.Error())
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return NewTimeoutError("Request cancelled")
		}
		return NewNetworkError("Request failed: " + err.Error())
	}
	defer resp.Body.Close()

	for _, fn := range t.respInterceptors {
		if err := fn(resp); err != nil {
			return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
				"Response interceptor rejected response: "+err.Error())
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError("Failed to read response body")
	}

	if resp.StatusCode >= 400 {
		return t.classifyError(resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
				"Failed to parse response envelope")
		}
		if !env.Success && env.Error != nil {
			return envelopeToError(env.Error)
		}
		data := env.Data
		if data == nil {
			// Some endpoints reply with the bare record rather than the
			// envelope; tolerate both.
			data = respBody
		}
		if err := json.Unmarshal(data, result); err != nil {
			return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
				"Failed to parse response data")
		}
	}
	return nil
}

// classifyError maps an HTTP failure to the taxonomy. The Retryable flag set
// here is what requestWithRetry branches on.
func (t *Transport) classifyError(resp *http.Response, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		sdkErr := envelopeToError(env.Error)
		if resp.StatusCode == http.StatusUnauthorized {
			// Envelope or not, a 401 means the credential is stale.
			sdkErr.Code = ErrAuthTokenExpired
			sdkErr.Category = ErrorCategoryAuth
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			sdkErr.RetryAfter = retryAfterDelay(resp)
			sdkErr.Retryable = true
		}
		return sdkErr
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return NewSDKError(ErrAuthTokenExpired, ErrorCategoryAuth, "Credential rejected")
	case resp.StatusCode == http.StatusForbidden:
		return NewSDKError(ErrAuthInsufficientPermissions, ErrorCategoryAuth,
			"Insufficient permissions")
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewRateLimitError(retryAfterDelay(resp))
	case resp.StatusCode >= 500:
		return NewSDKError(ErrNetServerError, ErrorCategoryNet,
			fmt.Sprintf("Server error (status %d)", resp.StatusCode)).WithRetryable(true)
	default:
		return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			fmt.Sprintf("Request failed with status %d", resp.StatusCode))
	}
}

func envelopeToError(e *envelopeError) *SDKError {
	category := ErrorCategory(e.Category)
	if category == "" {
		category = categoryFromCode(e.Code)
	}
	return &SDKError{
		Code:      e.Code,
		Category:  category,
		Message:   e.Message,
		Details:   e.Details,
		Retryable: e.Retryable,
	}
}

func retryAfterDelay(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func (t *Transport) backoffDelay(attempt int) time.Duration {
	delay := t.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * t.retry.BackoffMultiplier)
		if delay > t.retry.MaxDelay {
			return t.retry.MaxDelay
		}
	}
	if delay > t.retry.MaxDelay {
		return t.retry.MaxDelay
	}
	return delay
}

// ============================================================================
// Credential Lifecycle
// ============================================================================

// ensureToken returns a valid access token, acquiring or refreshing as
// needed. Concurrent callers needing a refresh coalesce into one in-flight
// exchange via singleflight.
func (t *Transport) ensureToken(ctx context.Context) (string, error) {
	t.tokenMu.RLock()
	if tok := t.token; tok != nil && t.now().Before(tok.ExpiresAt.Add(-t.refreshThreshold)) {
		access := tok.AccessToken
		t.tokenMu.RUnlock()
		return access, nil
	}
	t.tokenMu.RUnlock()

	v, err, _ := t.sf.Do("token", func() (interface{}, error) {
		// Re-check under the flight: the winner may have already swapped in
		// a fresh pair while we queued.
		t.tokenMu.RLock()
		current := t.token
		t.tokenMu.RUnlock()
		if current != nil && t.now().Before(current.ExpiresAt.Add(-t.refreshThreshold)) {
			return current.AccessToken, nil
		}

		pair, err := t.exchangeToken(ctx, current)
		if err != nil {
			tokenRefreshTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		tokenRefreshTotal.WithLabelValues("ok").Inc()
		t.log.Debug().Time("expires_at", pair.ExpiresAt).Msg("token pair replaced")

		t.tokenMu.Lock()
		t.token = pair // replaced wholesale, never mutated in place
		t.tokenMu.Unlock()
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// exchangeToken acquires a new pair, refreshing when a refresh token exists
// and falling back to a full acquisition if the refresh is rejected.
func (t *Transport) exchangeToken(ctx context.Context, current *TokenPair) (*TokenPair, error) {
	if current != nil && current.RefreshToken != "" {
		pair, err := t.tokenCall(ctx, "/auth/refresh", map[string]string{
			"refreshToken": current.RefreshToken,
		})
		if err == nil {
			return pair, nil
		}
		if IsRetryable(err) {
			return nil, err
		}
		// Refresh token rejected; fall through to a full acquisition.
	}
	return t.tokenCall(ctx, "/auth/token", map[string]string{
		"apiKey":    t.apiKey,
		"apiSecret": t.apiSecret,
	})
}

// tokenCall performs one credential exchange outside the normal scheduling
// path so a full queue can never deadlock authentication.
func (t *Transport) tokenCall(ctx context.Context, path string, body interface{}) (*TokenPair, error) {
	var pair TokenPair
	err := t.execute(ctx, http.MethodPost, path, mustMarshal(body), &pair, &RequestOptions{SkipAuth: true})
	if err != nil {
		if sdkErr, ok := err.(*SDKError); ok && sdkErr.Category == ErrorCategoryAuth {
			return nil, NewSDKError(ErrAuthInvalidAPIKey, ErrorCategoryAuth,
				"Credential exchange rejected")
		}
		return nil, err
	}
	if pair.AccessToken == "" {
		return nil, NewSDKError(ErrAuthTokenInvalid, ErrorCategoryAuth,
			"Credential exchange returned no access token")
	}
	if pair.ExpiresAt.IsZero() {
		pair.ExpiresAt = accessTokenExpiry(pair.AccessToken, t.now())
	}
	return &pair, nil
}

func (t *Transport) invalidateToken() {
	t.tokenMu.Lock()
	t.token = nil
	t.tokenMu.Unlock()
}

// accessTokenExpiry extracts the exp claim from a JWT access token without
// verifying it; the backend is the authority, we only need the deadline. A
// token we cannot read is assumed valid for five minutes.
func accessTokenExpiry(token string, now time.Time) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(5 * time.Minute)
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal token request: %v", err))
	}
	return data
}

// Close releases idle connections.
func (t *Transport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
