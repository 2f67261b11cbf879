package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/storelink/catalog-console/internal/telemetry"
)

const (
	// DefaultRequestTimeout is the per-request deadline applied when the
	// caller's context carries none.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRetries is the maximum number of attempts per request.
	DefaultRetries = 3

	// DefaultBackoffBase is the initial retry backoff interval.
	DefaultBackoffBase = 500 * time.Millisecond

	// MaxResponseSize is the maximum allowed response size (100MB).
	MaxResponseSize = 100 * 1024 * 1024

	// maxErrorBodySize bounds the response body carried inside an HTTP error.
	maxErrorBodySize = 2048

	// UserAgent is the user agent string for upstream requests.
	UserAgent = "catalog-console/1.0"
)

// retryableStatuses are the response codes retried for idempotent methods.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:     {},
	http.StatusTooManyRequests:    {},
	http.StatusBadGateway:         {},
	http.StatusServiceUnavailable: {},
	http.StatusGatewayTimeout:     {},
}

// Client is the request/response plane toward one upstream JSON API.
type Client interface {
	// Get performs a GET request. Successful responses are cached and
	// concurrent identical requests are coalesced into one upstream call.
	Get(ctx context.Context, path string, params url.Values, opts ...RequestOption) ([]byte, error)

	// Post performs a POST request with a JSON body.
	Post(ctx context.Context, path string, body any) ([]byte, error)

	// Put performs a PUT request with a JSON body.
	Put(ctx context.Context, path string, body any) ([]byte, error)

	// Patch performs a PATCH request with a JSON body.
	Patch(ctx context.Context, path string, body any) ([]byte, error)

	// Delete performs a DELETE request.
	Delete(ctx context.Context, path string) ([]byte, error)

	// Paginate translates a Query into the upstream's search criteria
	// encoding and returns the normalized envelope.
	Paginate(ctx context.Context, path string, q Query, opts ...RequestOption) (*Envelope, error)

	// Upload streams a file as a multipart POST, reporting written bytes
	// through onProgress when non-nil.
	Upload(ctx context.Context, path, filename string, r io.Reader, onProgress func(written int64)) (*UploadResult, error)

	// SetToken installs the bearer token used for subsequent requests.
	SetToken(token string)

	// ClearToken removes the bearer token.
	ClearToken()

	// Invalidate drops every cached response whose path starts with prefix.
	Invalidate(prefix string)
}

// RequestOption adjusts a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	noCache bool
	ttl     time.Duration
}

// WithoutCache bypasses the response cache for this request. The fresh
// response still replaces any cached entry.
func WithoutCache() RequestOption {
	return func(rc *requestConfig) { rc.noCache = true }
}

// WithTTL overrides the cache TTL for this request.
func WithTTL(ttl time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.ttl = ttl }
}

// Option configures a DefaultClient.
type Option func(*DefaultClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *DefaultClient) { c.httpClient = hc }
}

// WithRetries sets the maximum number of attempts per request.
func WithRetries(n int) Option {
	return func(c *DefaultClient) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithBackoffBase sets the initial retry backoff interval.
func WithBackoffBase(d time.Duration) Option {
	return func(c *DefaultClient) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

// WithRequestTimeout sets the default per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *DefaultClient) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithCacheSize bounds the response cache entry count.
func WithCacheSize(n int) Option {
	return func(c *DefaultClient) { c.cacheSize = n }
}

// WithCacheTTL sets the TTL applied to cached responses whose path starts
// with prefix. An empty prefix sets the default TTL.
func WithCacheTTL(prefix string, ttl time.Duration) Option {
	return func(c *DefaultClient) {
		if prefix == "" {
			c.defaultTTL = ttl
			return
		}
		c.ttlByPrefix[prefix] = ttl
	}
}

// WithBreaker tunes the per-target circuit breaker.
func WithBreaker(threshold int, openFor time.Duration) Option {
	return func(c *DefaultClient) {
		c.breakerThreshold = threshold
		c.breakerOpenFor = openFor
	}
}

// WithToken installs the initial bearer token.
func WithToken(token string) Option {
	return func(c *DefaultClient) { c.token = token }
}

// WithMetrics attaches client metrics. A nil value disables them.
func WithMetrics(m *telemetry.ClientMetrics) Option {
	return func(c *DefaultClient) { c.metrics = m }
}

// DefaultClient is the default Client implementation.
type DefaultClient struct {
	httpClient *http.Client
	baseURL    string

	tokenMu sync.RWMutex
	token   string

	cache  *responseCache
	flight singleflight.Group

	breakersMu sync.Mutex
	breakers   map[string]*circuit

	retries          int
	backoffBase      time.Duration
	requestTimeout   time.Duration
	cacheSize        int
	defaultTTL       time.Duration
	ttlByPrefix      map[string]time.Duration
	breakerThreshold int
	breakerOpenFor   time.Duration

	metrics *telemetry.ClientMetrics
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) (*DefaultClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	c := &DefaultClient{
		httpClient:       &http.Client{},
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		breakers:         make(map[string]*circuit),
		retries:          DefaultRetries,
		backoffBase:      DefaultBackoffBase,
		requestTimeout:   DefaultRequestTimeout,
		cacheSize:        defaultCacheSize,
		defaultTTL:       defaultCacheTTL,
		ttlByPrefix:      make(map[string]time.Duration),
		breakerThreshold: defaultFailureThreshold,
		breakerOpenFor:   defaultOpenDuration,
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := newResponseCache(c.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	c.cache = cache

	return c, nil
}

// Get performs a GET request with caching and coalescing.
func (c *DefaultClient) Get(ctx context.Context, path string, params url.Values, opts ...RequestOption) ([]byte, error) {
	rc := &requestConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	if rc.noCache {
		data, err := c.roundTrip(ctx, http.MethodGet, path, params, nil)
		if err != nil {
			return nil, err
		}
		c.cache.put(cacheKey(http.MethodGet, path, params, c.currentToken()), data, c.ttlFor(path, rc))
		return data, nil
	}

	key := cacheKey(http.MethodGet, path, params, c.currentToken())
	if data, ok := c.cache.get(key); ok {
		c.metrics.RecordCacheHit(ctx, path)
		return data, nil
	}
	c.metrics.RecordCacheMiss(ctx, path)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A concurrent caller may have populated the cache while this call
		// waited for the flight slot.
		if data, ok := c.cache.get(key); ok {
			return data, nil
		}
		data, err := c.roundTrip(ctx, http.MethodGet, path, params, nil)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, data, c.ttlFor(path, rc))
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// Post performs a POST request with a JSON body.
func (c *DefaultClient) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodPost, path, nil, body)
}

// Put performs a PUT request with a JSON body.
func (c *DefaultClient) Put(ctx context.Context, path string, body any) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodPut, path, nil, body)
}

// Patch performs a PATCH request with a JSON body.
func (c *DefaultClient) Patch(ctx context.Context, path string, body any) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodPatch, path, nil, body)
}

// Delete performs a DELETE request.
func (c *DefaultClient) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.roundTrip(ctx, http.MethodDelete, path, nil, nil)
}

// Paginate requests one page of a tabular resource.
func (c *DefaultClient) Paginate(ctx context.Context, path string, q Query, opts ...RequestOption) (*Envelope, error) {
	params, err := EncodeQuery(q)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	data, err := c.Get(ctx, path, params, opts...)
	if err != nil {
		return nil, err
	}

	env, err := NormalizeEnvelope(data)
	if err != nil {
		return nil, &Error{Kind: ErrorKindDecode, Method: http.MethodGet, Path: path, Err: err}
	}
	return env, nil
}

// progressReader reports cumulative bytes read through a callback.
type progressReader struct {
	r       io.Reader
	written int64
	fn      func(int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.written += int64(n)
		if p.fn != nil {
			p.fn(p.written)
		}
	}
	return n, err
}

// Upload streams a multipart POST of the reader's contents.
func (c *DefaultClient) Upload(ctx context.Context, path, filename string, r io.Reader, onProgress func(written int64)) (*UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	progress := &progressReader{r: r, fn: onProgress}

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, progress); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Method: http.MethodPost, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, http.MethodPost, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readLimitedBody(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Method: http.MethodPost, Path: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: ErrorKindHTTP, Method: http.MethodPost, Path: path, Status: resp.StatusCode, Body: truncate(string(body))}
	}

	return &UploadResult{Size: progress.written, Body: body}, nil
}

// SetToken installs the bearer token used for subsequent requests.
func (c *DefaultClient) SetToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

// ClearToken removes the bearer token.
func (c *DefaultClient) ClearToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = ""
}

// Invalidate drops every cached response whose path starts with prefix.
func (c *DefaultClient) Invalidate(prefix string) {
	c.cache.invalidate(prefix)
}

// CacheLen returns the number of live cache entries.
func (c *DefaultClient) CacheLen() int {
	return c.cache.len()
}

// BreakerState reports the circuit state of the given target host, for
// observability. An unknown target is closed.
func (c *DefaultClient) BreakerState(target string) CircuitState {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if br, ok := c.breakers[target]; ok {
		return br.currentState()
	}
	return CircuitClosed
}

func (c *DefaultClient) currentToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *DefaultClient) ttlFor(path string, rc *requestConfig) time.Duration {
	if rc != nil && rc.ttl > 0 {
		return rc.ttl
	}
	best := ""
	ttl := c.defaultTTL
	for prefix, d := range c.ttlByPrefix {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best = prefix
			ttl = d
		}
	}
	return ttl
}

func (c *DefaultClient) breaker(target string) *circuit {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	br, ok := c.breakers[target]
	if !ok {
		br = newCircuit(c.breakerThreshold, c.breakerOpenFor)
		c.breakers[target] = br
	}
	return br
}

func (c *DefaultClient) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// roundTrip executes one logical request with retries and circuit breaking.
func (c *DefaultClient) roundTrip(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	resolved, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Method: method, Path: path, Err: err}
	}
	if len(params) > 0 {
		resolved.RawQuery = params.Encode()
	}
	br := c.breaker(resolved.Host)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: ErrorKindDecode, Method: method, Path: path, Err: err}
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	attempt := func() ([]byte, error) {
		if !br.allow() {
			return nil, backoff.Permanent(&Error{
				Kind:   ErrorKindCircuitOpen,
				Method: method,
				Path:   path,
				Err:    fmt.Errorf("circuit open for %s", resolved.Host),
			})
		}
		return c.once(ctx, br, method, path, resolved, payload)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2

	data, err := backoff.Retry(ctx, attempt, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.retries)))
	c.metrics.RecordRequest(ctx, method, path, string(KindOf(err)), time.Since(start))
	c.metrics.RecordBreakerState(ctx, resolved.Host, br.currentState().GaugeValue())
	if err != nil {
		slog.Debug("Upstream request failed",
			"method", method,
			"path", path,
			"kind", string(KindOf(err)),
			"error", err)
		return nil, err
	}
	return data, nil
}

// once performs a single attempt. Retry semantics: network errors and
// {408, 429, 502, 503, 504} are retryable for idempotent methods;
// non-idempotent methods (POST, PATCH) retry only on an explicit 429/503
// carrying Retry-After; other 4xx are terminal.
func (c *DefaultClient) once(
	ctx context.Context,
	br *circuit,
	method, path string,
	resolved *url.URL,
	payload []byte,
) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), reqBody)
	if err != nil {
		return nil, backoff.Permanent(&Error{Kind: ErrorKindNetwork, Method: method, Path: path, Err: err})
	}
	c.setCommonHeaders(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := c.transportError(ctx, method, path, err)
		if KindOf(terr) == ErrorKindCanceled {
			return nil, backoff.Permanent(terr)
		}
		br.recordFailure()
		if !idempotent(method) {
			return nil, backoff.Permanent(terr)
		}
		return nil, terr
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := readLimitedBody(resp.Body)
	if err != nil {
		br.recordFailure()
		return nil, &Error{Kind: ErrorKindNetwork, Method: method, Path: path, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		br.recordSuccess()
		return respBody, nil
	}

	httpErr := &Error{
		Kind:   ErrorKindHTTP,
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
		Body:   truncate(string(respBody)),
	}

	_, retryableStatus := retryableStatuses[resp.StatusCode]
	if retryableStatus || resp.StatusCode >= 500 {
		br.recordFailure()
	} else {
		// The target answered; a client error does not mean it is down.
		br.recordSuccess()
	}

	if !retryableStatus {
		return nil, backoff.Permanent(httpErr)
	}

	if !idempotent(method) {
		// POST and PATCH are replayed only when the server explicitly asks.
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter > 0 && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
			return nil, backoff.RetryAfter(retryAfter)
		}
		return nil, backoff.Permanent(httpErr)
	}

	if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
		return nil, backoff.RetryAfter(retryAfter)
	}
	return nil, httpErr
}

func (c *DefaultClient) transportError(ctx context.Context, method, path string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: ErrorKindTimeout, Method: method, Path: path, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: ErrorKindCanceled, Method: method, Path: path, Err: err}
	default:
		return &Error{Kind: ErrorKindNetwork, Method: method, Path: path, Err: err}
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return seconds
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return int(d.Seconds()) + 1
		}
	}
	return 0
}

func readLimitedBody(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, MaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func truncate(s string) string {
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize]
	}
	return s
}
