// Package session implements the single shared HTTP client described in
// §4.1: a sized connection pool, default headers, idempotent-method retry
// with exponential backoff honoring Retry-After, and an explicit idempotent
// close. The transport construction is lifted directly from the teacher's
// NewEngine (internal/engine/manager.go) — dialer timeout, keep-alive,
// idle-connection pool sizing — generalized from a hardcoded download-only
// client into a reusable component with its own retry/close contract.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSessionClosed is returned by every method once Close has completed.
var ErrSessionClosed = errors.New("session: closed")

var retryableStatus = map[int]struct{}{
	429: {}, 500: {}, 502: {}, 503: {}, 504: {},
}

var idempotentMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodHead: {}, http.MethodOptions: {},
}

// Config configures a Session.
type Config struct {
	DefaultTimeout time.Duration // default 30s
	MaxRetries     int           // default 5
	UserAgent      string
	InsecureSkipVerify bool // default false; set true only with a concrete reason
	Logger         *slog.Logger
}

// Session is the process-wide shared HTTP client. All methods are safe for
// concurrent use.
type Session struct {
	client  *http.Client
	cfg     Config
	logger  *slog.Logger
	closed  atomic.Bool
	headers sync.Map // string -> string, merged into every request
}

// New constructs a Session with a connection pool sized for ~20
// persistent connections and a hard cap of 50, matching §4.1.
func New(cfg Config) *Session {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		cfg.Logger.Warn("session: TLS verification disabled")
		transport.TLSClientConfig = insecureTLSConfig()
	}

	return &Session{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// UpdateHeaders merges the given headers into every subsequent request.
func (s *Session) UpdateHeaders(headers map[string]string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	for k, v := range headers {
		s.headers.Store(k, v)
	}
	return nil
}

// SetProxy reconfigures the transport to route http:// requests through
// httpProxyURL and https:// requests through httpsProxyURL. An empty
// string for either leaves that scheme unproxied.
func (s *Session) SetProxy(httpProxyURL, httpsProxyURL string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	transport, ok := s.client.Transport.(*http.Transport)
	if !ok {
		return fmt.Errorf("session: unexpected transport type")
	}

	var httpProxy, httpsProxy *url.URL
	var err error
	if httpProxyURL != "" {
		if httpProxy, err = url.Parse(httpProxyURL); err != nil {
			return fmt.Errorf("session: parse http proxy: %w", err)
		}
	}
	if httpsProxyURL != "" {
		if httpsProxy, err = url.Parse(httpsProxyURL); err != nil {
			return fmt.Errorf("session: parse https proxy: %w", err)
		}
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		switch req.URL.Scheme {
		case "https":
			return httpsProxy, nil
		default:
			return httpProxy, nil
		}
	}
	return nil
}

// Close is idempotent; after Close returns, every method fails with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.closed.Store(true)
	s.client.CloseIdleConnections()
	return nil
}

// Get issues a GET request with the given query parameters and headers.
func (s *Session) Get(ctx context.Context, url string, params, headers map[string]string, timeout time.Duration) (*http.Response, error) {
	return s.Request(ctx, http.MethodGet, url, nil, params, headers, timeout)
}

// Head issues a HEAD request.
func (s *Session) Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*http.Response, error) {
	return s.Request(ctx, http.MethodHead, url, nil, nil, headers, timeout)
}

// Request issues method against url with an optional body, query
// parameters, and headers, honoring the session's retry policy for
// idempotent methods. timeout of 0 uses the session default.
func (s *Session) Request(ctx context.Context, method, rawURL string, body []byte, params, headers map[string]string, timeout time.Duration) (*http.Response, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	_, retryable := idempotentMethods[method]
	maxAttempts := 1
	if retryable {
		maxAttempts = s.cfg.MaxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := s.doOnce(reqCtx, method, rawURL, body, params, headers)
		if err != nil {
			cancel()
			lastErr = err
			if !retryable {
				return nil, err
			}
			continue
		}

		if retryable {
			if _, retry := retryableStatus[resp.StatusCode]; retry && attempt < maxAttempts-1 {
				retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
				resp.Body.Close()
				cancel()
				if retryAfter > 0 {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(retryAfter):
					}
				}
				lastErr = fmt.Errorf("session: retryable status %d", resp.StatusCode)
				continue
			}
		}

		// Caller owns resp.Body and must Close it; wrap it so cancel runs
		// exactly then instead of waiting for the timeout to expire on
		// its own.
		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return nil, lastErr
}

// cancelOnCloseBody ties a context.CancelFunc to a response body's
// lifetime: the context built for this request is cancelled the moment
// the caller closes the body, instead of lingering until its timeout
// fires on its own.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (s *Session) doOnce(ctx context.Context, method, rawURL string, body []byte, params, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, err
	}

	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")

	s.headers.Range(func(k, v any) bool {
		req.Header.Set(k.(string), v.(string))
		return true
	})
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	return s.client.Do(req)
}

// insecureTLSConfig is only reached when a caller explicitly disables
// certificate verification (e.g. talking to a self-hosted mirror during
// local testing); New logs a warning whenever this path is taken.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

func backoffDelay(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt-1))
	d := time.Duration(base) * 500 * time.Millisecond
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
