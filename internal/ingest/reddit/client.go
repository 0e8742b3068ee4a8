// Package reddit talks to the Reddit OAuth API: it reads the watched
// account's comments and publishes link posts, replies and NSFW marks on the
// destination subreddit.
//
// Reads go through a retrying client because they have no side effects.
// Writes are sent exactly once; deciding whether to repeat a write is left to
// the caller's retry controller, which knows whether the post might already
// exist.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/platform/observability"
)

const (
	DefaultAPIBaseURL = "https://oauth.reddit.com"
	DefaultTokenURL   = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent  = "linux:edit-relay:v1.0"

	webBaseURL       = "https://www.reddit.com"
	defaultTimeout   = 30 * time.Second
	defaultRPM       = 60
	secondsPerMinute = 60
	maxResponseBytes = 4 << 20
	maxListingPage   = 100

	defaultReadRetryMax  = 3
	defaultReadRetryWait = time.Second
	readRetryWaitMax     = 10 * time.Second
)

// Endpoint labels for metrics and errors.
const (
	endpointUserComments = "user_comments"
	endpointInfo         = "info"
	endpointSubmit       = "submit"
	endpointComment      = "comment"
	endpointMarkNSFW     = "marknsfw"
	endpointNew          = "subreddit_new"
)

var errMissingCredentials = errors.New("reddit credentials incomplete")

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	BaseURL  string
	TokenURL string

	// Destination is the subreddit posts are published to, without "r/".
	Destination string

	RequestsPerMin int
	Timeout        time.Duration

	ReadRetryMax  int
	ReadRetryWait time.Duration

	// Transport overrides the pooled transport; used by tests.
	Transport http.RoundTripper
}

// Client is a Reddit API client for one script-app account.
type Client struct {
	cfg     Config
	reads   *retryablehttp.Client
	writes  *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// New creates a Client. The first token is fetched lazily on the first call.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, errMissingCredentials)
	}

	cfg = withDefaults(cfg)

	base := cfg.Transport
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}

	ua := &userAgentTransport{userAgent: cfg.UserAgent, base: base}
	authed := &oauth2.Transport{Source: newTokenSource(ctx, cfg, ua), Base: ua}

	reads := retryablehttp.NewClient()
	reads.HTTPClient = &http.Client{Transport: authed, Timeout: cfg.Timeout}
	reads.RetryMax = cfg.ReadRetryMax
	reads.RetryWaitMin = cfg.ReadRetryWait
	reads.RetryWaitMax = max(cfg.ReadRetryWait, readRetryWaitMax)
	reads.Logger = retryablehttp.LeveledLogger(leveledZerolog{logger: logger})
	reads.CheckRetry = readRetryPolicy
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rps := float64(cfg.RequestsPerMin) / secondsPerMinute

	return &Client{
		cfg:     cfg,
		reads:   reads,
		writes:  &http.Client{Transport: authed, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = defaultRPM
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.ReadRetryMax < 0 {
		cfg.ReadRetryMax = 0
	} else if cfg.ReadRetryMax == 0 {
		cfg.ReadRetryMax = defaultReadRetryMax
	}

	if cfg.ReadRetryWait <= 0 {
		cfg.ReadRetryWait = defaultReadRetryWait
	}

	cfg.Destination = strings.TrimPrefix(strings.TrimPrefix(cfg.Destination, "/"), "r/")

	return cfg
}

// readRetryPolicy retries reads on connection errors and 5xx, but leaves 429
// to the caller so the retry controller applies its own rate-limit budget.
func readRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("reddit %s: rate limiter: %w", endpoint, err)
	}

	query.Set("raw_json", "1")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("reddit %s: create request: %w", endpoint, err)
	}

	start := time.Now()
	resp, err := c.reads.Do(req)

	observability.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.APIRequests.WithLabelValues(endpoint, "error").Inc()

		if ctx.Err() != nil {
			return nil, fmt.Errorf("reddit %s: %w", endpoint, ctx.Err())
		}

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("reddit %s: %w", endpoint, authError(err))
		}

		// a read has no side effect, so a lost request is simply unavailable
		return nil, fmt.Errorf("reddit %s: %w: %w", endpoint, apperrors.ErrServerUnavailable, err)
	}

	return c.readResponse(endpoint, resp, false)
}

func (c *Client) post(ctx context.Context, endpoint, path string, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("reddit %s: rate limiter: %w", endpoint, err)
	}

	var sent atomic.Bool

	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { sent.Store(true) },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost,
		c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("reddit %s: create request: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.writes.Do(req)

	observability.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, writeError(ctx, endpoint, err, sent.Load())
	}

	return c.readResponse(endpoint, resp, true)
}

// writeError classifies a write that produced no response. Once the request
// was on the wire the platform may have acted on it.
func writeError(ctx context.Context, endpoint string, err error, sent bool) error {
	if ctx.Err() != nil {
		return fmt.Errorf("reddit %s: %w", endpoint, ctx.Err())
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("reddit %s: %w", endpoint, authError(err))
	}

	if sent {
		return fmt.Errorf("reddit %s: %w: %w", endpoint, apperrors.ErrTransport, err)
	}

	return fmt.Errorf("reddit %s: request not sent: %w: %w", endpoint, apperrors.ErrServerUnavailable, err)
}

// authError maps a token endpoint failure: a 5xx from the token endpoint is
// transient, any other rejection (bad credentials) is not.
func authError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return err
	}

	if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("token: %w: %w", apperrors.ErrServerUnavailable, err)
	}

	return fmt.Errorf("token: %w: %w", apperrors.ErrUnexpectedStatus, err)
}

func (c *Client) readResponse(endpoint string, resp *http.Response, write bool) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	observability.APIRequests.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if write {
			return nil, fmt.Errorf("reddit %s: read response: %w: %w", endpoint, apperrors.ErrTransport, err)
		}

		return nil, fmt.Errorf("reddit %s: read response: %w: %w", endpoint, apperrors.ErrServerUnavailable, err)
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		c.logger.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("reddit request failed")
		return nil, fmt.Errorf("reddit %s: %w", endpoint, err)
	}

	if err := checkAPIErrors(body); err != nil {
		return nil, fmt.Errorf("reddit %s: %w", endpoint, err)
	}

	return body, nil
}

func checkStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case code == http.StatusServiceUnavailable:
		return fmt.Errorf("status %d: %w: %w", code, apperrors.ErrServerUnavailable, apperrors.ErrOverloaded)
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("status %d: %w", code, apperrors.ErrServerUnavailable)
	default:
		return fmt.Errorf("%w: %d", apperrors.ErrUnexpectedStatus, code)
	}
}

// checkAPIErrors inspects the api_type=json error list, e.g.
// {"json":{"errors":[["RATELIMIT","you are doing that too much","ratelimit"]]}}.
func checkAPIErrors(body []byte) error {
	errs := gjson.GetBytes(body, "json.errors")
	if !errs.IsArray() || len(errs.Array()) == 0 {
		return nil
	}

	var (
		codes     []string
		rateLimit bool
	)

	errs.ForEach(func(_, e gjson.Result) bool {
		code := e.Get("0").String()
		if code == "RATELIMIT" {
			rateLimit = true
		}

		codes = append(codes, code+": "+e.Get("1").String())

		return true
	})

	if rateLimit {
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimited, strings.Join(codes, "; "))
	}

	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(codes, "; "))
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// leveledZerolog adapts zerolog to retryablehttp. Intermediate failures are
// logged at warn level since they are retried.
type leveledZerolog struct {
	logger *zerolog.Logger
}

func (l leveledZerolog) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}
