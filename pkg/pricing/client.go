package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubham-shewale/market-feed/pkg/models"
)

const (
	maxBodySize    = 2 << 20
	defaultTimeout = 2 * time.Second
	maxBackoff     = time.Second
)

var (
	ErrNoPrice           = errors.New("pricing: no usable price")
	ErrUnrecognizedShape = errors.New("pricing: unrecognized payload shape")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Path, e.Code)
}

// Options configures the upstream client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration // per attempt
	MaxRetries    int
	RatePerSecond float64 // <= 0 means unlimited
	Burst         int
	HTTPClient    *http.Client
}

// Budget is the longest a call can take with every retry used: one timeout
// per attempt plus the widest jittered wait between attempts. Callers that
// put a deadline on a call need at least this much for the retries to run.
func (o Options) Budget() time.Duration {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := time.Duration(max(o.MaxRetries, 0))
	// backoff randomizes each wait by up to half its interval
	return timeout*(retries+1) + retries*maxBackoff*3/2
}

// Client talks to the external book / price / price-history API. Every call
// is rate limited, bounded by a per-attempt timeout and retried with jittered
// exponential backoff.
type Client struct {
	base       string
	http       *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	return &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		http:       opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// Book fetches and shape-normalizes the order book for a token.
func (c *Client) Book(ctx context.Context, tokenID string) (RawBook, error) {
	body, err := c.get(ctx, "/book", url.Values{"token_id": {tokenID}})
	if err != nil {
		return RawBook{}, err
	}
	return ParseBook(body)
}

// Price fetches the current buy-side price for a token.
func (c *Client) Price(ctx context.Context, tokenID string) (float64, error) {
	body, err := c.get(ctx, "/price", url.Values{"token_id": {tokenID}, "side": {"buy"}})
	if err != nil {
		return 0, err
	}
	return parsePrice(body)
}

// History fetches the full price history for a token.
func (c *Client) History(ctx context.Context, tokenID string) ([]HistoryPoint, error) {
	body, err := c.get(ctx, "/prices-history", url.Values{"market": {tokenID}, "interval": {"max"}})
	if err != nil {
		return nil, err
	}
	return ParseHistory(body)
}

// LatestPrice tries the price endpoint and falls back to the newest valid
// point of the history endpoint.
func (c *Client) LatestPrice(ctx context.Context, tokenID string) (float64, error) {
	price, err := c.Price(ctx, tokenID)
	if err == nil {
		return price, nil
	}
	c.logger.Debug("price endpoint unusable, trying history", zap.String("token", tokenID), zap.Error(err))

	points, herr := c.History(ctx, tokenID)
	if herr != nil {
		return 0, fmt.Errorf("%w for %s: %v; history: %v", ErrNoPrice, tokenID, err, herr)
	}
	for i := len(points) - 1; i >= 0; i-- {
		if models.ValidPrice(points[i].Price) {
			return points[i].Price, nil
		}
	}
	return 0, fmt.Errorf("%w for %s: empty history", ErrNoPrice, tokenID)
}

// parsePrice accepts {"price": "0.5"}, {"price": 0.5} or a bare value.
func parsePrice(body []byte) (float64, error) {
	var wrap struct {
		Price *Numeric `json:"price"`
	}
	if err := json.Unmarshal(body, &wrap); err == nil && wrap.Price != nil {
		if p, ok := wrap.Price.Float(); ok && models.ValidPrice(p) {
			return p, nil
		}
		return 0, ErrNoPrice
	}
	if p, ok := decodeValue(body).Float(); ok && models.ValidPrice(p) {
		return p, nil
	}
	return 0, ErrNoPrice
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.base + path + "?" + query.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0 // bounded by MaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
	return backoff.RetryWithData(func() ([]byte, error) {
		return c.attempt(ctx, path, endpoint)
	}, policy)
}

func (c *Client) attempt(ctx context.Context, path, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		serr := &StatusError{Code: resp.StatusCode, Path: path}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}
