package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultUserAgent mimics a desktop browser; some public feeds reject
// library user agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

// Client fetches a GTFS-Realtime feed with conditional requests. It
// remembers the ETag and the time of the last response it saw.
type Client struct {
	url        string
	userAgent  string
	httpClient *http.Client
	clock      clockwork.Clock

	mu           sync.Mutex
	etag         string
	lastModified time.Time
}

type Option func(*Client)

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(url string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url:       url,
		userAgent: DefaultUserAgent,
		clock:     clockwork.NewRealClock(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is one fetched feed body. Body may be empty, for example on
// 304 Not Modified.
type Response struct {
	StatusCode int
	ETag       string
	Body       []byte
}

// Conditions are the validators sent with the next request.
type Conditions struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

func (c *Client) Conditions() Conditions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Conditions{ETag: c.etag, LastModified: c.lastModified}
}

// Fetch performs one conditional GET. Validators are updated from any
// response that arrives, whatever its status code.
func (c *Client) Fetch(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	cond := c.Conditions()
	if !cond.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", cond.LastModified.UTC().Format(http.TimeFormat))
	}
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	c.mu.Lock()
	c.etag = etag
	c.lastModified = c.clock.Now()
	c.mu.Unlock()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		ETag:       etag,
		Body:       body,
	}, nil
}
