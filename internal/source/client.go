// Package source fetches camera frames over HTTP.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/sample"
)

const (
	// DefaultTimeout bounds a single fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxBodyBytes caps the size of a frame.
	DefaultMaxBodyBytes = 32 << 20

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "indoorsun/" + entry.SoftwareVersion
)

// ErrBodyTooLarge is returned when a frame exceeds the configured size cap.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch frame from %s: HTTP %d", e.URL, e.StatusCode)
}

// Config configures a Client.
type Config struct {
	Timeout            time.Duration
	MaxBodyBytes       int64
	UserAgent          string
	RateLimitRPS       float64 // Per-host request rate, 0 = unlimited
	InsecureSkipVerify bool    // Accept self-signed NVR certificates
}

// Client fetches frames. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.Timeout,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 - opt-in for self-signed NVRs
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Fetch downloads the body at rawURL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "image/*")

	log.Debug().Str("url", rawURL).Msg("Fetching frame")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}

	log.Debug().Str("url", rawURL).Int("bytes", len(data)).Msg("Fetched frame")
	return data, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		if c.cfg.RateLimitRPS > 0 {
			burst := int(c.cfg.RateLimitRPS)
			if burst < 1 {
				burst = 1
			}
			l = rate.NewLimiter(rate.Limit(c.cfg.RateLimitRPS), burst)
		} else {
			l = rate.NewLimiter(rate.Inf, 1)
		}
		c.limiters[host] = l
	}
	return l
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	URL    string
	Data   []byte
	Format string
	Size   image.Point

	// ErrorKey is empty on success, otherwise one of entry.ErrConnectionFailed,
	// entry.ErrConnectionError or entry.ErrInvalidImageFormat.
	ErrorKey string
	Err      error
}

// OK reports whether the test fetched a decodable image.
func (r TestResult) OK() bool {
	return r.ErrorKey == ""
}

// Test fetches rawURL once and checks that the body is an image.
func (c *Client) Test(ctx context.Context, rawURL string) TestResult {
	res := TestResult{URL: rawURL}

	data, err := c.Fetch(ctx, rawURL)
	if err != nil {
		res.Err = err
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			res.ErrorKey = entry.ErrConnectionFailed
		} else {
			res.ErrorKey = entry.ErrConnectionError
		}
		log.Warn().Err(err).Str("url", rawURL).Str("error", res.ErrorKey).Msg("Connection test failed")
		return res
	}

	format, size, err := sample.Probe(data)
	if err != nil {
		res.Err = err
		res.ErrorKey = entry.ErrInvalidImageFormat
		log.Warn().Err(err).Str("url", rawURL).Msg("Connection test returned a non-image body")
		return res
	}

	res.Data = data
	res.Format = format
	res.Size = size
	log.Info().Str("url", rawURL).Str("format", format).Str("size", size.String()).Msg("Connection test succeeded")
	return res
}
