package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
)

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

// Options controls a single fetch or probe.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// Result is created fresh per fetch and never shared across requests.
type Result struct {
	Status   int
	Header   http.Header
	Body     string
	FinalURL string
}

// HeaderValue returns a response header, matched case-insensitively
func (r *Result) HeaderValue(name string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// Fetcher retrieves pages and probes link liveness.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Result, error)
	Probe(ctx context.Context, url string, opts Options) (int, error)
}

// Client implements Fetcher over a shared transport. There are no retries;
// callers degrade on failure.
type Client struct {
	transport http.RoundTripper
}

// NewClient returns a Client. When guardPrivate is set, connections to
// private and reserved networks are refused at dial time.
func NewClient(guardPrivate bool) *Client {
	return NewClientWithTransport(&http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         newDialer(guardPrivate).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
}

// NewClientWithTransport returns a Client using the given round tripper.
func NewClientWithTransport(transport http.RoundTripper) *Client {
	return &Client{transport: transport}
}

func (c *Client) httpClient(opts Options) *http.Client {
	maxRedirects := opts.MaxRedirects
	return &http.Client{
		Transport: c.transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: %s", errBlockedRedirect, req.URL.Scheme)
			}
			return nil
		},
	}
}

func newRequest(ctx context.Context, method, rawURL string, opts Options) (*http.Request, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	return req, nil
}

// Fetch performs a GET and returns the decoded body. A status of 400 or
// above returns both the Result and an *Error of KindHTTPError.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	req, err := newRequest(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return nil, Classify(rawURL, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.httpClient(opts).Do(req)
	if err != nil {
		return nil, Classify(rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp)
	if err != nil {
		return nil, Classify(rawURL, err)
	}

	result := &Result{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		FinalURL: resp.Request.URL.String(),
	}
	if resp.StatusCode >= 400 {
		return result, &Error{Kind: KindHTTPError, URL: rawURL, Status: resp.StatusCode}
	}
	return result, nil
}

func readBody(resp *http.Response) (string, error) {
	limited := io.LimitReader(resp.Body, maxBody)
	reader, err := charset.NewReader(limited, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = limited
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Probe issues a HEAD request and returns the final status code. Servers
// that reject HEAD with 405 or 501 are retried once with GET. Any HTTP
// response is returned without error; only transport failures error.
func (c *Client) Probe(ctx context.Context, rawURL string, opts Options) (int, error) {
	status, err := c.probe(ctx, http.MethodHead, rawURL, opts)
	if err != nil {
		return 0, err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		return c.probe(ctx, http.MethodGet, rawURL, opts)
	}
	return status, nil
}

func (c *Client) probe(ctx context.Context, method, rawURL string, opts Options) (int, error) {
	req, err := newRequest(ctx, method, rawURL, opts)
	if err != nil {
		return 0, Classify(rawURL, err)
	}
	resp, err := c.httpClient(opts).Do(req)
	if err != nil {
		return 0, Classify(rawURL, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
