// Package providers holds the clients for third-party scoring and content
// services. Every call may fail or time out; callers substitute the
// fallbacks defined here.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// ErrNotConfigured is returned when a provider has no API key.
var ErrNotConfigured = errors.New("provider not configured")

// DefaultPageSpeedEndpoint is the PageSpeed Insights v5 API.
const DefaultPageSpeedEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Speed is a page-speed measurement
type Speed struct {
	Score    int    `json:"score"`
	LoadTime string `json:"loadTime"`
}

// FallbackSpeed is used whenever the page-speed capability fails.
var FallbackSpeed = Speed{Score: 50, LoadTime: "Unknown"}

// SpeedProvider scores a URL for the given strategy (mobile or desktop).
type SpeedProvider interface {
	Speed(ctx context.Context, target, strategy string) (Speed, error)
}

// PageSpeed calls the PageSpeed Insights API.
type PageSpeed struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewPageSpeed returns a client. An empty endpoint selects the public API.
func NewPageSpeed(apiKey, endpoint string, timeout time.Duration) *PageSpeed {
	if endpoint == "" {
		endpoint = DefaultPageSpeedEndpoint
	}
	return &PageSpeed{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Speed returns the Lighthouse performance score scaled to 0-100 and the
// human-readable speed index.
func (p *PageSpeed) Speed(ctx context.Context, target, strategy string) (Speed, error) {
	if p.apiKey == "" {
		return Speed{}, ErrNotConfigured
	}
	if strategy == "" {
		strategy = "mobile"
	}

	q := url.Values{}
	q.Set("url", target)
	q.Set("strategy", strategy)
	q.Set("category", "performance")
	q.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Speed{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Speed{}, fmt.Errorf("pagespeed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Speed{}, fmt.Errorf("pagespeed read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		return Speed{}, fmt.Errorf("pagespeed: HTTP %d %s", resp.StatusCode, msg)
	}

	score := gjson.GetBytes(body, "lighthouseResult.categories.performance.score")
	if !score.Exists() {
		return Speed{}, errors.New("pagespeed: response has no performance score")
	}

	loadTime := gjson.GetBytes(body, `lighthouseResult.audits.speed-index.displayValue`).String()
	if loadTime == "" {
		loadTime = FallbackSpeed.LoadTime
	}
	return Speed{
		Score:    max(0, min(100, int(math.Round(score.Float()*100)))),
		LoadTime: loadTime,
	}, nil
}
