package technical

import (
	"bufio"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrisbze/molaison-ai-backend/errs"
	"github.com/chrisbze/molaison-ai-backend/fetch"
)

// Auxiliary holds the robots.txt and sitemap signals. Every field is false
// when the resource could not be fetched.
type Auxiliary struct {
	RobotsTxtReachable bool   `json:"robotsTxtReachable"`
	RobotsHasSitemap   bool   `json:"robotsHasSitemapDirective"`
	SitemapValid       bool   `json:"sitemapReachableAndValid"`
	SitemapURL         string `json:"sitemapUrl,omitempty"`
}

// AuxOptions bounds the auxiliary fetches.
type AuxOptions struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// CheckAuxiliary fetches /robots.txt and the declared (or conventional)
// sitemap for baseURL. Failures become absence signals and are never
// returned to the caller.
func CheckAuxiliary(ctx context.Context, f fetch.Fetcher, baseURL string, opts AuxOptions, logger zerolog.Logger) Auxiliary {
	var aux Auxiliary
	base, err := fetch.ValidateURL(baseURL)
	if err != nil {
		return aux
	}
	fopts := fetch.Options{Timeout: opts.Timeout, MaxRedirects: opts.MaxRedirects, UserAgent: opts.UserAgent}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host}

	robotsURL := root.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	sitemapURL := root.ResolveReference(&url.URL{Path: "/sitemap.xml"}).String()

	if body, ok := fetchAux(ctx, f, robotsURL, fopts, "robots.txt", logger); ok {
		aux.RobotsTxtReachable = true
		if declared := SitemapDirectives(body); len(declared) > 0 {
			aux.RobotsHasSitemap = true
			sitemapURL = declared[0]
		}
	}

	aux.SitemapURL = sitemapURL
	if body, ok := fetchAux(ctx, f, sitemapURL, fopts, "sitemap", logger); ok {
		aux.SitemapValid = IsSitemap(body)
	}
	return aux
}

func fetchAux(ctx context.Context, f fetch.Fetcher, target string, opts fetch.Options, resource string, logger zerolog.Logger) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res, err := f.Fetch(ctx, target, opts)
	if err != nil {
		logger.Debug().Err(errs.AuxiliaryError(resource, err)).Str("url", target).Msg("auxiliary fetch failed")
		return "", false
	}
	return res.Body, true
}

// SitemapDirectives returns the absolute URLs of every Sitemap: line.
func SitemapDirectives(robots string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(robots))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "sitemap") {
			continue
		}
		value = strings.TrimSpace(value)
		if _, err := fetch.ValidateURL(value); err == nil {
			out = append(out, value)
		}
	}
	return out
}

// IsSitemap reports whether body looks like an XML sitemap or sitemap index.
func IsSitemap(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<urlset") || strings.Contains(lower, "<sitemapindex")
}
