package links

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chrisbze/molaison-ai-backend/fetch"
)

// Record is one outbound anchor in document order. Duplicates are kept.
type Record struct {
	URL        string `json:"url"`
	AnchorText string `json:"anchorText"`
	IsInternal bool   `json:"isInternal"`
}

// BrokenRecord is a probed link that answered 400+ or failed in transport
// (Status 0).
type BrokenRecord struct {
	URL        string `json:"url"`
	Status     int    `json:"status"`
	AnchorText string `json:"anchorText"`
	IsInternal bool   `json:"isInternal"`
	Error      string `json:"error"`
}

// Report is the auditor output.
type Report struct {
	Links         []Record       `json:"links"`
	BrokenLinks   []BrokenRecord `json:"brokenLinks"`
	TotalLinks    int            `json:"totalLinks"`
	InternalCount int            `json:"internalCount"`
	ExternalCount int            `json:"externalCount"`
	DeepLinkRatio int            `json:"deepLinkRatio"`
	ProbedCount   int            `json:"probedCount"`
}

// Empty returns a zero report with non-nil lists.
func Empty() Report {
	return Report{Links: []Record{}, BrokenLinks: []BrokenRecord{}}
}

// Prober checks link liveness. fetch.Client satisfies it.
type Prober interface {
	Probe(ctx context.Context, url string, opts fetch.Options) (int, error)
}

// Options bounds the probing work.
type Options struct {
	ProbeLimit   int
	ProbeTimeout time.Duration
	Concurrency  int
	MaxRedirects int
	UserAgent    string
}

// DefaultLinkTimeout is the per-link deadline used when Options sets none
const DefaultLinkTimeout = 5 * time.Second

// Auditor extracts and probes links.
type Auditor struct {
	prober Prober
	opts   Options
	logger zerolog.Logger
}

// NewAuditor returns an Auditor backed by the given prober.
func NewAuditor(prober Prober, opts Options, logger zerolog.Logger) *Auditor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultLinkTimeout
	}
	return &Auditor{
		prober: prober,
		opts:   opts,
		logger: logger.With().Str("component", "links").Logger(),
	}
}

// Extract scans markup for anchors in document order, skipping fragment-only,
// mailto:, tel: and javascript: targets, and resolves the rest against base.
func Extract(base *url.URL, markup string) []Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return []Record{}
	}

	records := []Record{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		records = append(records, Record{
			URL:        resolved.String(),
			AnchorText: strings.Join(strings.Fields(s.Text()), " "),
			IsInternal: strings.EqualFold(resolved.Hostname(), base.Hostname()),
		})
	})
	return records
}

// Audit extracts links and probes the first ProbeLimit of them in document
// order. A failed probe never aborts the remaining ones.
func (a *Auditor) Audit(ctx context.Context, baseURL, markup string) (Report, error) {
	base, err := fetch.ValidateURL(baseURL)
	if err != nil {
		return Empty(), err
	}

	report := Empty()
	report.Links = Extract(base, markup)
	report.TotalLinks = len(report.Links)

	self := normalize(base)
	deep := 0
	for _, l := range report.Links {
		if !l.IsInternal {
			report.ExternalCount++
			continue
		}
		report.InternalCount++
		if u, err := url.Parse(l.URL); err == nil && normalize(u) != self {
			deep++
		}
	}
	report.DeepLinkRatio = DeepLinkRatio(deep, report.TotalLinks)

	report.BrokenLinks = a.probe(ctx, report.Links)
	report.ProbedCount = min(len(report.Links), a.opts.ProbeLimit)
	return report, nil
}

// DeepLinkRatio returns deep/total as a rounded percentage, 0 when total is 0.
func DeepLinkRatio(deep, total int) int {
	if total <= 0 {
		return 0
	}
	ratio := int(math.Round(float64(deep) / float64(total) * 100))
	return max(0, min(100, ratio))
}

// normalize drops the fragment and treats an empty path as "/".
func normalize(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	c.Host = strings.ToLower(c.Host)
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func (a *Auditor) probe(ctx context.Context, records []Record) []BrokenRecord {
	limit := min(len(records), a.opts.ProbeLimit)
	if limit <= 0 {
		return []BrokenRecord{}
	}

	results := make([]*BrokenRecord, limit)
	g := new(errgroup.Group)
	g.SetLimit(a.opts.Concurrency)

	for i, rec := range records[:limit] {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = a.probeOne(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	broken := []BrokenRecord{}
	for _, r := range results {
		if r != nil {
			broken = append(broken, *r)
		}
	}
	return broken
}

// probeOne returns nil when the link is alive or the parent context was
// cancelled. A per-link timeout counts as broken.
func (a *Auditor) probeOne(ctx context.Context, rec Record) (broken *BrokenRecord) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Str("url", rec.URL).Msg("link probe panicked")
			broken = &BrokenRecord{URL: rec.URL, AnchorText: rec.AnchorText, IsInternal: rec.IsInternal, Error: "probe_failed"}
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
	defer cancel()

	status, err := a.prober.Probe(probeCtx, rec.URL, fetch.Options{
		Timeout:      a.opts.ProbeTimeout,
		MaxRedirects: a.opts.MaxRedirects,
		UserAgent:    a.opts.UserAgent,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		kind := fetch.KindNetwork
		var fe *fetch.Error
		if errors.As(err, &fe) {
			kind = fe.Kind
		}
		a.logger.Debug().Err(err).Str("url", rec.URL).Msg("link probe failed")
		return &BrokenRecord{URL: rec.URL, AnchorText: rec.AnchorText, IsInternal: rec.IsInternal, Error: kind.String()}
	}

	if status >= 400 {
		return &BrokenRecord{
			URL:        rec.URL,
			Status:     status,
			AnchorText: rec.AnchorText,
			IsInternal: rec.IsInternal,
			Error:      classifyStatus(status),
		}
	}
	return nil
}

func classifyStatus(status int) string {
	switch {
	case status == 404 || status == 410:
		return "not_found"
	case status == 401 || status == 403:
		return "forbidden"
	case status == 429:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}
