// Package analyzer runs the page-analysis pipeline: one primary fetch, a
// fan-out to the independent analyzers and the final aggregation.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/chrisbze/molaison-ai-backend/errs"
	"github.com/chrisbze/molaison-ai-backend/fetch"
	"github.com/chrisbze/molaison-ai-backend/geo"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/links"
	"github.com/chrisbze/molaison-ai-backend/markup"
	"github.com/chrisbze/molaison-ai-backend/providers"
	"github.com/chrisbze/molaison-ai-backend/requestid"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/stats"
	"github.com/chrisbze/molaison-ai-backend/technical"
)

const maxKeywordLength = 100

// Deps are the collaborators of an Analyzer. Speed, Recommender,
// Entitlements and Stats may be nil.
type Deps struct {
	Fetcher      fetch.Fetcher
	Speed        providers.SpeedProvider
	Recommender  providers.RecommendationProvider
	Entitlements Entitlements
	Stats        StatsRecorder
	SERP         *serp.Simulator
	Logger       zerolog.Logger
}

// Analyzer orchestrates the pipeline. It holds no per-request state and is
// safe for concurrent use.
type Analyzer struct {
	deps     Deps
	opts     Options
	auditor  *links.Auditor
	keywords *keywords.Extractor
	logger   zerolog.Logger
	now      func() time.Time
}

// New returns an Analyzer.
func New(deps Deps, opts Options) *Analyzer {
	if deps.SERP == nil {
		deps.SERP = serp.NewSimulator()
	}
	if deps.Stats == nil {
		deps.Stats = nopRecorder{}
	}
	opts = withDefaults(opts)
	logger := deps.Logger.With().Str("component", "analyzer").Logger()

	return &Analyzer{
		deps: deps,
		opts: opts,
		auditor: links.NewAuditor(deps.Fetcher, links.Options{
			ProbeLimit:   opts.ProbeLimit,
			ProbeTimeout: opts.ProbeTimeout,
			Concurrency:  opts.ProbeConcurrency,
			MaxRedirects: opts.ProbeMaxRedirects,
			UserAgent:    opts.UserAgent,
		}, deps.Logger),
		keywords: keywords.New(opts.StopWords, opts.KeywordBodyChars),
		logger:   logger,
		now:      time.Now,
	}
}

// Timeouts used when the corresponding Options field is zero.
const (
	DefaultFetchTimeout    = 15 * time.Second
	DefaultAuxFetchTimeout = 5 * time.Second
	DefaultProviderTimeout = 30 * time.Second
)

func withDefaults(opts Options) Options {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.AuxFetchTimeout <= 0 {
		opts.AuxFetchTimeout = DefaultAuxFetchTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = links.DefaultLinkTimeout
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.ProbeConcurrency < 1 {
		opts.ProbeConcurrency = 1
	}
	return opts
}

type nopRecorder struct{}

func (nopRecorder) Record(stats.Delta) {}

// validate normalizes req and rejects it before any fetch.
func validate(req *Request) error {
	req.URL = strings.TrimSpace(req.URL)
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.Topic = strings.TrimSpace(req.Topic)

	if req.URL == "" {
		return errs.InputError("URL is required")
	}
	if _, err := fetch.ValidateURL(req.URL); err != nil {
		return errs.InputError("URL must be an absolute http or https URL")
	}
	return validateKeyword(req.Keyword)
}

func validateKeyword(keyword string) error {
	if len(keyword) > maxKeywordLength {
		return errs.InputError(fmt.Sprintf("keyword must be at most %d characters", maxKeywordLength))
	}
	return nil
}

// authorize consults the entitlement collaborator when a caller is named or
// entitlement is required for everyone.
func (a *Analyzer) authorize(req Request) error {
	if req.CallerID == "" && !a.opts.RequireEntitlement {
		return nil
	}
	if req.CallerID == "" {
		return errs.UnauthorizedError("an entitled caller id is required")
	}
	if a.deps.Entitlements == nil || !a.deps.Entitlements.IsEntitled(req.CallerID) {
		return errs.UnauthorizedError("caller is not entitled to run an analysis")
	}
	return nil
}

func (a *Analyzer) admit(req *Request) error {
	if err := validate(req); err != nil {
		return err
	}
	return a.authorize(*req)
}

// fetchPage retrieves the primary page. Any failure, including an HTTP
// error status, is returned as a *fetch.Error.
func (a *Analyzer) fetchPage(ctx context.Context, target string) (*fetch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	defer cancel()

	res, err := a.deps.Fetcher.Fetch(ctx, target, fetch.Options{
		Timeout:      a.opts.FetchTimeout,
		MaxRedirects: a.opts.MaxRedirects,
		UserAgent:    a.opts.UserAgent,
	})
	if err != nil {
		return nil, fetch.Classify(target, err)
	}
	return res, nil
}

func fetchReason(err error) string {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		if fe.Kind == fetch.KindHTTPError && fe.Status != 0 {
			return fmt.Sprintf("%s (HTTP %d)", fe.Kind, fe.Status)
		}
		return fe.Kind.String()
	}
	return fetch.KindNetwork.String()
}

// safely runs fn and converts a panic into an InternalError.
func (a *Analyzer) safely(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().
					Str("analyzer", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("analyzer panicked")
				err = errs.InternalError(fmt.Errorf("%s analyzer panicked: %v", name, r))
			}
		}()
		return fn()
	}
}

// Analyze runs the full pipeline. Only InputError, Unauthorized and
// InternalError fail the request; every other failure degrades the
// affected section.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	if err := a.admit(&req); err != nil {
		return nil, err
	}
	start := a.now()
	logger := a.logger.With().
		Str("url", req.URL).
		Str("request_id", requestid.FromContext(ctx)).
		Logger()

	var serpReport *serp.Report
	if req.Keyword != "" {
		r := a.deps.SERP.Simulate(req.Keyword, req.Location)
		serpReport = &r
	}

	res, err := a.fetchPage(ctx, req.URL)
	if err != nil {
		reason := fetchReason(err)
		logger.Warn().Str("analyzer", "fetch").Err(errs.FetchError(err)).Msg("primary fetch failed, returning fallback report")
		a.deps.Stats.Record(stats.Delta{Analyses: 1, DegradedAnalyzers: 1})
		return Fallback(req.URL, reason, serpReport, a.now()), nil
	}

	doc := markup.Extract(res.Body)
	base := res.FinalURL
	if base == "" {
		base = req.URL
	}

	var (
		aux        technical.Auxiliary
		linkReport = links.Empty()
		speed      = providers.FallbackSpeed
		speedOK    bool
		aiRecs     []string
		kw         keywords.Result
		geoReport  geo.Report
		fallbacks  atomic.Int32

		mu       sync.Mutex
		degraded []string
	)
	markDegraded := func(name string, err error) {
		logger.Warn().Str("analyzer", name).Err(err).Msg("analyzer degraded")
		mu.Lock()
		degraded = append(degraded, name)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.safely("auxiliary", func() error {
		aux = technical.CheckAuxiliary(gctx, a.deps.Fetcher, base, technical.AuxOptions{
			Timeout:      a.opts.AuxFetchTimeout,
			MaxRedirects: a.opts.ProbeMaxRedirects,
			UserAgent:    a.opts.UserAgent,
		}, a.logger)
		return nil
	}))

	g.Go(a.safely("links", func() error {
		r, err := a.auditor.Audit(gctx, base, res.Body)
		if err != nil {
			markDegraded("links", err)
			return nil
		}
		linkReport = r
		return nil
	}))

	g.Go(a.safely("pagespeed", func() error {
		s, err := a.pageSpeed(gctx, req.URL)
		if err != nil {
			if !errors.Is(err, providers.ErrNotConfigured) {
				fallbacks.Add(1)
				logger.Warn().Err(errs.ExternalServiceError("pagespeed", err)).Msg("using fallback page speed")
			}
			return nil
		}
		speed, speedOK = s, true
		return nil
	}))

	g.Go(a.safely("recommendations", func() error {
		recs, err := a.recommend(gctx, doc.VisibleText)
		if err != nil {
			if !errors.Is(err, providers.ErrNotConfigured) {
				fallbacks.Add(1)
				logger.Warn().Err(errs.ExternalServiceError("completion", err)).Msg("using canned recommendations")
			}
			recs = append([]string{}, providers.CannedRecommendations...)
		}
		aiRecs = recs
		return nil
	}))

	g.Go(a.safely("keywords", func() error {
		kw = a.keywords.Extract(keywordInput(doc))
		return nil
	}))

	g.Go(a.safely("geo", func() error {
		geoReport = geo.Score(doc, req.Topic)
		return nil
	}))

	if err := g.Wait(); err != nil {
		a.deps.Stats.Record(stats.Delta{Analyses: 1, FailedAnalyses: 1})
		return nil, err
	}

	var tech technical.Report
	if err := a.safely("technical", func() error {
		tech = technical.Score(technical.Input{
			URL:        req.URL,
			Result:     res,
			Document:   doc,
			Auxiliary:  aux,
			SpeedScore: speed.Score,
			HasSpeed:   speedOK,
		})
		return nil
	})(); err != nil {
		a.deps.Stats.Record(stats.Delta{Analyses: 1, FailedAnalyses: 1})
		return nil, err
	}

	report := Aggregate(Inputs{
		URL:               req.URL,
		FinalURL:          res.FinalURL,
		Technical:         tech,
		Links:             linkReport,
		Keywords:          kw,
		GEO:               geoReport,
		Speed:             speed,
		AIRecommendations: aiRecs,
		SERP:              serpReport,
		Degraded:          degraded,
		Now:               a.now(),
	})

	a.deps.Stats.Record(stats.Delta{
		Analyses:          1,
		DegradedAnalyzers: len(degraded),
		LinkProbes:        linkReport.ProbedCount,
		BrokenLinks:       len(linkReport.BrokenLinks),
		ProviderFallbacks: int(fallbacks.Load()),
	})
	logger.Info().
		Int("overall", report.Scores["overall"]).
		Int("technical", tech.OverallScore).
		Int("geo", geoReport.Score).
		Int("broken_links", len(linkReport.BrokenLinks)).
		Dur("elapsed", a.now().Sub(start)).
		Msg("analysis complete")

	return report, nil
}

func keywordInput(doc *markup.Document) keywords.Input {
	return keywords.Input{
		Title:           doc.Title,
		Headings:        doc.HeadingTexts(),
		MetaDescription: doc.MetaDescription,
		VisibleText:     doc.VisibleText,
	}
}

func (a *Analyzer) pageSpeed(ctx context.Context, target string) (providers.Speed, error) {
	if a.deps.Speed == nil {
		return providers.Speed{}, providers.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.ProviderTimeout)
	defer cancel()
	return a.deps.Speed.Speed(ctx, target, "mobile")
}

func (a *Analyzer) recommend(ctx context.Context, text string) ([]string, error) {
	if a.deps.Recommender == nil {
		return nil, providers.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.ProviderTimeout)
	defer cancel()
	return a.deps.Recommender.Recommend(ctx, text)
}
