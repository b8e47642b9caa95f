package analyzer

import (
	"context"
	"strings"

	"github.com/chrisbze/molaison-ai-backend/errs"
	"github.com/chrisbze/molaison-ai-backend/geo"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/links"
	"github.com/chrisbze/molaison-ai-backend/markup"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/stats"
	"github.com/chrisbze/molaison-ai-backend/technical"
)

// AuditLinks runs only the link auditor. A primary fetch failure is
// returned as a FetchError.
func (a *Analyzer) AuditLinks(ctx context.Context, req Request) (links.Report, error) {
	if err := a.admit(&req); err != nil {
		return links.Empty(), err
	}
	res, err := a.fetchPage(ctx, req.URL)
	if err != nil {
		return links.Empty(), errs.FetchError(err)
	}

	var report links.Report
	err = a.safely("links", func() error {
		base := res.FinalURL
		if base == "" {
			base = req.URL
		}
		r, err := a.auditor.Audit(ctx, base, res.Body)
		if err != nil {
			return errs.InternalError(err)
		}
		report = r
		return nil
	})()
	if err != nil {
		return links.Empty(), err
	}
	a.deps.Stats.Record(stats.Delta{LinkProbes: report.ProbedCount, BrokenLinks: len(report.BrokenLinks)})
	return report, nil
}

// ExtractKeywords runs only the keyword extractor.
func (a *Analyzer) ExtractKeywords(ctx context.Context, req Request) (keywords.Result, error) {
	empty := keywords.Result{Keywords: []keywords.Record{}}
	if err := a.admit(&req); err != nil {
		return empty, err
	}
	res, err := a.fetchPage(ctx, req.URL)
	if err != nil {
		return empty, errs.FetchError(err)
	}

	var result keywords.Result
	err = a.safely("keywords", func() error {
		result = a.keywords.Extract(keywordInput(markup.Extract(res.Body)))
		return nil
	})()
	if err != nil {
		return empty, err
	}
	if result.Keywords == nil {
		result.Keywords = []keywords.Record{}
	}
	return result, nil
}

// TechnicalAudit runs the technical scorer with its auxiliary checks and
// page speed. A primary fetch failure yields the degraded report.
func (a *Analyzer) TechnicalAudit(ctx context.Context, req Request) (technical.Report, error) {
	if err := a.admit(&req); err != nil {
		return technical.Report{}, err
	}
	res, err := a.fetchPage(ctx, req.URL)
	if err != nil {
		a.logger.Warn().Str("analyzer", "technical").Str("url", req.URL).Err(err).Msg("primary fetch failed")
		return technical.Degraded(fetchReason(err)), nil
	}

	base := res.FinalURL
	if base == "" {
		base = req.URL
	}
	aux := technical.CheckAuxiliary(ctx, a.deps.Fetcher, base, technical.AuxOptions{
		Timeout:      a.opts.AuxFetchTimeout,
		MaxRedirects: a.opts.ProbeMaxRedirects,
		UserAgent:    a.opts.UserAgent,
	}, a.logger)
	speed, speedErr := a.pageSpeed(ctx, req.URL)

	var report technical.Report
	err = a.safely("technical", func() error {
		report = technical.Score(technical.Input{
			URL:        req.URL,
			Result:     res,
			Document:   markup.Extract(res.Body),
			Auxiliary:  aux,
			SpeedScore: speed.Score,
			HasSpeed:   speedErr == nil,
		})
		return nil
	})()
	return report, err
}

// GEOAudit runs only the GEO scorer. A primary fetch failure yields the
// degraded report.
func (a *Analyzer) GEOAudit(ctx context.Context, req Request) (geo.Report, error) {
	if err := a.admit(&req); err != nil {
		return geo.Report{}, err
	}
	res, err := a.fetchPage(ctx, req.URL)
	if err != nil {
		a.logger.Warn().Str("analyzer", "geo").Str("url", req.URL).Err(err).Msg("primary fetch failed")
		return geo.Degraded(fetchReason(err)), nil
	}

	var report geo.Report
	err = a.safely("geo", func() error {
		report = geo.Score(markup.Extract(res.Body), req.Topic)
		return nil
	})()
	return report, err
}

// SimulateSERP returns a synthetic competition profile for a keyword. No
// page is fetched.
func (a *Analyzer) SimulateSERP(req Request) (serp.Report, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" {
		return serp.Report{}, errs.InputError("keyword is required")
	}
	if err := validateKeyword(req.Keyword); err != nil {
		return serp.Report{}, err
	}
	if err := a.authorize(req); err != nil {
		return serp.Report{}, err
	}
	return a.deps.SERP.Simulate(req.Keyword, req.Location), nil
}
