package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisbze/molaison-ai-backend/errs"
	"github.com/chrisbze/molaison-ai-backend/fetch"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/providers"
	"github.com/chrisbze/molaison-ai-backend/requestid"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/stats"
)

const scenarioPage = `<html><head><title>Test</title></head><body><h1>Hi</h1><a href="/a">A</a><a href="#x">X</a></body></html>`

type page struct {
	status int
	body   string
	header http.Header
}

// mockFetcher serves pages from memory. Unknown URLs answer 404.
type mockFetcher struct {
	mu       sync.Mutex
	pages    map[string]page
	fetchErr map[string]error
	probes   map[string]int
	probeErr map[string]error
	fetched  []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		pages:    map[string]page{},
		fetchErr: map[string]error{},
		probes:   map[string]int{},
		probeErr: map[string]error{},
	}
}

func (m *mockFetcher) Fetch(_ context.Context, u string, _ fetch.Options) (*fetch.Result, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, u)
	m.mu.Unlock()

	if err := m.fetchErr[u]; err != nil {
		return nil, err
	}
	p, ok := m.pages[u]
	if !ok {
		return &fetch.Result{Status: 404, FinalURL: u}, &fetch.Error{Kind: fetch.KindHTTPError, URL: u, Status: 404}
	}
	if p.status == 0 {
		p.status = 200
	}
	res := &fetch.Result{Status: p.status, Header: p.header, Body: p.body, FinalURL: u}
	if p.status >= 400 {
		return res, &fetch.Error{Kind: fetch.KindHTTPError, URL: u, Status: p.status}
	}
	return res, nil
}

func (m *mockFetcher) Probe(_ context.Context, u string, _ fetch.Options) (int, error) {
	if err := m.probeErr[u]; err != nil {
		return 0, err
	}
	if s, ok := m.probes[u]; ok {
		return s, nil
	}
	return 200, nil
}

func (m *mockFetcher) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

// deadlineFetcher fails like a real client when the context is already done.
type deadlineFetcher struct {
	*mockFetcher
}

func (d deadlineFetcher) Fetch(ctx context.Context, u string, opts fetch.Options) (*fetch.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &fetch.Error{Kind: fetch.KindTimeout, URL: u, Err: err}
	}
	return d.mockFetcher.Fetch(ctx, u, opts)
}

func (d deadlineFetcher) Probe(ctx context.Context, u string, opts fetch.Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &fetch.Error{Kind: fetch.KindTimeout, URL: u, Err: err}
	}
	return d.mockFetcher.Probe(ctx, u, opts)
}

type speedFunc func(ctx context.Context, target, strategy string) (providers.Speed, error)

func (f speedFunc) Speed(ctx context.Context, target, strategy string) (providers.Speed, error) {
	return f(ctx, target, strategy)
}

type recommendFunc func(ctx context.Context, text string) ([]string, error)

func (f recommendFunc) Recommend(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

type entitlements map[string]bool

func (e entitlements) IsEntitled(id string) bool { return e[id] }

type recorder struct {
	mu     sync.Mutex
	deltas []stats.Delta
}

func (r *recorder) Record(d stats.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func (r *recorder) total() stats.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t stats.Delta
	for _, d := range r.deltas {
		t.Analyses += d.Analyses
		t.FailedAnalyses += d.FailedAnalyses
		t.DegradedAnalyzers += d.DegradedAnalyzers
		t.LinkProbes += d.LinkProbes
		t.BrokenLinks += d.BrokenLinks
		t.ProviderFallbacks += d.ProviderFallbacks
	}
	return t
}

var testOptions = Options{
	UserAgent:         "TestBot/1.0",
	FetchTimeout:      time.Second,
	AuxFetchTimeout:   time.Second,
	ProbeTimeout:      time.Second,
	ProviderTimeout:   time.Second,
	MaxRedirects:      5,
	ProbeMaxRedirects: 3,
	ProbeLimit:        20,
	ProbeConcurrency:  4,
	KeywordBodyChars:  5000,
}

func newTestAnalyzer(deps Deps, opts Options) *Analyzer {
	if deps.SERP == nil {
		deps.SERP = serp.NewSimulatorWithRand(rand.New(rand.NewPCG(1, 2)))
	}
	deps.Logger = zerolog.Nop()
	a := New(deps, opts)
	a.now = func() time.Time { return time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC) }
	return a
}

func TestAnalyze_ScenarioPage(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}
	rec := &recorder{}

	a := newTestAnalyzer(Deps{Fetcher: f, Stats: rec}, testOptions)
	report, err := a.Analyze(context.Background(), Request{URL: " https://example.com/ "})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/", report.URL)
	assert.Equal(t, "2025-05-01T10:00:00Z", report.Timestamp)
	assert.True(t, report.Technical.Details.HasTitle)
	assert.True(t, report.Technical.Details.HasH1)
	assert.True(t, report.Technical.Details.HasSSL)
	assert.Equal(t, LinkSummary{TotalLinks: 1, InternalCount: 1, DeepLinkRatio: 100, ProbedCount: 1}, report.Links)
	assert.Empty(t, report.BrokenLinks)
	assert.Equal(t, []keywords.Record{{Keyword: "test", Frequency: 2}}, report.ExtractedKeywords)
	assert.Equal(t, 4, report.WordCount)
	assert.Equal(t, providers.FallbackSpeed, report.PageSpeed)
	assert.Equal(t, providers.CannedRecommendations, report.AIRecommendations)
	assert.Nil(t, report.SERP)
	assert.Empty(t, report.Degraded)

	// 30 + 50/100*25 + title + https + no broken links
	assert.Equal(t, 73, report.Scores["overall"])
	assert.Equal(t, report.Technical.OverallScore, report.Scores["technical"])
	assert.Equal(t, report.GEO.Score, report.Scores["geo"])
	assert.Equal(t, "Missing meta description", report.Issues[0])
	assert.NotContains(t, report.Issues, "Missing page title")

	assert.Equal(t, stats.Delta{Analyses: 1, LinkProbes: 1}, rec.total())
}

func TestNew_ZeroOptionsUseDefaultTimeouts(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}

	a := newTestAnalyzer(Deps{Fetcher: deadlineFetcher{f}}, Options{ProbeLimit: 20})
	assert.Equal(t, DefaultFetchTimeout, a.opts.FetchTimeout)
	assert.Equal(t, DefaultAuxFetchTimeout, a.opts.AuxFetchTimeout)
	assert.Equal(t, DefaultProviderTimeout, a.opts.ProviderTimeout)

	report, err := a.Analyze(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)

	assert.Empty(t, report.Error)
	assert.Empty(t, report.Degraded)
	assert.Equal(t, 1, report.Links.ProbedCount)
	assert.Empty(t, report.BrokenLinks)
	assert.Equal(t, 73, report.Scores["overall"])
}

func TestAnalyze_PrimaryFetchTimeout(t *testing.T) {
	f := newMockFetcher()
	f.fetchErr["https://slow.example/"] = &fetch.Error{Kind: fetch.KindTimeout, URL: "https://slow.example/", Err: context.DeadlineExceeded}
	rec := &recorder{}

	a := newTestAnalyzer(Deps{Fetcher: f, Stats: rec}, testOptions)
	report, err := a.Analyze(context.Background(), Request{URL: "https://slow.example/"})
	require.NoError(t, err)

	assert.Zero(t, report.Technical.OverallScore)
	assert.Zero(t, report.Scores["overall"])
	assert.Len(t, report.Issues, 1)
	assert.Equal(t, report.Technical.Issues, report.Issues)
	assert.Contains(t, report.Issues[0], "timeout")
	assert.NotNil(t, report.BrokenLinks)
	assert.Empty(t, report.BrokenLinks)
	assert.NotNil(t, report.ExtractedKeywords)
	assert.Empty(t, report.ExtractedKeywords)
	assert.Equal(t, "timeout", report.Error)
	assert.Equal(t, []string{"fetch"}, report.Degraded)
	assert.Equal(t, 1, f.fetchCount(), "no auxiliary fetches after a primary failure")
	assert.Equal(t, 1, rec.total().DegradedAnalyzers)
}

func TestAnalyze_LogsRequestID(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}
	var buf bytes.Buffer

	a := New(Deps{Fetcher: f, Logger: zerolog.New(zerolog.SyncWriter(&buf))}, testOptions)
	ctx := requestid.NewContext(context.Background(), "req-7")
	_, err := a.Analyze(ctx, Request{URL: "https://example.com/"})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
	assert.Contains(t, buf.String(), "analysis complete")
}

func TestAnalyze_PrimaryHTTPError(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/gone"] = page{status: 410, body: "gone"}

	report, err := newTestAnalyzer(Deps{Fetcher: f}, testOptions).Analyze(context.Background(), Request{URL: "https://example.com/gone"})
	require.NoError(t, err)

	assert.Equal(t, "http_error (HTTP 410)", report.Error)
	assert.Zero(t, report.Scores["overall"])
}

func TestAnalyze_InputErrors(t *testing.T) {
	f := newMockFetcher()
	a := newTestAnalyzer(Deps{Fetcher: f}, testOptions)

	for _, u := range []string{"", "   ", "example.com", "ftp://example.com/", "/relative"} {
		_, err := a.Analyze(context.Background(), Request{URL: u})
		require.Error(t, err, u)
		assert.Equal(t, errs.Input, errs.KindOf(err), u)
	}

	_, err := a.Analyze(context.Background(), Request{URL: "https://example.com/", Keyword: string(make([]byte, 101))})
	assert.Equal(t, errs.Input, errs.KindOf(err))
	assert.Zero(t, f.fetchCount())
}

func TestAnalyze_Entitlement(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}
	ents := entitlements{"paid": true}

	a := newTestAnalyzer(Deps{Fetcher: f, Entitlements: ents}, testOptions)

	_, err := a.Analyze(context.Background(), Request{URL: "https://example.com/", CallerID: "expired"})
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))

	_, err = a.Analyze(context.Background(), Request{URL: "https://example.com/", CallerID: "paid"})
	assert.NoError(t, err)

	_, err = a.Analyze(context.Background(), Request{URL: "https://example.com/"})
	assert.NoError(t, err, "anonymous callers pass when entitlement is optional")

	strict := testOptions
	strict.RequireEntitlement = true
	_, err = newTestAnalyzer(Deps{Fetcher: f, Entitlements: ents}, strict).Analyze(context.Background(), Request{URL: "https://example.com/"})
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestAnalyze_ProvidersAndBrokenLinks(t *testing.T) {
	body := `<html><head><title>Shop</title><meta name="description" content="Shoes"></head><body>
		<h1>Running shoes</h1><p>Running shoes for trail running. Trail shoes and road shoes. Running daily on trail and road.</p>
		<a href="/ok">ok</a><a href="/missing">missing</a><a href="https://down.example/">down</a></body></html>`

	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: body}
	f.probes["https://example.com/missing"] = 404
	f.probeErr["https://down.example/"] = &fetch.Error{Kind: fetch.KindConnectionRefused, URL: "https://down.example/"}
	rec := &recorder{}

	var excerpt string
	a := newTestAnalyzer(Deps{
		Fetcher: f,
		Stats:   rec,
		Speed: speedFunc(func(_ context.Context, target, strategy string) (providers.Speed, error) {
			assert.Equal(t, "https://example.com/", target)
			assert.Equal(t, "mobile", strategy)
			return providers.Speed{Score: 90, LoadTime: "1.2 s"}, nil
		}),
		Recommender: recommendFunc(func(_ context.Context, text string) ([]string, error) {
			excerpt = text
			return nil, errors.New("upstream 503")
		}),
	}, testOptions)

	report, err := a.Analyze(context.Background(), Request{URL: "https://example.com/", Keyword: "running shoes"})
	require.NoError(t, err)

	assert.Equal(t, providers.Speed{Score: 90, LoadTime: "1.2 s"}, report.PageSpeed)
	assert.Equal(t, 90, report.Technical.SubScores.SiteSpeed)
	assert.Equal(t, providers.CannedRecommendations, report.AIRecommendations)
	assert.Contains(t, excerpt, "Running shoes")

	require.Len(t, report.BrokenLinks, 2)
	assert.Equal(t, 404, report.BrokenLinks[0].Status)
	assert.Equal(t, "connection_refused", report.BrokenLinks[1].Error)
	assert.Contains(t, report.Issues, "2 broken link(s) found")

	require.NotEmpty(t, report.ExtractedKeywords)
	require.Len(t, report.ExtractedKeywords, 5)
	assert.Equal(t, keywords.Record{Keyword: "shoes", Frequency: 6}, report.ExtractedKeywords[0])

	require.NotNil(t, report.SERP)
	assert.True(t, report.SERP.Simulated)
	assert.Equal(t, "running shoes", report.SERP.Keyword)

	// 30 + 22.5 + title + description + https + five keywords, broken links earn nothing
	assert.Equal(t, 88, report.Scores["overall"])
	assert.Equal(t, stats.Delta{Analyses: 1, LinkProbes: 3, BrokenLinks: 2, ProviderFallbacks: 1}, rec.total())
}

func TestAnalyze_PanicBecomesInternalError(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}
	rec := &recorder{}

	a := newTestAnalyzer(Deps{
		Fetcher: f,
		Stats:   rec,
		Speed: speedFunc(func(context.Context, string, string) (providers.Speed, error) {
			panic("nil map")
		}),
	}, testOptions)

	report, err := a.Analyze(context.Background(), Request{URL: "https://example.com/"})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, errs.Internal, errs.KindOf(err))
	assert.Equal(t, 1, rec.total().FailedAnalyses)
}

func TestAnalyze_Concurrent(t *testing.T) {
	f := newMockFetcher()
	for i := range 10 {
		f.pages[fmt.Sprintf("https://site%d.example/", i)] = page{body: scenarioPage}
	}
	a := newTestAnalyzer(Deps{Fetcher: f}, testOptions)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target := fmt.Sprintf("https://site%d.example/", i)
			report, err := a.Analyze(context.Background(), Request{URL: target})
			if assert.NoError(t, err) {
				assert.Equal(t, target, report.URL)
				assert.Equal(t, 73, report.Scores["overall"])
			}
		}()
	}
	wg.Wait()
}

func TestNarrowOperations(t *testing.T) {
	f := newMockFetcher()
	f.pages["https://example.com/"] = page{body: scenarioPage}
	f.fetchErr["https://down.example/"] = &fetch.Error{Kind: fetch.KindConnectionRefused, URL: "https://down.example/"}
	a := newTestAnalyzer(Deps{Fetcher: f}, testOptions)
	ctx := context.Background()

	t.Run("AuditLinks", func(t *testing.T) {
		r, err := a.AuditLinks(ctx, Request{URL: "https://example.com/"})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a", r.Links[0].URL)

		_, err = a.AuditLinks(ctx, Request{URL: "https://down.example/"})
		assert.Equal(t, errs.Fetch, errs.KindOf(err))
	})

	t.Run("ExtractKeywords", func(t *testing.T) {
		r, err := a.ExtractKeywords(ctx, Request{URL: "https://example.com/"})
		require.NoError(t, err)
		assert.Equal(t, []keywords.Record{{Keyword: "test", Frequency: 2}}, r.Keywords)
		assert.Equal(t, 4, r.WordCount)
	})

	t.Run("TechnicalAudit", func(t *testing.T) {
		r, err := a.TechnicalAudit(ctx, Request{URL: "https://example.com/"})
		require.NoError(t, err)
		assert.True(t, r.Details.HasH1)
		assert.Equal(t, 50, r.SubScores.SiteSpeed)

		r, err = a.TechnicalAudit(ctx, Request{URL: "https://down.example/"})
		require.NoError(t, err)
		assert.Zero(t, r.OverallScore)
		assert.Equal(t, "connection_refused", r.Error)
		assert.Len(t, r.Issues, 1)
	})

	t.Run("GEOAudit", func(t *testing.T) {
		r, err := a.GEOAudit(ctx, Request{URL: "https://example.com/", Topic: "greetings"})
		require.NoError(t, err)
		assert.Equal(t, r.FactorScores.Total(), r.Score)
		assert.Contains(t, r.Recommendations[len(r.Recommendations)-1], `"greetings"`)

		r, err = a.GEOAudit(ctx, Request{URL: "https://down.example/"})
		require.NoError(t, err)
		assert.Zero(t, r.Score)
		assert.Equal(t, "connection_refused", r.Error)
	})

	t.Run("SimulateSERP", func(t *testing.T) {
		_, err := a.SimulateSERP(Request{Keyword: "  "})
		assert.Equal(t, errs.Input, errs.KindOf(err))

		r, err := a.SimulateSERP(Request{Keyword: "coffee", Location: "Paris"})
		require.NoError(t, err)
		assert.True(t, r.Simulated)
		assert.Equal(t, "Paris", r.Location)
	})
}
