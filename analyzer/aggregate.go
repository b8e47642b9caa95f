package analyzer

import (
	"fmt"
	"math"
	"time"

	"github.com/chrisbze/molaison-ai-backend/geo"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/links"
	"github.com/chrisbze/molaison-ai-backend/providers"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/technical"
)

// Issue texts shared with the technical scorer so merged lists deduplicate.
const (
	issueMissingTitle       = "Missing page title"
	issueMissingDescription = "Missing meta description"
	issueMissingH1          = "Missing H1 heading"
	issueNoHTTPS            = "Page is not served over HTTPS"
	issueNoStructuredData   = "No structured data found"
)

const lowDeepLinkRatio = 20

// Inputs are the analyzer outputs merged by Aggregate.
type Inputs struct {
	URL               string
	FinalURL          string
	Technical         technical.Report
	Links             links.Report
	Keywords          keywords.Result
	GEO               geo.Report
	Speed             providers.Speed
	AIRecommendations []string
	SERP              *serp.Report
	Degraded          []string
	Now               time.Time
}

// OverallScore is 30 plus a page-speed share of up to 25 and fixed bonuses
// for title, meta description, HTTPS, zero broken links and five or more
// keywords, clamped to 0-100.
func OverallScore(d technical.Details, speed, brokenLinks, keywordCount int) int {
	score := 30 + float64(speed)/100*25
	if d.HasTitle {
		score += 10
	}
	if d.HasMetaDescription {
		score += 10
	}
	if d.HasSSL {
		score += 10
	}
	if brokenLinks == 0 {
		score += 10
	}
	if keywordCount >= 5 {
		score += 5
	}
	return max(0, min(100, int(math.Round(score))))
}

// Aggregate merges analyzer outputs into one Report.
func Aggregate(in Inputs) *Report {
	d := in.Technical.Details
	overall := OverallScore(d, in.Speed.Score, len(in.Links.BrokenLinks), len(in.Keywords.Keywords))

	issues := newList()
	if !d.HasTitle {
		issues.add(issueMissingTitle)
	}
	if !d.HasMetaDescription {
		issues.add(issueMissingDescription)
	}
	if !d.HasH1 {
		issues.add(issueMissingH1)
	}
	if !d.HasSSL {
		issues.add(issueNoHTTPS)
	}
	if n := len(in.Links.BrokenLinks); n > 0 {
		issues.add(fmt.Sprintf("%d broken link(s) found", n))
	}
	if in.Links.InternalCount > 0 && in.Links.DeepLinkRatio < lowDeepLinkRatio {
		issues.add(fmt.Sprintf("Low deep-link ratio (%d%%)", in.Links.DeepLinkRatio))
	}
	if !d.HasStructuredData {
		issues.add(issueNoStructuredData)
	}
	issues.add(in.Technical.Issues...)

	recs := newList()
	recs.add(in.Technical.Recommendations...)
	if len(in.Links.BrokenLinks) > 0 {
		recs.add("Fix or remove the broken links listed in the report")
	}
	recs.add(in.GEO.Recommendations...)

	return &Report{
		URL:       in.URL,
		FinalURL:  in.FinalURL,
		Timestamp: in.Now.UTC().Format(time.RFC3339),
		Scores: map[string]int{
			"overall":   overall,
			"technical": in.Technical.OverallScore,
			"geo":       in.GEO.Score,
			"pageSpeed": in.Speed.Score,
		},
		Technical:         in.Technical,
		Links:             summarize(in.Links),
		BrokenLinks:       nonNil(in.Links.BrokenLinks),
		ExtractedKeywords: nonNil(in.Keywords.Keywords),
		WordCount:         in.Keywords.WordCount,
		PageSpeed:         in.Speed,
		GEO:               in.GEO,
		SERP:              in.SERP,
		Issues:            issues.items,
		Opportunities:     opportunities(in),
		Recommendations:   recs.items,
		AIRecommendations: nonNil(in.AIRecommendations),
		Degraded:          nonNil(in.Degraded),
	}
}

func opportunities(in Inputs) []string {
	out := []string{}
	if kw := in.Keywords.Keywords; len(kw) > 0 {
		out = append(out, fmt.Sprintf("Build supporting content around your top keyword %q", kw[0].Keyword))
	}
	if in.GEO.Score < 50 {
		out = append(out, "Restructure content with direct answers and FAQs to be cited by AI answer engines")
	}
	if in.Links.InternalCount > 0 && in.Links.DeepLinkRatio < lowDeepLinkRatio {
		out = append(out, "Add contextual internal links that point to deeper pages")
	}
	if in.Speed.Score < 50 {
		out = append(out, "Improve page speed to gain an edge over slower competitors")
	}
	if !in.Technical.Details.HasStructuredData {
		out = append(out, "Add structured data to become eligible for rich results")
	}
	if in.SERP != nil && (in.SERP.Opportunity == "High" || in.SERP.Opportunity == "Medium") {
		out = append(out, fmt.Sprintf("Simulated SERP competition for %q is %s; target it directly", in.SERP.Keyword, in.SERP.CompetitionLevel))
	}
	return out
}

// Fallback is the report returned when the primary page could not be
// fetched: zero scores and the technical diagnostic as the only issue.
func Fallback(target, reason string, serpReport *serp.Report, now time.Time) *Report {
	tech := technical.Degraded(reason)
	return &Report{
		URL:       target,
		Timestamp: now.UTC().Format(time.RFC3339),
		Scores: map[string]int{
			"overall":   0,
			"technical": 0,
			"geo":       0,
			"pageSpeed": 0,
		},
		Technical:         tech,
		BrokenLinks:       []links.BrokenRecord{},
		ExtractedKeywords: []keywords.Record{},
		PageSpeed:         providers.Speed{LoadTime: providers.FallbackSpeed.LoadTime},
		GEO:               geo.Degraded(reason),
		SERP:              serpReport,
		Issues:            []string{tech.Issues[0]},
		Opportunities:     []string{},
		Recommendations:   append([]string{}, tech.Recommendations...),
		AIRecommendations: []string{},
		Degraded:          []string{"fetch"},
		Error:             reason,
	}
}

func summarize(r links.Report) LinkSummary {
	return LinkSummary{
		TotalLinks:    r.TotalLinks,
		InternalCount: r.InternalCount,
		ExternalCount: r.ExternalCount,
		DeepLinkRatio: r.DeepLinkRatio,
		ProbedCount:   r.ProbedCount,
	}
}

// list keeps first-seen order and drops duplicates.
type list struct {
	items []string
	seen  map[string]bool
}

func newList() *list {
	return &list{items: []string{}, seen: map[string]bool{}}
}

func (l *list) add(items ...string) {
	for _, s := range items {
		if s == "" || l.seen[s] {
			continue
		}
		l.seen[s] = true
		l.items = append(l.items, s)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
