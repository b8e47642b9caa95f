package analyzer

import (
	"time"

	"github.com/chrisbze/molaison-ai-backend/geo"
	"github.com/chrisbze/molaison-ai-backend/keywords"
	"github.com/chrisbze/molaison-ai-backend/links"
	"github.com/chrisbze/molaison-ai-backend/providers"
	"github.com/chrisbze/molaison-ai-backend/serp"
	"github.com/chrisbze/molaison-ai-backend/stats"
	"github.com/chrisbze/molaison-ai-backend/technical"
)

// Request is one analysis invocation.
type Request struct {
	URL      string `json:"url"`
	Keyword  string `json:"keyword,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Location string `json:"location,omitempty"`
	CallerID string `json:"callerId,omitempty"`
}

// Entitlements answers whether a caller may run an analysis.
type Entitlements interface {
	IsEntitled(callerID string) bool
}

// StatsRecorder receives pipeline counters. *stats.Storage satisfies it.
type StatsRecorder interface {
	Record(d stats.Delta)
}

// Options are the per-call limits applied by the orchestrator.
type Options struct {
	UserAgent          string
	FetchTimeout       time.Duration
	AuxFetchTimeout    time.Duration
	ProbeTimeout       time.Duration
	ProviderTimeout    time.Duration
	MaxRedirects       int
	ProbeMaxRedirects  int
	ProbeLimit         int
	ProbeConcurrency   int
	KeywordBodyChars   int
	StopWords          []string
	RequireEntitlement bool
}

// LinkSummary carries the link counts without the full link list.
type LinkSummary struct {
	TotalLinks    int `json:"totalLinks"`
	InternalCount int `json:"internalCount"`
	ExternalCount int `json:"externalCount"`
	DeepLinkRatio int `json:"deepLinkRatio"`
	ProbedCount   int `json:"probedCount"`
}

// Report is the aggregate analysis result. Every list is non-nil so the
// JSON shape is the same for full and degraded analyses.
type Report struct {
	URL               string               `json:"url"`
	FinalURL          string               `json:"finalUrl,omitempty"`
	Timestamp         string               `json:"timestamp"`
	Scores            map[string]int       `json:"scores"`
	Technical         technical.Report     `json:"technical"`
	Links             LinkSummary          `json:"links"`
	BrokenLinks       []links.BrokenRecord `json:"brokenLinks"`
	ExtractedKeywords []keywords.Record    `json:"extractedKeywords"`
	WordCount         int                  `json:"wordCount"`
	PageSpeed         providers.Speed      `json:"pageSpeed"`
	GEO               geo.Report           `json:"geo"`
	SERP              *serp.Report         `json:"serp,omitempty"`
	Issues            []string             `json:"issues"`
	Opportunities     []string             `json:"opportunities"`
	Recommendations   []string             `json:"recommendations"`
	AIRecommendations []string             `json:"aiRecommendations"`
	Degraded          []string             `json:"degraded"`
	Error             string               `json:"error,omitempty"`
}
