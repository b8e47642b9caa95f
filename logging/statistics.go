package logging

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Statistics represents request-level statistics collected by the HTTP layer.
type Statistics struct {
	uniqueVisitors   map[string]time.Time // IP -> last visit
	analysisRequests int
	errorCount       int
	popularURLs      map[string]int
	totalLoadTime    float64
	devMode          bool
	mutex            sync.RWMutex
}

// NewStatistics creates an empty statistics collector. Popular URLs are only
// reported when devMode is set.
func NewStatistics(devMode bool) *Statistics {
	return &Statistics{
		uniqueVisitors: make(map[string]time.Time),
		popularURLs:    make(map[string]int),
		devMode:        devMode,
	}
}

// TrackVisitor records a unique visitor
func (s *Statistics) TrackVisitor(ip string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.uniqueVisitors[ip] = time.Now()
}

// cleanURL reduces a target URL to scheme://host/path and drops our own hosts.
func cleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	if strings.Contains(u.Host, "localhost") ||
		strings.Contains(u.Host, "127.0.0.1") ||
		strings.Contains(strings.ToLower(u.Path), "/api/") {
		return ""
	}

	cleaned := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		cleaned += u.Path
	}
	return strings.TrimSuffix(cleaned, "/")
}

// TrackAnalysis records an analysis request for the given target URL.
func (s *Statistics) TrackAnalysis(target string, loadTimeMs float64, hasError bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.analysisRequests++
	if cleaned := cleanURL(target); cleaned != "" {
		s.popularURLs[cleaned]++
	}
	if hasError {
		s.errorCount++
	}
	s.totalLoadTime += loadTimeMs
}

func (s *Statistics) uniqueVisitorsLocked(since time.Duration) int {
	cutoff := time.Now().Add(-since)
	count := 0
	for _, lastVisit := range s.uniqueVisitors {
		if lastVisit.After(cutoff) {
			count++
		}
	}
	return count
}

// PruneVisitors forgets visitors not seen within the window.
func (s *Statistics) PruneVisitors(window time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-window)
	for ip, lastVisit := range s.uniqueVisitors {
		if lastVisit.Before(cutoff) {
			delete(s.uniqueVisitors, ip)
		}
	}
}

// URLCount is one entry of the popular URL ranking
type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

func (s *Statistics) popularLocked(n int) []URLCount {
	out := make([]URLCount, 0, len(s.popularURLs))
	for u, c := range s.popularURLs {
		out = append(out, URLCount{URL: u, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].URL < out[j].URL
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Snapshot is the JSON view of Statistics
type Snapshot struct {
	UniqueVisitors24h int        `json:"uniqueVisitors24h"`
	TotalRequests     int        `json:"totalRequests"`
	ErrorRate         float64    `json:"errorRate"`
	AverageLoadTime   float64    `json:"averageLoadTime"`
	PopularURLs       []URLCount `json:"popularUrls,omitempty"`
}

// Snapshot returns a copy of the current statistics. Popular URLs are only
// included in development mode.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		UniqueVisitors24h: s.uniqueVisitorsLocked(24 * time.Hour),
		TotalRequests:     s.analysisRequests,
	}
	if s.analysisRequests > 0 {
		snap.ErrorRate = float64(s.errorCount) / float64(s.analysisRequests) * 100
		snap.AverageLoadTime = s.totalLoadTime / float64(s.analysisRequests)
	}
	if s.devMode {
		snap.PopularURLs = s.popularLocked(5)
	}
	return snap
}
