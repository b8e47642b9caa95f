// Package technical scores crawlability, mobile friendliness, security,
// HTML structure, metadata and site speed on independent 0-100 scales.
package technical

import (
	"math"
	"net/url"
	"strings"

	"github.com/chrisbze/molaison-ai-backend/fetch"
	"github.com/chrisbze/molaison-ai-backend/markup"
)

// NeutralSpeedScore is used when no page-speed measurement is available.
const NeutralSpeedScore = 50

const maxRecommendations = 8

// SubScores are the six technical categories
type SubScores struct {
	Crawlability       int `json:"crawlability"`
	MobileFriendliness int `json:"mobileFriendliness"`
	Security           int `json:"security"`
	HTMLStructure      int `json:"htmlStructure"`
	Metadata           int `json:"metadata"`
	SiteSpeed          int `json:"siteSpeed"`
}

func (s SubScores) values() [6]int {
	return [6]int{s.Crawlability, s.MobileFriendliness, s.Security, s.HTMLStructure, s.Metadata, s.SiteSpeed}
}

// Mean is the rounded arithmetic mean of the six sub-scores.
func (s SubScores) Mean() int {
	sum := 0
	for _, v := range s.values() {
		sum += v
	}
	return int(math.Round(float64(sum) / 6))
}

// Details are the raw flags the scores were derived from.
type Details struct {
	StatusCode         int     `json:"statusCode"`
	HasTitle           bool    `json:"hasTitle"`
	TitleLength        int     `json:"titleLength"`
	HasMetaDescription bool    `json:"hasMetaDescription"`
	DescriptionLength  int     `json:"descriptionLength"`
	HasH1              bool    `json:"hasH1"`
	H1Count            int     `json:"h1Count"`
	HasSSL             bool    `json:"hasSSL"`
	HasHSTS            bool    `json:"hasHSTS"`
	MixedContent       int     `json:"mixedContent"`
	HasViewport        bool    `json:"hasViewport"`
	HasCanonical       bool    `json:"hasCanonical"`
	HasStructuredData  bool    `json:"hasStructuredData"`
	HasOpenGraph       bool    `json:"hasOpenGraph"`
	HasTwitterCard     bool    `json:"hasTwitterCard"`
	Noindex            bool    `json:"noindex"`
	ImageCount         int     `json:"imageCount"`
	ImagesWithAlt      int     `json:"imagesWithAlt"`
	AltTextRatio       float64 `json:"altTextRatio"`
	WordCount          int     `json:"wordCount"`
	Auxiliary
}

// Report is the technical scorer output
type Report struct {
	SubScores       SubScores `json:"subScores"`
	OverallScore    int       `json:"overallScore"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	Details         Details   `json:"analysisDetails"`
	Error           string    `json:"error,omitempty"`
}

// Input gathers everything the scorer reads. SpeedScore is only used when
// HasSpeed is set.
type Input struct {
	URL        string
	Result     *fetch.Result
	Document   *markup.Document
	Auxiliary  Auxiliary
	SpeedScore int
	HasSpeed   bool
}

// Degraded is the total-failure report used when the primary page could
// not be fetched.
func Degraded(reason string) Report {
	return Report{
		Issues:          []string{"Technical analysis failed: " + reason},
		Recommendations: []string{"Make sure the page is publicly reachable and responds within the timeout, then run the analysis again"},
		Error:           reason,
	}
}

type checklist struct {
	issues          []string
	recommendations []string
}

func (c *checklist) flag(issue, recommendation string) {
	c.issues = append(c.issues, issue)
	if recommendation != "" {
		c.recommendations = append(c.recommendations, recommendation)
	}
}

// Score evaluates the page. Checks run in a fixed order so issue and
// recommendation lists are reproducible for identical input.
func Score(in Input) Report {
	doc := in.Document
	if doc == nil {
		doc = &markup.Document{}
	}
	res := in.Result
	if res == nil {
		res = &fetch.Result{}
	}

	d := details(in.URL, res, doc, in.Auxiliary)
	c := &checklist{}

	s := SubScores{
		Crawlability:       crawlability(d, c),
		MobileFriendliness: mobile(doc, c),
		Security:           security(d, res, c),
		HTMLStructure:      structure(d, doc, c),
		Metadata:           metadata(d, c),
		SiteSpeed:          NeutralSpeedScore,
	}
	if in.HasSpeed {
		s.SiteSpeed = clamp(in.SpeedScore)
		if s.SiteSpeed < 50 {
			c.flag("Page speed score is low", "Reduce render-blocking resources and compress images to improve load time")
		}
	}

	if len(c.recommendations) > maxRecommendations {
		c.recommendations = c.recommendations[:maxRecommendations]
	}
	return Report{
		SubScores:       s,
		OverallScore:    s.Mean(),
		Issues:          nonNil(c.issues),
		Recommendations: nonNil(c.recommendations),
		Details:         d,
	}
}

func details(target string, res *fetch.Result, doc *markup.Document, aux Auxiliary) Details {
	d := Details{
		StatusCode:         res.Status,
		HasTitle:           doc.Title != "",
		TitleLength:        len([]rune(doc.Title)),
		HasMetaDescription: doc.MetaDescription != "",
		DescriptionLength:  len([]rune(doc.MetaDescription)),
		H1Count:            doc.H1Count(),
		HasViewport:        doc.HasViewport,
		HasCanonical:       doc.HasCanonical,
		HasStructuredData:  doc.HasStructuredData,
		HasOpenGraph:       doc.OGTagCount > 0,
		HasTwitterCard:     doc.HasTwitterCard,
		Noindex:            strings.Contains(doc.MetaRobots, "noindex"),
		ImageCount:         len(doc.Images),
		ImagesWithAlt:      doc.ImagesWithAlt(),
		WordCount:          doc.WordCount,
		Auxiliary:          aux,
	}
	d.HasH1 = d.H1Count > 0

	finalURL := res.FinalURL
	if finalURL == "" {
		finalURL = target
	}
	if u, err := url.Parse(finalURL); err == nil {
		d.HasSSL = strings.EqualFold(u.Scheme, "https")
	}
	d.HasHSTS = d.HasSSL && res.HeaderValue("Strict-Transport-Security") != ""
	if d.HasSSL {
		d.MixedContent = doc.InsecureResources
	}
	if d.ImageCount > 0 {
		d.AltTextRatio = math.Round(float64(d.ImagesWithAlt)/float64(d.ImageCount)*100) / 100
	}
	return d
}

func crawlability(d Details, c *checklist) int {
	score := 40
	if d.RobotsTxtReachable {
		score += 20
	} else {
		c.flag("robots.txt is missing or unreachable", "Publish a robots.txt file at the site root")
	}
	if d.RobotsHasSitemap {
		score += 10
	} else {
		c.flag("robots.txt does not declare a sitemap", "Add a Sitemap: directive to robots.txt")
	}
	if d.SitemapValid {
		score += 20
	} else {
		c.flag("No valid XML sitemap found", "Generate an XML sitemap listing your canonical URLs")
	}
	if d.StatusCode == 200 {
		score += 10
	}
	if d.Noindex {
		score -= 30
		c.flag("Page is marked noindex", "Remove the noindex robots directive if this page should appear in search results")
	}
	return clamp(score)
}

func mobile(doc *markup.Document, c *checklist) int {
	score := 40
	if doc.HasViewport {
		score += 30
		if strings.Contains(doc.Viewport, "width=device-width") {
			score += 10
		}
		if strings.Contains(strings.ReplaceAll(doc.Viewport, " ", ""), "user-scalable=no") {
			score -= 10
			c.flag("Viewport disables zooming", "Allow users to zoom by removing user-scalable=no")
		}
	} else {
		c.flag("Missing viewport meta tag", "Add <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
	}
	if doc.HasMediaQueries {
		score += 10
	}
	for _, img := range doc.Images {
		if img.HasSrcset {
			score += 10
			break
		}
	}
	if doc.HasFlash {
		score -= 30
		c.flag("Page uses Flash content", "Replace Flash with HTML5 alternatives")
	}
	return clamp(score)
}

func security(d Details, res *fetch.Result, c *checklist) int {
	score := 30
	if d.HasSSL {
		score += 40
	} else {
		c.flag("Page is not served over HTTPS", "Serve the site over HTTPS and redirect HTTP traffic")
	}
	if d.HasHSTS {
		score += 10
	} else if d.HasSSL {
		c.flag("Missing Strict-Transport-Security header", "Enable HSTS to force secure connections")
	}
	if res.HeaderValue("Content-Security-Policy") != "" {
		score += 10
	}
	if strings.EqualFold(res.HeaderValue("X-Content-Type-Options"), "nosniff") {
		score += 5
	}
	if res.HeaderValue("X-Frame-Options") != "" {
		score += 5
	}
	if d.MixedContent > 0 {
		score -= 20
		c.flag("HTTPS page loads insecure HTTP resources", "Load every script, stylesheet and image over HTTPS")
	}
	return clamp(score)
}

func structure(d Details, doc *markup.Document, c *checklist) int {
	score := 30
	switch {
	case d.H1Count == 1:
		score += 20
	case d.H1Count > 1:
		score += 10
		c.flag("Multiple H1 headings found", "Keep a single H1 that describes the page")
	default:
		c.flag("Missing H1 heading", "Add one H1 heading that states the page topic")
	}
	for _, h := range doc.Headings {
		if h.Level == 2 {
			score += 10
			break
		}
	}
	if len(doc.Headings) > 0 && !doc.SkipsHeadingLevel() {
		score += 10
	} else if doc.SkipsHeadingLevel() {
		c.flag("Heading levels are skipped", "Nest headings sequentially (H1, H2, H3) without gaps")
	}
	switch {
	case d.ImageCount == 0 || d.AltTextRatio >= 0.9:
		score += 20
	case d.AltTextRatio >= 0.5:
		score += 10
		c.flag("Some images are missing alt text", "Add descriptive alt text to every image")
	default:
		c.flag("Most images are missing alt text", "Add descriptive alt text to every image")
	}
	if doc.Lang != "" {
		score += 5
	}
	if doc.HasDoctype {
		score += 5
	}
	return clamp(score)
}

func metadata(d Details, c *checklist) int {
	score := 20
	if d.HasTitle {
		score += 15
		if d.TitleLength <= 60 {
			score += 10
		} else {
			c.flag("Title is longer than 60 characters", "Shorten the title to 60 characters or fewer")
		}
	} else {
		c.flag("Missing page title", "Add a descriptive <title> of up to 60 characters")
	}
	if d.HasMetaDescription {
		score += 15
		if d.DescriptionLength >= 50 && d.DescriptionLength <= 160 {
			score += 5
		}
	} else {
		c.flag("Missing meta description", "Write a meta description of 50 to 160 characters")
	}
	if d.HasCanonical {
		score += 10
	} else {
		c.flag("Missing canonical link", "Declare a canonical URL with <link rel=\"canonical\">")
	}
	if d.HasStructuredData {
		score += 15
	} else {
		c.flag("No structured data found", "Add JSON-LD structured data describing the page")
	}
	if d.HasOpenGraph {
		score += 5
	} else {
		c.flag("Missing Open Graph tags", "Add og:title, og:description and og:image tags")
	}
	if d.HasTwitterCard {
		score += 5
	}
	return clamp(score)
}

func clamp(v int) int {
	return max(0, min(100, v))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
