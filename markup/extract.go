// Package markup derives the structural and textual signals shared by the
// analyzers. It is a heuristic extractor: malformed markup may produce false
// positives or negatives, and that is acceptable.
package markup

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heading is one h1-h6 element in document order
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image records alt-text presence for one <img>.
type Image struct {
	Src        string `json:"src"`
	HasAltText bool   `json:"hasAltText"`
	HasSrcset  bool   `json:"hasSrcset"`
}

// Document is the extractor output.
type Document struct {
	Title           string    `json:"title"`
	MetaDescription string    `json:"metaDescription"`
	MetaRobots      string    `json:"metaRobots"`
	Viewport        string    `json:"viewport"`
	Lang            string    `json:"lang"`
	Headings        []Heading `json:"headings"`
	Images          []Image   `json:"images"`
	Paragraphs      []string  `json:"paragraphs"`
	VisibleText     string    `json:"visibleText"`
	WordCount       int       `json:"wordCount"`

	ListCount       int `json:"listCount"`
	BulletItemCount int `json:"bulletItemCount"`
	TableCount      int `json:"tableCount"`
	DetailsCount    int `json:"detailsCount"`
	OGTagCount      int `json:"ogTagCount"`

	HasDoctype         bool `json:"hasDoctype"`
	HasStructuredData  bool `json:"hasStructuredData"`
	HasSchemaOrgMarker bool `json:"hasSchemaOrgMarker"`
	HasFAQSchema       bool `json:"hasFaqSchema"`
	HasCanonical       bool `json:"hasCanonical"`
	HasViewport        bool `json:"hasViewport"`
	HasTwitterCard     bool `json:"hasTwitterCard"`
	HasMediaQueries    bool `json:"hasMediaQueries"`
	HasFlash           bool `json:"hasFlash"`

	// InsecureResources counts http:// resource references (img, script,
	// iframe, stylesheet) that would be mixed content on an HTTPS page.
	InsecureResources int `json:"insecureResources"`
}

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentBlock = regexp.MustCompile(`(?s)<!--.*?-->`)
	anyTag       = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespace   = regexp.MustCompile(`\s+`)

	doctype       = regexp.MustCompile(`(?i)^\s*(?:<\?xml[^>]*>\s*)?<!doctype\s+html`)
	jsonLD        = regexp.MustCompile(`(?i)<script[^>]+type\s*=\s*["']?application/ld\+json`)
	faqPageSchema = regexp.MustCompile(`(?i)["']@type["']\s*:\s*["']FAQPage["']|itemtype\s*=\s*["'][^"']*schema\.org/FAQPage`)
	flashEmbed    = regexp.MustCompile(`(?i)\.swf\b|application/x-shockwave-flash`)
	mediaQuery    = regexp.MustCompile(`(?i)@media\b`)
)

// VisibleText removes script and style blocks first, then strips every tag
// to a single space and collapses whitespace.
func VisibleText(raw string) string {
	text := scriptBlock.ReplaceAllString(raw, " ")
	text = styleBlock.ReplaceAllString(text, " ")
	text = commentBlock.ReplaceAllString(text, " ")
	text = anyTag.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Extract derives a Document from raw markup. It never fails: when the
// markup cannot be parsed the text-derived fields are still populated.
func Extract(raw string) *Document {
	d := &Document{
		VisibleText:        VisibleText(raw),
		HasDoctype:         doctype.MatchString(raw),
		HasStructuredData:  jsonLD.MatchString(raw),
		HasSchemaOrgMarker: strings.Contains(strings.ToLower(raw), "schema.org"),
		HasFAQSchema:       faqPageSchema.MatchString(raw),
		HasMediaQueries:    mediaQuery.MatchString(raw),
		HasFlash:           flashEmbed.MatchString(raw),
	}
	d.WordCount = len(strings.Fields(d.VisibleText))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return d
	}

	d.Title = collapse(doc.Find("title").First().Text())
	d.Lang = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		property := strings.ToLower(strings.TrimSpace(s.AttrOr("property", "")))
		content := strings.TrimSpace(s.AttrOr("content", ""))

		switch {
		case name == "description" && d.MetaDescription == "":
			d.MetaDescription = content
		case name == "robots":
			d.MetaRobots = strings.ToLower(content)
		case name == "viewport":
			d.HasViewport = true
			d.Viewport = strings.ToLower(content)
		case strings.HasPrefix(name, "twitter:") || strings.HasPrefix(property, "twitter:"):
			d.HasTwitterCard = true
		}
		if strings.HasPrefix(property, "og:") {
			d.OGTagCount++
		}
	})

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		href := s.AttrOr("href", "")
		if rel == "canonical" && strings.TrimSpace(href) != "" {
			d.HasCanonical = true
		}
		if strings.Contains(rel, "stylesheet") && isInsecure(href) {
			d.InsecureResources++
		}
	})

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		d.Headings = append(d.Headings, Heading{Level: level, Text: collapse(s.Text())})
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, hasAlt := s.Attr("alt")
		src := s.AttrOr("src", "")
		_, hasSrcset := s.Attr("srcset")
		d.Images = append(d.Images, Image{
			Src:        src,
			HasAltText: hasAlt && strings.TrimSpace(alt) != "",
			HasSrcset:  hasSrcset,
		})
	})

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			d.Paragraphs = append(d.Paragraphs, text)
		}
	})

	doc.Find("script[src], img[src], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		if isInsecure(s.AttrOr("src", "")) {
			d.InsecureResources++
		}
	})

	d.ListCount = doc.Find("ul, ol").Length()
	d.BulletItemCount = doc.Find("li").Length()
	d.TableCount = doc.Find("table").Length()
	d.DetailsCount = doc.Find("details").Length()
	if doc.Find("[itemscope]").Length() > 0 {
		d.HasStructuredData = true
	}
	if doc.Find("object, embed").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return flashEmbed.MatchString(s.AttrOr("type", "") + " " + s.AttrOr("data", "") + " " + s.AttrOr("src", ""))
	}).Length() > 0 {
		d.HasFlash = true
	}

	return d
}

func isInsecure(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "http://")
}

// H1Count returns the number of level-1 headings.
func (d *Document) H1Count() int {
	n := 0
	for _, h := range d.Headings {
		if h.Level == 1 {
			n++
		}
	}
	return n
}

// HeadingTexts returns heading texts in document order
func (d *Document) HeadingTexts() []string {
	out := make([]string, 0, len(d.Headings))
	for _, h := range d.Headings {
		out = append(out, h.Text)
	}
	return out
}

// ImagesWithAlt counts images carrying non-empty alt text
func (d *Document) ImagesWithAlt() int {
	n := 0
	for _, img := range d.Images {
		if img.HasAltText {
			n++
		}
	}
	return n
}

// SkipsHeadingLevel reports whether any heading jumps more than one level
// deeper than its predecessor (h2 followed by h4, for example).
func (d *Document) SkipsHeadingLevel() bool {
	prev := 0
	for _, h := range d.Headings {
		if prev != 0 && h.Level > prev+1 {
			return true
		}
		prev = h.Level
	}
	return false
}

// FirstParagraph returns the first non-empty paragraph, or "".
func (d *Document) FirstParagraph() string {
	if len(d.Paragraphs) == 0 {
		return ""
	}
	return d.Paragraphs[0]
}
