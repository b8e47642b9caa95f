// Package geo rates how readily generative answer engines can quote or
// summarize a page.
package geo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chrisbze/molaison-ai-backend/markup"
)

// Factor budgets. They sum to 100.
const (
	maxDirectAnswers     = 25
	maxStructuredContent = 20
	maxFAQSections       = 20
	maxComprehensiveness = 15
	maxReadability       = 10
	maxQuestionFormat    = 10

	maxRecommendations = 8
)

// Factors are the six GEO factor scores.
type Factors struct {
	DirectAnswers     int `json:"directAnswers"`
	StructuredContent int `json:"structuredContent"`
	FAQSections       int `json:"faqSections"`
	Comprehensiveness int `json:"comprehensiveness"`
	Readability       int `json:"readability"`
	QuestionFormat    int `json:"questionFormat"`
}

// Total is the sum of the six factors.
func (f Factors) Total() int {
	return f.DirectAnswers + f.StructuredContent + f.FAQSections + f.Comprehensiveness + f.Readability + f.QuestionFormat
}

// Report is the GEO scorer output.
type Report struct {
	Score           int      `json:"score"`
	FactorScores    Factors  `json:"factorScores"`
	Recommendations []string `json:"recommendations"`
	Insights        []string `json:"insights"`
	Error           string   `json:"error,omitempty"`
}

var (
	answerIndicator = regexp.MustCompile(`(?i)\b(is|are|means|refers to|defined as|involves|consists of|in short|simply put|the answer)\b`)
	questionWord    = regexp.MustCompile(`(?i)^\s*(what|why|how|when|where|who|which|can|does|do|is|are|should|will)\b`)
	faqMarker       = regexp.MustCompile(`(?i)\bfaqs?\b|frequently\s+asked`)
	qaMarker        = regexp.MustCompile(`(?i)(^|[\s>])(q:|question:)`)
)

// Degraded is the report used when the page could not be fetched.
func Degraded(reason string) Report {
	return Report{
		Recommendations: []string{"Make the page reachable so its content can be evaluated for AI answer engines"},
		Insights:        []string{"GEO analysis unavailable: " + reason},
		Error:           reason,
	}
}

// ScoreMarkup extracts raw and scores it.
func ScoreMarkup(raw, topic string) Report {
	return Score(markup.Extract(raw), topic)
}

// Score rates an already extracted document
func Score(doc *markup.Document, topic string) Report {
	questions := questionHeadings(doc)
	f := Factors{
		DirectAnswers:     directAnswers(doc.FirstParagraph()),
		StructuredContent: structuredContent(doc),
		FAQSections:       faqSections(doc, questions),
		Comprehensiveness: comprehensiveness(doc.WordCount),
		Readability:       readability(len(doc.Headings), len(doc.Paragraphs)),
		QuestionFormat:    questionFormat(questions),
	}

	return Report{
		Score:           f.Total(),
		FactorScores:    f,
		Recommendations: recommendations(f, doc, topic),
		Insights:        insights(f),
	}
}

func directAnswers(first string) int {
	words := len(strings.Fields(first))
	switch {
	case words >= 10 && words <= 80 && answerIndicator.MatchString(first):
		return maxDirectAnswers
	case words >= 10:
		return 15
	default:
		return 0
	}
}

func structuredContent(doc *markup.Document) int {
	blocks := doc.ListCount + doc.TableCount
	switch {
	case blocks >= 2 || doc.BulletItemCount >= 5:
		return maxStructuredContent
	case blocks >= 1:
		return 10
	default:
		return 0
	}
}

// faqSections only reads visible text, so FAQ links, class names and
// scripts do not count as an FAQ section.
func faqSections(doc *markup.Document, questions int) int {
	score := 0
	if faqMarker.MatchString(doc.VisibleText) {
		score += 10
	}
	if doc.HasFAQSchema || qaMarker.MatchString(doc.VisibleText) {
		score += 5
	}
	if doc.DetailsCount > 0 || questions >= 2 {
		score += 5
	}
	return min(score, maxFAQSections)
}

func comprehensiveness(words int) int {
	switch {
	case words > 1000:
		return maxComprehensiveness
	case words > 500:
		return 10
	case words > 200:
		return 5
	default:
		return 0
	}
}

func readability(headings, paragraphs int) int {
	switch {
	case headings >= 3 && paragraphs >= 3:
		return maxReadability
	case headings >= 1 && paragraphs >= 1:
		return 5
	default:
		return 0
	}
}

func questionFormat(questions int) int {
	switch {
	case questions >= 3:
		return maxQuestionFormat
	case questions >= 1:
		return 5
	default:
		return 0
	}
}

func questionHeadings(doc *markup.Document) int {
	n := 0
	for _, h := range doc.Headings {
		if strings.Contains(h.Text, "?") || questionWord.MatchString(h.Text) {
			n++
		}
	}
	return n
}

func recommendations(f Factors, doc *markup.Document, topic string) []string {
	var recs []string
	if f.DirectAnswers < maxDirectAnswers {
		recs = append(recs, "Open with a concise 40-60 word answer that directly addresses the main question")
	}
	if f.StructuredContent < maxStructuredContent {
		recs = append(recs, "Break key information into bulleted lists, numbered steps or comparison tables")
	}
	if f.FAQSections < maxFAQSections {
		recs = append(recs, "Add an FAQ section covering the questions users ask about this topic")
		if !doc.HasFAQSchema {
			recs = append(recs, "Mark up question and answer pairs with FAQPage structured data")
		}
	}
	if f.Comprehensiveness < maxComprehensiveness {
		recs = append(recs, fmt.Sprintf("Expand the content beyond %d words to cover the topic in depth", doc.WordCount))
	}
	if f.Readability < maxReadability {
		recs = append(recs, "Organize the content under at least three descriptive headings with short paragraphs")
	}
	if f.QuestionFormat < maxQuestionFormat {
		recs = append(recs, "Phrase some headings as the questions your audience searches for")
	}
	if !doc.HasStructuredData {
		recs = append(recs, "Add JSON-LD structured data so AI systems can identify the page entities")
	}

	limit := maxRecommendations
	topic = strings.TrimSpace(topic)
	if topic != "" {
		limit--
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}
	if topic != "" {
		recs = append(recs, fmt.Sprintf("Create authoritative content that answers the most common questions about %q", topic))
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

func tier(score, budget int) string {
	switch {
	case score >= budget:
		return "strong"
	case score > 0:
		return "partial"
	default:
		return "absent"
	}
}

func insights(f Factors) []string {
	return []string{
		fmt.Sprintf("Direct answers: %s (%d/%d)", tier(f.DirectAnswers, maxDirectAnswers), f.DirectAnswers, maxDirectAnswers),
		fmt.Sprintf("Structured content: %s (%d/%d)", tier(f.StructuredContent, maxStructuredContent), f.StructuredContent, maxStructuredContent),
		fmt.Sprintf("FAQ sections: %s (%d/%d)", tier(f.FAQSections, maxFAQSections), f.FAQSections, maxFAQSections),
		fmt.Sprintf("Comprehensiveness: %s (%d/%d)", tier(f.Comprehensiveness, maxComprehensiveness), f.Comprehensiveness, maxComprehensiveness),
	}
}
