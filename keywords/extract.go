package keywords

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Record is one ranked keyword
type Record struct {
	Keyword   string `json:"keyword"`
	Frequency int    `json:"frequency"`
}

// Input holds the text fields that are pooled before counting.
type Input struct {
	Title           string
	Headings        []string
	MetaDescription string
	VisibleText     string
}

// Result is the extractor output
type Result struct {
	Keywords  []Record `json:"keywords"`
	WordCount int      `json:"wordCount"`
}

// Extractor ranks page terms by frequency
type Extractor struct {
	stopWords map[string]struct{}
	bodyChars int
	limit     int
}

const defaultLimit = 20

// New returns an Extractor. A nil stop-word list selects DefaultStopWords;
// bodyChars bounds how much visible text is counted (0 means unbounded).
func New(stopWords []string, bodyChars int) *Extractor {
	if stopWords == nil {
		stopWords = DefaultStopWords
	}
	return &Extractor{
		stopWords: StopWordSet(stopWords),
		bodyChars: bodyChars,
		limit:     defaultLimit,
	}
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Extract pools title, headings, meta description and a bounded prefix of
// the body text, then keeps tokens longer than two characters that are not
// stop words and occur more than once. Output is ordered by frequency with
// ties in first-occurrence order, capped at 20 entries.
func (e *Extractor) Extract(in Input) Result {
	body := in.VisibleText
	if e.bodyChars > 0 && len(body) > e.bodyChars {
		body = truncateRunes(body, e.bodyChars)
	}

	parts := make([]string, 0, len(in.Headings)+3)
	parts = append(parts, in.Title)
	parts = append(parts, in.Headings...)
	parts = append(parts, in.MetaDescription, body)
	pooled := nonWord.ReplaceAllString(strings.ToLower(strings.Join(parts, " ")), " ")

	counts := make(map[string]int)
	var order []string
	for _, tok := range strings.Fields(pooled) {
		if utf8.RuneCountInString(tok) <= 2 {
			continue
		}
		if _, stop := e.stopWords[tok]; stop {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	records := make([]Record, 0, len(order))
	for _, tok := range order {
		if counts[tok] > 1 {
			records = append(records, Record{Keyword: tok, Frequency: counts[tok]})
		}
	}
	slices.SortStableFunc(records, func(a, b Record) int {
		return b.Frequency - a.Frequency
	})
	if len(records) > e.limit {
		records = records[:e.limit]
	}

	return Result{
		Keywords:  records,
		WordCount: len(strings.Fields(in.VisibleText)),
	}
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
