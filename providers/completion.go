package providers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// ExcerptChars bounds the page text sent to the completion capability.
const ExcerptChars = 3000

const maxCompletionLines = 7

// CannedRecommendations replace the model output when the completion
// capability fails.
var CannedRecommendations = []string{
	"Add a concise summary at the top of the page that answers the main question directly",
	"Structure key facts as bulleted lists or tables that are easy to quote",
	"Include an FAQ section with clear question and answer pairs",
	"Add structured data (JSON-LD) describing the page and its author",
	"Cite authoritative sources and keep statistics up to date",
}

const systemPrompt = "You are an SEO and generative-engine-optimization consultant. " +
	"Reply with at most 7 short, actionable recommendations, one per line, without preamble."

// RecommendationProvider turns page text into improvement suggestions.
type RecommendationProvider interface {
	Recommend(ctx context.Context, pageText string) ([]string, error)
}

// Completion calls an OpenAI-compatible chat-completions API.
type Completion struct {
	client     *openai.Client
	model      string
	configured bool
}

// NewCompletion returns a client. An empty endpoint selects the default
// OpenAI base URL.
func NewCompletion(apiKey, endpoint, model string, timeout time.Duration) *Completion {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = strings.TrimRight(endpoint, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Completion{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		configured: apiKey != "",
	}
}

// Recommend sends the first ExcerptChars of pageText and returns up to
// seven recommendation lines.
func (c *Completion) Recommend(ctx context.Context, pageText string) ([]string, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   600,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Analyze this page content and suggest improvements:\n\n" + Excerpt(pageText, ExcerptChars)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("completion: empty choices")
	}

	lines := ParseLines(resp.Choices[0].Message.Content, maxCompletionLines)
	if len(lines) == 0 {
		return nil, errors.New("completion: no recommendations in response")
	}
	return lines, nil
}

var listPrefix = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// ParseLines splits model output into trimmed, non-empty lines with list
// markers removed, keeping at most limit entries.
func ParseLines(content string, limit int) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		line = strings.Trim(line, "*")
		if line == "" {
			continue
		}
		out = append(out, strings.TrimSpace(line))
		if len(out) == limit {
			break
		}
	}
	return out
}

// Excerpt returns at most n bytes of s without splitting a rune.
func Excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
