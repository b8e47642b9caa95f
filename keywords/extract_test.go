package keywords

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_FrequencyThreshold(t *testing.T) {
	res := New(nil, 0).Extract(Input{VisibleText: "the cat sat on the mat. the cat ran."})

	assert.Equal(t, []Record{{Keyword: "cat", Frequency: 2}}, res.Keywords)
	assert.Equal(t, 9, res.WordCount)
}

func TestExtract_PoolsAllFields(t *testing.T) {
	res := New(nil, 0).Extract(Input{
		Title:           "Gopher Guide",
		Headings:        []string{"Gopher basics", "Channels"},
		MetaDescription: "Channels explained",
		VisibleText:     "channels and goroutines. goroutines!",
	})

	assert.Equal(t, []Record{
		{Keyword: "channels", Frequency: 3},
		{Keyword: "gopher", Frequency: 2},
		{Keyword: "goroutines", Frequency: 2},
	}, res.Keywords)
}

func TestExtract_StableTieOrder(t *testing.T) {
	text := "zeta alpha zeta alpha mango mango"
	first := New(nil, 0).Extract(Input{VisibleText: text})
	second := New(nil, 0).Extract(Input{VisibleText: text})

	require.Equal(t, first, second)
	assert.Equal(t, []string{"zeta", "alpha", "mango"}, keywordsOf(first.Keywords))
}

func TestExtract_CapsAtTwenty(t *testing.T) {
	var b strings.Builder
	for i := range 30 {
		word := fmt.Sprintf("term%02d", i)
		fmt.Fprintf(&b, "%s %s ", word, word)
	}
	res := New(nil, 0).Extract(Input{VisibleText: b.String()})

	require.Len(t, res.Keywords, 20)
	assert.Equal(t, "term00", res.Keywords[0].Keyword)
	assert.Equal(t, "term19", res.Keywords[19].Keyword)
}

func TestExtract_BodyPrefixBound(t *testing.T) {
	body := "alpha alpha " + strings.Repeat("x", 100) + " omega omega"
	res := New(nil, 20).Extract(Input{VisibleText: body})

	assert.Equal(t, []string{"alpha"}, keywordsOf(res.Keywords))
}

func TestExtract_CustomStopWords(t *testing.T) {
	res := New([]string{"cat"}, 0).Extract(Input{VisibleText: "cat cat the the"})

	assert.Equal(t, []string{"the"}, keywordsOf(res.Keywords))
}

func TestExtract_UnicodeTokens(t *testing.T) {
	res := New(nil, 0).Extract(Input{VisibleText: "café, café; über-über"})

	assert.Equal(t, []Record{{Keyword: "café", Frequency: 2}, {Keyword: "über", Frequency: 2}}, res.Keywords)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "ca", truncateRunes("café", 2))
	assert.Equal(t, "caf", truncateRunes("café", 4), "does not split the two-byte rune")
}

func keywordsOf(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Keyword)
	}
	return out
}
