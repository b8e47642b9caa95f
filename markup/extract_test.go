package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>  Guide to   Go  </title>
  <meta name="description" content="Learn Go quickly.">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <meta name="robots" content="INDEX, FOLLOW">
  <meta property="og:title" content="Guide">
  <meta property="og:type" content="article">
  <meta name="twitter:card" content="summary">
  <link rel="canonical" href="https://example.com/guide">
  <link rel="stylesheet" href="http://cdn.example.com/site.css">
  <style>body { color: red } @media (max-width: 600px) { body { color: blue } }</style>
  <script type="application/ld+json">{"@context":"https://schema.org","@type":"FAQPage"}</script>
  <script>var secret = "keyword keyword keyword";</script>
</head>
<body>
  <h1>What is Go?</h1>
  <p>Go is a language.</p>
  <p></p>
  <h2>Install</h2>
  <h4>Skipped level</h4>
  <ul><li>one</li><li>two</li></ul>
  <ol><li>three</li></ol>
  <table><tr><td>x</td></tr></table>
  <details><summary>More</summary>Hidden</details>
  <img src="a.png" alt="A">
  <img src="http://insecure.example.com/b.png" alt="  ">
  <img src="c.png" srcset="c2.png 2x">
  <!-- a comment with words -->
</body>
</html>`

func TestExtract(t *testing.T) {
	d := Extract(samplePage)

	assert.Equal(t, "Guide to Go", d.Title)
	assert.Equal(t, "Learn Go quickly.", d.MetaDescription)
	assert.Equal(t, "index, follow", d.MetaRobots)
	assert.Equal(t, "en", d.Lang)
	assert.True(t, d.HasDoctype)
	assert.True(t, d.HasViewport)
	assert.True(t, d.HasCanonical)
	assert.True(t, d.HasTwitterCard)
	assert.True(t, d.HasStructuredData)
	assert.True(t, d.HasSchemaOrgMarker)
	assert.True(t, d.HasFAQSchema)
	assert.True(t, d.HasMediaQueries)
	assert.False(t, d.HasFlash)
	assert.Equal(t, 2, d.OGTagCount)

	assert.Equal(t, []Heading{
		{Level: 1, Text: "What is Go?"},
		{Level: 2, Text: "Install"},
		{Level: 4, Text: "Skipped level"},
	}, d.Headings)
	assert.Equal(t, 1, d.H1Count())
	assert.True(t, d.SkipsHeadingLevel())

	assert.Equal(t, []string{"Go is a language."}, d.Paragraphs)
	assert.Equal(t, "Go is a language.", d.FirstParagraph())
	assert.Equal(t, 2, d.ListCount)
	assert.Equal(t, 3, d.BulletItemCount)
	assert.Equal(t, 1, d.TableCount)
	assert.Equal(t, 1, d.DetailsCount)

	assert.Len(t, d.Images, 3)
	assert.Equal(t, 1, d.ImagesWithAlt())
	assert.True(t, d.Images[2].HasSrcset)
	assert.Equal(t, 2, d.InsecureResources)
}

func TestVisibleText_RemovesScriptsBeforeTags(t *testing.T) {
	raw := `<p>Hello</p><SCRIPT type="x">if (a < b) { keyword() }</SCRIPT><style>.x{}</style>
	<div>World&amp;co</div><!-- hidden -->`

	assert.Equal(t, "Hello World&co", VisibleText(raw))
}

func TestExtract_Flash(t *testing.T) {
	d := Extract(`<html><body><object data="movie.swf"></object></body></html>`)
	assert.True(t, d.HasFlash)
}

func TestExtract_Empty(t *testing.T) {
	d := Extract("")
	assert.Empty(t, d.Title)
	assert.Zero(t, d.WordCount)
	assert.Empty(t, d.Headings)
	assert.Equal(t, "", d.FirstParagraph())
	assert.False(t, d.SkipsHeadingLevel())
}

func TestExtract_ScenarioPage(t *testing.T) {
	d := Extract(`<html><head><title>Test</title></head><body><h1>Hi</h1><a href="/a">A</a><a href="#x">X</a></body></html>`)
	assert.Equal(t, "Test", d.Title)
	assert.Equal(t, 1, d.H1Count())
	assert.Equal(t, "Test Hi A X", d.VisibleText)
	assert.Equal(t, 4, d.WordCount)
}
