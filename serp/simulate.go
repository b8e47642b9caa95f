// Package serp produces a synthetic search-results competitiveness profile.
// No search index is queried: every feature is an independent random draw,
// so results are demo data and must not feed measured scores.
package serp

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Features is the drawn feature-presence profile.
type Features struct {
	FeaturedSnippet bool `json:"featuredSnippet"`
	PeopleAlsoAsk   bool `json:"peopleAlsoAsk"`
	LocalPack       bool `json:"localPack"`
	ImagePack       bool `json:"imagePack"`
	VideoCarousel   bool `json:"videoCarousel"`
	KnowledgePanel  bool `json:"knowledgePanel"`
	ShoppingResults bool `json:"shoppingResults"`
	TopStories      bool `json:"topStories"`
	AdsCount        int  `json:"adsCount"`
}

// Present counts the features that were drawn as present.
func (f Features) Present() int {
	n := 0
	for _, b := range []bool{
		f.FeaturedSnippet, f.PeopleAlsoAsk, f.LocalPack, f.ImagePack,
		f.VideoCarousel, f.KnowledgePanel, f.ShoppingResults, f.TopStories,
	} {
		if b {
			n++
		}
	}
	return n
}

// Report is the simulator output. Simulated is always true.
type Report struct {
	Keyword          string   `json:"keyword"`
	Location         string   `json:"location"`
	Simulated        bool     `json:"simulated"`
	Features         Features `json:"features"`
	CompetitionScore int      `json:"competitionScore"`
	CompetitionLevel string   `json:"competitionLevel"`
	Opportunity      string   `json:"opportunity"`
	Strategy         string   `json:"strategy"`
	Pivots           []string `json:"pivots"`
	Timestamp        string   `json:"timestamp"`
}

const DefaultLocation = "United States"

// Simulator draws feature profiles. It is safe for concurrent use.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSimulator returns a Simulator seeded from the runtime source.
func NewSimulator() *Simulator {
	return NewSimulatorWithRand(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// NewSimulatorWithRand uses rng for every draw.
func NewSimulatorWithRand(rng *rand.Rand) *Simulator {
	return &Simulator{rng: rng, now: time.Now}
}

// Simulate draws a profile for keyword and grades it.
func (s *Simulator) Simulate(keyword, location string) Report {
	location = strings.TrimSpace(location)
	if location == "" {
		location = DefaultLocation
	}

	f := s.draw()
	score := Score(f)
	level, opportunity, strategy := Tier(score)

	return Report{
		Keyword:          strings.TrimSpace(keyword),
		Location:         location,
		Simulated:        true,
		Features:         f,
		CompetitionScore: score,
		CompetitionLevel: level,
		Opportunity:      opportunity,
		Strategy:         strategy,
		Pivots:           Pivots(f),
		Timestamp:        s.now().UTC().Format(time.RFC3339),
	}
}

func (s *Simulator) draw() Features {
	s.mu.Lock()
	defer s.mu.Unlock()

	coin := func(p float64) bool { return s.rng.Float64() < p }
	return Features{
		FeaturedSnippet: coin(0.4),
		PeopleAlsoAsk:   coin(0.6),
		LocalPack:       coin(0.3),
		ImagePack:       coin(0.4),
		VideoCarousel:   coin(0.3),
		KnowledgePanel:  coin(0.2),
		ShoppingResults: coin(0.25),
		TopStories:      coin(0.2),
		AdsCount:        s.rng.IntN(5),
	}
}

// Score weights the present-feature count by the ads multiplier, clamped
// to 100.
func Score(f Features) int {
	raw := float64(f.Present()*12) * (1 + 0.15*float64(f.AdsCount))
	return min(100, int(math.Round(raw)))
}

// Tier maps a competition score to its label, opportunity and strategy.
func Tier(score int) (level, opportunity, strategy string) {
	switch {
	case score < 25:
		return "Clean", "High", "Target this keyword directly with a comprehensive, well-structured page"
	case score < 50:
		return "Moderate", "Medium", "Compete with in-depth content and win the featured results the page lacks"
	case score < 75:
		return "Crowded", "Low", "Focus on long-tail variations and a specific search intent"
	default:
		return "Very Crowded", "Very Low", "Pivot to niche sub-topics or question-based keywords"
	}
}

// Pivots suggests angles based on which features are present.
func Pivots(f Features) []string {
	pivots := []string{}
	if f.FeaturedSnippet {
		pivots = append(pivots, "Format a concise definition or step list to compete for the featured snippet")
	}
	if f.PeopleAlsoAsk {
		pivots = append(pivots, "Answer related People Also Ask questions in an FAQ section")
	}
	if f.LocalPack {
		pivots = append(pivots, "Optimize your Google Business Profile and add location-specific pages")
	}
	if f.ImagePack {
		pivots = append(pivots, "Publish original images with descriptive file names and alt text")
	}
	if f.VideoCarousel {
		pivots = append(pivots, "Create a short video answering the query and embed it on the page")
	}
	if f.KnowledgePanel {
		pivots = append(pivots, "Strengthen entity signals with Organization structured data")
	}
	if f.ShoppingResults {
		pivots = append(pivots, "Add Product structured data and submit a merchant feed")
	}
	if f.TopStories {
		pivots = append(pivots, "Publish timely news-style coverage on the topic")
	}
	if f.AdsCount >= 3 {
		pivots = append(pivots, "Heavy ad competition signals commercial intent; target informational variants instead")
	}
	if len(pivots) == 0 {
		pivots = append(pivots, "Few SERP features are present; a strong organic page can rank directly")
	}
	return pivots
}
