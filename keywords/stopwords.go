package keywords

// DefaultStopWords is the unified stop-word table. Tokens of two characters
// or fewer are dropped regardless, so short words are not listed.
var DefaultStopWords = []string{
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can",
	"had", "her", "was", "one", "our", "out", "day", "get", "has", "him",
	"his", "how", "man", "new", "now", "old", "see", "two", "way", "who",
	"boy", "did", "its", "let", "put", "say", "she", "too", "use", "with",
	"this", "that", "from", "they", "have", "will", "your", "what", "when",
	"where", "which", "their", "there", "these", "those", "then", "than",
	"them", "been", "were", "would", "could", "should", "about", "into",
	"more", "most", "some", "such", "only", "other", "also", "just", "very",
	"over", "after", "before", "because", "while", "each", "both", "here",
	"does", "doing", "being", "having", "under", "again", "further", "once",
	"same", "own", "off", "why", "may", "might", "must", "shall", "upon",
	"between", "through", "during", "above", "below", "until", "against",
	"nor", "yet", "per", "via", "etc", "like", "many", "much", "well",
}

// StopWordSet builds a lookup set from a list.
func StopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
