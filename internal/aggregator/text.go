package aggregator

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// EmptySummary replaces a summary with no content.
const EmptySummary = "No content available for summarization."

var wordPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9]{2,}\b`)

// stopWords are excluded from keywords.
var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"is", "are", "was", "were", "be", "been", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "may", "might", "can", "this", "that", "these", "those",
	"it", "its", "they", "them", "their", "we", "us", "our", "you", "your", "he", "him", "his",
	"she", "her", "i", "me", "my", "from", "up", "about", "into", "through", "during", "before",
	"after", "above", "below", "between", "among", "within", "without", "against", "toward",
	"towards", "upon", "across", "behind", "beyond", "under", "over", "around", "near", "far",
	"here", "there", "where", "when", "while", "until", "since", "because", "if", "unless",
	"although", "though", "however", "therefore", "thus", "hence", "moreover", "furthermore",
	"nevertheless", "nonetheless", "meanwhile", "otherwise", "instead", "rather", "quite",
	"very", "more", "most", "less", "least", "much", "many", "few", "several", "some", "any",
	"all", "both", "each", "every", "either", "neither", "one", "two", "three", "first",
	"second", "third", "last", "next", "previous", "new", "old", "good", "bad", "big", "small",
	"long", "short", "high", "low", "right", "left", "same", "different", "other", "another",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Summarize collapses whitespace in text and truncates it to at most limit
// characters at a word boundary. A first word longer than limit is cut.
func Summarize(text string, limit int) string {
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return EmptySummary
	}
	if utf8.RuneCountInString(clean) <= limit {
		return clean
	}

	runes := []rune(clean)
	if runes[limit] == ' ' {
		return string(runes[:limit])
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			return string(cut[:i])
		}
	}
	return string(cut)
}

// TruncateTitle cuts title to at most limit characters, never splitting a rune.
func TruncateTitle(title string, limit int) string {
	if utf8.RuneCountInString(title) <= limit {
		return title
	}
	return strings.TrimSpace(string([]rune(title)[:limit]))
}

// Keywords returns up to limit lower-cased tokens of title and text, most
// frequent first. Ties keep first-occurrence order.
func Keywords(title, text string, limit int) []string {
	tokens := wordPattern.FindAllString(strings.ToLower(title+" "+text), -1)

	counts := make(map[string]int)
	var order []string
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	return order
}
