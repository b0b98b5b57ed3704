package index

import (
	"strings"
	"time"
	"unicode"
)

// KeywordHit is one full-text match. Score is raw relevance, higher is better;
// callers normalize it.
type KeywordHit struct {
	Path       string
	Title      string
	Notebook   string
	Snippet    string
	Score      float64
	ModifiedAt time.Time
}

// queryTerms lowercases the query and splits it into plain word terms.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '#'
	})
	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.Trim(f, "-#")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// snippetAround returns up to width runes of body centred on the first term hit.
func snippetAround(body string, terms []string, width int) string {
	lower := strings.ToLower(body)
	at := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	runes := []rune(body)
	if at < 0 {
		at = 0
	} else {
		at = len([]rune(body[:at]))
	}
	start := max(at-width/2, 0)
	end := min(start+width, len(runes))
	s := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		s = "..." + s
	}
	if end < len(runes) {
		s += "..."
	}
	return s
}
