// Package textnorm normalizes free-text item descriptions into grouping keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultStopWords are tokens dropped from every description. They are
// prepositions, articles and unit abbreviations common in tender item text.
var DefaultStopWords = []string{
	"de", "da", "do", "para", "em", "kg", "und", "un", "ml", "lt",
	"l", "e", "a", "o", "as", "os", "um", "uma",
}

// Normalizer turns descriptions into normalized grouping keys.
// A Normalizer is safe for concurrent use.
type Normalizer struct {
	stop map[string]struct{}
}

// New creates a Normalizer with the default stop-words plus extra.
func New(extra ...string) *Normalizer {
	stop := make(map[string]struct{}, len(DefaultStopWords)+len(extra))
	for _, w := range DefaultStopWords {
		stop[w] = struct{}{}
	}
	for _, w := range extra {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			stop[w] = struct{}{}
		}
	}
	return &Normalizer{stop: stop}
}

var defaultNormalizer = New()

// Normalize applies the default normalizer to s.
func Normalize(s string) string {
	return defaultNormalizer.Normalize(s)
}

// Normalize lowercases s, strips diacritics, replaces everything outside
// [a-z0-9] with spaces and drops stop-words and single-character tokens.
func (n *Normalizer) Normalize(s string) string {
	s = StripDiacritics(strings.ToLower(s))

	mapped := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, s)

	tokens := strings.Fields(mapped)
	kept := tokens[:0]
	for _, tok := range tokens {
		if len(tok) <= 1 {
			continue
		}
		if _, ok := n.stop[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// IsStopWord reports whether token would be dropped by Normalize.
func (n *Normalizer) IsStopWord(token string) bool {
	_, ok := n.stop[token]
	return ok
}

// StripDiacritics removes combining marks: "Ação" becomes "Acao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slug turns a column header into a lowercase snake_case identifier
// without accents, e.g. "Nº Lote" becomes "n_lote".
func Slug(header string) string {
	s := StripDiacritics(strings.TrimSpace(header))
	var b strings.Builder
	b.Grow(len(s))
	underscore := false
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
