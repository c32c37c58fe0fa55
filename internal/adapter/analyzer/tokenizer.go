package analyzer

import (
	"strings"
	"unicode"
)

// Words lowercases text and splits it on every rune that is not a letter or digit.
// Empty tokens are dropped; duplicates are kept.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// KeywordSet derives the lowercase query terms used for literal matching.
// Terms keep the order of their first occurrence.
func KeywordSet(query string, dropStopwords bool) []string {
	words := Words(query)
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))

	for _, word := range words {
		if dropStopwords && IsStopword(word) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		terms = append(terms, word)
	}

	return terms
}

// IsStopword reports whether word is a common English stopword.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

var stopwords = func() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}()
