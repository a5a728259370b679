// Package text provides the tokenizer and the small normalizers shared by
// the scorers and the router.
package text

import (
	"regexp"
	"strings"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

var baseStopwords = []string{
	"the", "and", "or", "to", "a", "an", "of", "in", "for", "with",
	"is", "are", "be", "it", "this", "that", "my", "your", "from",
	"on", "by", "as", "at", "like", "i", "me", "you", "we", "our",
}

// Request phrasing that carries no topical signal when matching a request
// against candidate titles.
var requestVerbs = []string{
	"want", "need", "lets", "let", "take", "make", "build", "implement", "create", "please",
}

// Tokenizer splits text into lowercase alphanumeric tokens, dropping stopwords
type Tokenizer struct {
	stop map[string]struct{}
}

// NewTokenizer creates a tokenizer with the given stopword lists
func NewTokenizer(stopwords ...[]string) *Tokenizer {
	t := &Tokenizer{stop: make(map[string]struct{})}
	for _, list := range stopwords {
		for _, w := range list {
			t.stop[w] = struct{}{}
		}
	}
	return t
}

var (
	// Scoring keeps verbs since they carry signal when ranking candidates.
	Scoring = NewTokenizer(baseStopwords)
	// Requests also drops request verbs like build/want/need.
	Requests = NewTokenizer(baseStopwords, requestVerbs)
)

// Tokenize returns tokens in the order they appear. Duplicates are kept.
func (t *Tokenizer) Tokenize(s string) []string {
	var out []string
	for _, tok := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		if _, ok := t.stop[tok]; ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// IsStopword reports whether w is dropped by this tokenizer
func (t *Tokenizer) IsStopword(w string) bool {
	_, ok := t.stop[strings.ToLower(w)]
	return ok
}

// TokenSet returns the distinct tokens of s
func (t *Tokenizer) TokenSet(s string) map[string]struct{} {
	return Set(t.Tokenize(s))
}

// Set builds a set from a token slice
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Intersect returns the members of a that are also in b, in a's token order
func Intersect(order []string, b map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range order {
		if _, ok := b[tok]; !ok {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
