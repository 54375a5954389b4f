// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"
	"strings"
	"unicode"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/registry"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "need": {}, "want": {}, "some": {},
	"can": {}, "you": {}, "please": {}, "find": {}, "buy": {}, "get": {}, "from": {},
	"that": {}, "this": {}, "have": {}, "are": {}, "who": {}, "any": {}, "one": {},
}

// KeywordMatcher classifies by word overlap between the request and each
// category's name and description. It needs no external service.
type KeywordMatcher struct{}

// NewKeywordMatcher returns a KeywordMatcher.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{}
}

// Categories implements Matcher.
func (KeywordMatcher) Categories(_ context.Context, text string, table []registry.Category) ([]string, error) {
	words := tokens(text)
	if len(words) == 0 {
		return nil, nil
	}
	var out []string
	for _, c := range table {
		if overlaps(words, tokens(c.Name+" "+c.Description)) {
			out = append(out, c.Name)
		}
	}
	return out, nil
}

// Match implements Matcher. Every candidate already passed the category
// filter, so all of them are picked.
func (KeywordMatcher) Match(_ context.Context, _ string, candidates []registry.Record) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{Message: "no active agent in the requested categories"}, nil
	}
	picks := make([]identity.Node, len(candidates))
	for i, c := range candidates {
		picks[i] = c.Identity
	}
	return Outcome{Found: true, Picks: picks}, nil
}

func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[stem(f)] = struct{}{}
	}
	return out
}

func stem(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "es") && len(w) > 4 && strings.ContainsAny(w[len(w)-3:len(w)-2], "sxz"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	}
	return w
}

func overlaps(a, b map[string]struct{}) bool {
	for w := range a {
		if _, ok := b[w]; ok {
			return true
		}
	}
	return false
}
