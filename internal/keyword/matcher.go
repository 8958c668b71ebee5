// Package keyword decides which discovered articles are worth archiving.
package keyword

import (
	"strings"

	"github.com/JakeFAU/wayback-news-archiver/internal/title"
)

// Logic combines per-term hits.
type Logic string

// Supported combination modes.
const (
	LogicOr  Logic = "or"
	LogicAnd Logic = "and"
)

// Matcher tests text for configured terms using normalized substring containment.
type Matcher struct {
	terms         []string
	normalized    []string
	caseSensitive bool
	logic         Logic
}

// NewMatcher prepares terms once. Blank terms are ignored, and terms that
// normalize to one already seen are dropped so AND stays satisfiable.
func NewMatcher(terms []string, caseSensitive bool, logic Logic) *Matcher {
	m := &Matcher{caseSensitive: caseSensitive, logic: logic}
	if m.logic != LogicAnd {
		m.logic = LogicOr
	}
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		n := normalize(term, caseSensitive)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		m.terms = append(m.terms, term)
		m.normalized = append(m.normalized, n)
	}
	return m
}

// Terms returns the configured non-blank terms.
func (m *Matcher) Terms() []string {
	return append([]string(nil), m.terms...)
}

// Match returns every term found in text, in configuration order.
func (m *Matcher) Match(text string) []string {
	haystack := normalize(text, m.caseSensitive)
	if haystack == "" {
		return nil
	}
	var hits []string
	for i, needle := range m.normalized {
		if strings.Contains(haystack, needle) {
			hits = append(hits, m.terms[i])
		}
	}
	return hits
}

// Satisfied reports whether hits meet the matcher's logic.
func (m *Matcher) Satisfied(hits []string) bool {
	if len(m.terms) == 0 {
		return false
	}
	if m.logic == LogicAnd {
		seen := make(map[string]struct{}, len(hits))
		for _, h := range hits {
			seen[h] = struct{}{}
		}
		return len(seen) == len(m.terms)
	}
	return len(hits) > 0
}

// Union merges b into a without duplicates, keeping configuration order.
func (m *Matcher) Union(a, b []string) []string {
	in := make(map[string]struct{}, len(a)+len(b))
	for _, h := range a {
		in[h] = struct{}{}
	}
	for _, h := range b {
		in[h] = struct{}{}
	}
	out := make([]string, 0, len(in))
	for _, term := range m.terms {
		if _, ok := in[term]; ok {
			out = append(out, term)
			delete(in, term)
		}
	}
	return out
}

func normalize(s string, caseSensitive bool) string {
	s = title.Clean(s)
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}
