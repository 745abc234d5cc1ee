// Package locator resolves elements against unstable markup via ordered
// fallback strategies. Strategies are data, not code: platforms add new
// fallback patterns without touching the resolution flow.
package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy is one query descriptor. Selector is a CSS selector;
// the optional Attr constraints narrow the match to elements whose
// attribute exists and, when AttrContains is set, contains the
// substring.
type Strategy struct {
	Name         string
	Selector     string
	Attr         string
	AttrContains string
	// AttrExcludes drops elements whose Attr value contains the
	// substring (e.g. avatar images).
	AttrExcludes string
}

// matches applies the attribute constraints to a selection.
func (s Strategy) matches(sel *goquery.Selection) *goquery.Selection {
	if s.Attr == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
		val, ok := el.Attr(s.Attr)
		if !ok {
			return false
		}
		if s.AttrContains != "" && !strings.Contains(val, s.AttrContains) {
			return false
		}
		if s.AttrExcludes != "" && strings.Contains(strings.ToLower(val), strings.ToLower(s.AttrExcludes)) {
			return false
		}
		return true
	})
}

// Resolve tries each strategy in order against the scope and returns the
// matches of the first one that yields at least one element, together
// with the winning strategy. No strategy matching is not an error; the
// returned selection is empty and callers decide whether that matters.
func Resolve(scope *goquery.Selection, strategies []Strategy) (*goquery.Selection, Strategy) {
	for _, s := range strategies {
		found := s.matches(scope.Find(s.Selector))
		if found.Length() > 0 {
			return found, s
		}
	}
	return scope.Slice(0, 0), Strategy{}
}

// ResolveFirst returns the first element matched by the first successful
// strategy, or an empty selection.
func ResolveFirst(scope *goquery.Selection, strategies []Strategy) *goquery.Selection {
	found, _ := Resolve(scope, strategies)
	if found.Length() > 0 {
		return found.First()
	}
	return found
}
