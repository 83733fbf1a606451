package service

import (
	"sort"
	"strings"

	"github.com/boddenberg/suraksha-advisor-go/internal/chat/domain"
	"github.com/boddenberg/suraksha-advisor-go/internal/chat/locale"
	maindomain "github.com/boddenberg/suraksha-advisor-go/internal/domain"
)

// ============================================================
// Matcher — survey answers to catalog categories
// ============================================================

// Matcher applies the rule table from the locale bundle. A rule fires when
// the answer stored for its step contains one of its keywords.
type Matcher struct {
	rules    []locale.MatchRule
	fallback []string
}

// NewMatcher builds a matcher over the table.
func NewMatcher(m locale.Matching) *Matcher {
	rules := make([]locale.MatchRule, len(m.Rules))
	for i, r := range m.Rules {
		kws := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kws[j] = strings.ToLower(k)
		}
		rules[i] = locale.MatchRule{Step: r.Step, Keywords: kws, Categories: r.Categories}
	}
	return &Matcher{rules: rules, fallback: m.Default}
}

// Categories derives the sorted category set for the answers. It is never
// empty: when no rule fires the default set is returned.
func (m *Matcher) Categories(answers []domain.Answer) []string {
	state := domain.SurveyState{Answers: answers}
	set := make(map[string]bool)

	for _, r := range m.rules {
		text, ok := state.Lookup(r.Step)
		if !ok {
			continue
		}
		text = strings.ToLower(text)
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				for _, c := range r.Categories {
					set[c] = true
				}
				break
			}
		}
	}

	if len(set) == 0 {
		for _, c := range m.fallback {
			set[c] = true
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Filter keeps active items whose category is in categories. When nothing
// matches, the full active catalog is returned instead.
func (m *Matcher) Filter(catalog []maindomain.CatalogItem, categories []string) []maindomain.CatalogItem {
	active := maindomain.ActiveOnly(catalog)

	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[strings.ToUpper(c)] = true
	}

	matched := make([]maindomain.CatalogItem, 0, len(active))
	for _, it := range active {
		if want[strings.ToUpper(it.Category)] {
			matched = append(matched, it)
		}
	}
	if len(matched) == 0 {
		return active
	}
	return matched
}
