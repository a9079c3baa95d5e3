// Package recipe loads de-identification rule tables and resolves the rule
// that applies to a DICOM field.
package recipe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Rule maps a tag pattern to an action.
type Rule struct {
	Pattern Pattern
	Action  Action
	// Param is the constant for REPLACE. It may contain {pseudonym}.
	Param string
	// Name is a free-form label, usually the DICOM keyword.
	Name string
	// Line is the source line, 0 for rules built in code.
	Line int
}

// Entry is one unparsed row of a recipe table.
type Entry struct {
	Tag    string `yaml:"tag"`
	Action string `yaml:"action"`
	Value  string `yaml:"value,omitempty"`
	Name   string `yaml:"name,omitempty"`
	Line   int    `yaml:"-"`
}

// Recipe is an immutable, ordered rule set. It is safe for concurrent use.
type Recipe struct {
	source   string
	rules    []Rule
	exact    map[tag.Tag]Rule
	ranked   []Rule
	fallback *Rule
}

// Build validates entries and compiles them into a Recipe.
func Build(source string, entries []Entry) (*Recipe, error) {
	r := &Recipe{
		source: source,
		exact:  make(map[tag.Tag]Rule),
	}
	seen := make(map[Pattern]Rule)

	for _, e := range entries {
		p, err := ParsePattern(e.Tag)
		if err != nil {
			return nil, &FormatError{Source: source, Line: e.Line, Msg: err.Error()}
		}
		a, err := ParseAction(e.Action)
		if err != nil {
			return nil, &FormatError{Source: source, Line: e.Line, Msg: err.Error()}
		}
		param := strings.TrimSpace(e.Value)
		if a == ActionReplace && param == "" {
			return nil, &FormatError{Source: source, Line: e.Line, Msg: fmt.Sprintf("REPLACE for %s needs a value", p)}
		}

		rule := Rule{Pattern: p, Action: a, Param: param, Name: strings.TrimSpace(e.Name), Line: e.Line}
		if prev, dup := seen[p]; dup {
			if prev.Action != rule.Action || prev.Param != rule.Param {
				return nil, &FormatError{
					Source: source,
					Line:   e.Line,
					Msg: fmt.Sprintf("pattern %s maps to %s here and to %s on line %d",
						p, rule.Action, prev.Action, prev.Line),
				}
			}
			continue
		}
		seen[p] = rule
		r.rules = append(r.rules, rule)

		switch p.Kind() {
		case KindExact:
			r.exact[tag.Tag{Group: p.GroupLo, Element: p.ElementLo}] = rule
		case KindCatchAll:
			fb := rule
			r.fallback = &fb
		default:
			r.ranked = append(r.ranked, rule)
		}
	}

	// Stable keeps recipe order as the last tie-breaker.
	sort.SliceStable(r.ranked, func(i, j int) bool {
		return r.ranked[i].Pattern.moreSpecific(r.ranked[j].Pattern)
	})

	return r, nil
}

// Match returns the most specific rule covering t.
func (r *Recipe) Match(t tag.Tag) (Rule, error) {
	if rule, ok := r.exact[t]; ok {
		return rule, nil
	}
	for _, rule := range r.ranked {
		if rule.Pattern.Matches(t) {
			return rule, nil
		}
	}
	if r.fallback != nil {
		return *r.fallback, nil
	}
	return Rule{}, &UnmappedFieldError{Tag: t}
}

// GetGeneralRule returns the action the recipe assigns to t.
func GetGeneralRule(t tag.Tag, r *Recipe) (Action, error) {
	rule, err := r.Match(t)
	if err != nil {
		return 0, err
	}
	return rule.Action, nil
}

// Rules returns a copy of the rules in recipe order.
func (r *Recipe) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of distinct rules.
func (r *Recipe) Len() int { return len(r.rules) }

// Source names where the recipe came from.
func (r *Recipe) Source() string { return r.source }

// HasCatchAll reports whether every tag resolves to some rule.
func (r *Recipe) HasCatchAll() bool { return r.fallback != nil }
