package scrub

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"mammo-deid/internal/identity"
)

// DefaultPlaceholder replaces every redacted token.
const DefaultPlaceholder = "[REDACTED]"

// Options tunes matching.
type Options struct {
	// Threshold is the highest edit distance, relative to the longer of
	// token and name part, that still counts as a match. 0 only redacts
	// exact matches.
	Threshold float64
	// MinTokenLength is the shortest token that can be redacted. Name parts
	// shorter than this never enter the blacklist.
	MinTokenLength int
	Placeholder    string
}

// DefaultOptions returns the options used by the pipeline when unset.
func DefaultOptions() Options {
	return Options{Threshold: 0.2, MinTokenLength: 3, Placeholder: DefaultPlaceholder}
}

// nameParticles are parts of compound surnames that are also common words.
var nameParticles = map[string]bool{
	"AL": true, "DA": true, "DAS": true, "DE": true, "DEL": true, "DELLA": true,
	"DEN": true, "DER": true, "DES": true, "DI": true, "DO": true, "DOS": true,
	"DU": true, "EL": true, "LA": true, "LE": true, "LES": true, "TEN": true,
	"TER": true, "VAN": true, "VON": true, "Y": true,
}

// Scrubber redacts tokens close to a blacklist of name parts. It is
// immutable after New and safe for concurrent use.
type Scrubber struct {
	opts    Options
	entries []string
}

// New builds a scrubber from person names or free-form identity strings.
// Each name is split into parts and folded. Parts shorter than
// MinTokenLength and surname particles such as DE or VAN are dropped.
func New(identities []string, opts Options) *Scrubber {
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = DefaultOptions().MinTokenLength
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}

	parts := lo.FlatMap(identities, func(name string, _ int) []string {
		return identity.NameParts(name)
	})
	parts = lo.Filter(lo.Uniq(parts), func(p string, _ int) bool {
		return utf8.RuneCountInString(p) >= opts.MinTokenLength && !nameParticles[p]
	})
	return &Scrubber{opts: opts, entries: parts}
}

// Entries returns the folded blacklist.
func (s *Scrubber) Entries() []string {
	return append([]string(nil), s.entries...)
}

// Scrub replaces matching tokens in text and returns the number replaced.
// Everything between tokens, invalid UTF-8 included, is kept verbatim.
func (s *Scrubber) Scrub(text string) (string, int) {
	if len(s.entries) == 0 || text == "" {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	count := 0
	start := -1

	flush := func(end int) {
		tok := text[start:end]
		if s.Matches(tok) {
			b.WriteString(s.opts.Placeholder)
			count++
		} else {
			b.WriteString(tok)
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
		} else {
			if start >= 0 {
				flush(i)
			}
			b.WriteString(text[i : i+size])
		}
		i += size
	}
	if start >= 0 {
		flush(len(text))
	}
	return b.String(), count
}

// Matches reports whether a single token would be redacted.
func (s *Scrubber) Matches(token string) bool {
	tok := identity.Fold(token)
	n := utf8.RuneCountInString(tok)
	if n < s.opts.MinTokenLength {
		return false
	}

	for _, entry := range s.entries {
		if tok == entry {
			return true
		}
		m := utf8.RuneCountInString(entry)
		// distance / max(n, m) <= Threshold
		limit := s.opts.Threshold * float64(max(n, m))
		if float64(abs(n-m)) > limit {
			continue
		}
		if float64(LevenshteinDistance(tok, entry)) <= limit {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
