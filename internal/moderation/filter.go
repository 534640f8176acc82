// Package moderation masks configured words in chat text before it is
// stored or broadcast.
package moderation

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Filter matches every configured word in one pass over the text. Matching
// ignores case, punctuation and whitespace, and folds common digit/symbol
// substitutions, so "B.4.D" matches "bad".
type Filter struct {
	machine *goahocorasick.Machine
	mask    rune
}

// NewFilter builds a filter for words. It returns nil when words holds no
// usable entry, and a nil *Filter censors nothing.
func NewFilter(words []string, mask rune) (*Filter, error) {
	patterns := lo.FilterMap(words, func(w string, _ int) ([]rune, bool) {
		folded, _ := fold(strings.TrimSpace(w))
		return folded, len(folded) > 0
	})
	if len(patterns) == 0 {
		return nil, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{machine: m, mask: mask}, nil
}

// Censor returns text with every matched span replaced by the mask rune.
// Characters skipped while matching but lying inside a span are masked too.
func (f *Filter) Censor(text string) string {
	if f == nil || text == "" {
		return text
	}

	folded, positions := fold(text)
	if len(folded) == 0 {
		return text
	}
	terms := f.machine.MultiPatternSearch(folded, false)
	if len(terms) == 0 {
		return text
	}

	runes := []rune(text)
	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start < 0 || end > len(positions) {
			continue
		}
		for i := positions[start]; i <= positions[end-1]; i++ {
			runes[i] = f.mask
		}
	}
	return string(runes)
}

// fold normalizes text for matching and records, for every kept rune, its
// index in the original rune slice.
func fold(text string) ([]rune, []int) {
	src := []rune(text)
	out := make([]rune, 0, len(src))
	positions := make([]int, 0, len(src))
	for i, r := range src {
		r = unleet(r)
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
		positions = append(positions, i)
	}
	return out, positions
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	}
	return r
}
