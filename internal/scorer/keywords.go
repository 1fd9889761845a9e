package scorer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// unstroke maps Polish letters that do not decompose under NFD.
func unstroke(r rune) rune {
	switch r {
	case 'ł':
		return 'l'
	case 'Ł':
		return 'L'
	}
	return r
}

// foldText lowercases s and strips diacritics so "Kraków" and "krakow" compare equal.
// Transformers and casers are stateful, so each call builds its own.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Map(unstroke), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// keywordSet is a folded lookup built once per scoring call.
type keywordSet map[string]struct{}

func newKeywordSet(keywords []string) keywordSet {
	set := make(keywordSet, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(foldText(k))
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// matches reports whether any whole word of text is a keyword.
func (ks keywordSet) matches(text string) bool {
	if len(ks) == 0 || text == "" {
		return false
	}
	words := strings.FieldsFunc(foldText(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := ks[w]; ok {
			return true
		}
	}
	return false
}
