package handoff

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Similarity is the Jaccard overlap of the normalized word sets of a and b.
func (d *Detector) Similarity(a, b string) float64 {
	wa, wb := d.words(a), d.words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// words case-folds s, strips punctuation and splits on whitespace.
func (d *Detector) words(s string) map[string]struct{} {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, cases.Fold().String(s))

	fields := strings.Fields(stripped)
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
