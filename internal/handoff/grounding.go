package handoff

import (
	"regexp"
	"strconv"
	"strings"
)

var figurePattern = regexp.MustCompile(`\$?\d[\d,]*(?:\.\d+)?`)

// Grounded reports whether every numeric figure in answer also appears in
// at least one evidence text. Figures compare by value, so "$1,200.50"
// matches 1200.5 in a tool result.
func Grounded(answer string, evidence ...string) bool {
	claimed := figures(answer)
	if len(claimed) == 0 {
		return true
	}
	known := make(map[float64]struct{})
	for _, e := range evidence {
		for v := range figures(e) {
			known[v] = struct{}{}
		}
	}
	for v := range claimed {
		if _, ok := known[v]; !ok {
			return false
		}
	}
	return true
}

func figures(s string) map[float64]struct{} {
	out := make(map[float64]struct{})
	for _, m := range figurePattern.FindAllString(s, -1) {
		m = strings.TrimPrefix(m, "$")
		m = strings.ReplaceAll(m, ",", "")
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}
