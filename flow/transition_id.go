package flow

import (
	"strings"
	"unicode"
)

// TransitionID returns the dispatch key for the from -> to transition:
// both state names camel-cased and joined with an underscore.
func TransitionID(from, to string) string {
	return camelCase(from) + "_" + camelCase(to)
}

func camelCase(s string) string {
	words := splitWords(s)
	if len(words) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, w := range words {
		w = strings.ToLower(w)
		if i == 0 {
			sb.WriteString(w)
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		sb.WriteString(string(r))
	}
	return sb.String()
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}
