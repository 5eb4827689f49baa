package taxonomy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var trailingDigits = regexp.MustCompile(`^([^0-9]+)([0-9]+)$`)

// rewrites are tried in order, each against the original candidate. A rule
// returns false when it does not apply.
var rewrites = []func(string) (string, bool){
	func(c string) (string, bool) { return c, true },
	func(c string) (string, bool) { return c + "s", true },
	func(c string) (string, bool) {
		if strings.HasSuffix(c, "ation") {
			return c[:len(c)-5], true
		}
		return "", false
	},
	func(c string) (string, bool) {
		m := trailingDigits.FindStringSubmatch(c)
		if m == nil {
			return "", false
		}
		return m[1] + "-" + m[2], true
	},
	func(c string) (string, bool) {
		if strings.HasSuffix(c, "es") {
			return c[:len(c)-2], true
		}
		return "", false
	},
	func(c string) (string, bool) {
		if strings.Contains(c, " ") {
			return strings.ReplaceAll(c, " ", ""), true
		}
		return "", false
	},
	func(c string) (string, bool) {
		if strings.HasPrefix(strings.ToUpper(c), "CO") {
			return "Co-" + c[2:], true
		}
		return "", false
	},
	func(c string) (string, bool) {
		if strings.HasPrefix(strings.ToUpper(c), "MULTI ") {
			return "Multi-" + c[6:], true
		}
		return "", false
	},
	func(c string) (string, bool) {
		words := strings.Split(c, " ")
		if len(words) <= 2 {
			return "", false
		}
		var acronym strings.Builder
		for _, w := range words {
			if r, _ := utf8.DecodeRuneInString(w); r != utf8.RuneError {
				acronym.WriteRune(r)
			}
		}
		return c + " (" + acronym.String() + ")", true
	},
}

// Match resolves candidate to a canonical value from allowed. The rules run
// in a fixed order and the first hit wins; reordering them changes which
// false positives are possible.
func Match(candidate string, allowed []string) (string, bool) {
	for _, rewrite := range rewrites {
		v, ok := rewrite(candidate)
		if !ok {
			continue
		}
		if canonical, ok := lookupFold(v, allowed); ok {
			return canonical, true
		}
	}
	return "", false
}

func lookupFold(v string, allowed []string) (string, bool) {
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return a, true
		}
	}
	return "", false
}
