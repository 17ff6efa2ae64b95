package extract

import (
	"regexp"
	"strings"
)

// MinCodeLength is the shortest value the field scanner will accept as
// code. Anything this short is almost certainly a fragment left over from a
// broken reply.
const MinCodeLength = 20

// trailingDebris is stripped from the end of a scanned value.
const trailingDebris = "\", \t\r\n"

var (
	// closingQuoteRegex finds a quote followed by the end of an object or array.
	closingQuoteRegex = regexp.MustCompile(`"\s*[}\]]`)

	// unescaper decodes the escape sequences models routinely leave in field
	// values. It runs in a single pass so an escaped backslash followed by n
	// stays a literal backslash and n.
	unescaper = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`, `\t`, "\t")

	keyRegexes = map[string]*regexp.Regexp{}
)

func init() {
	for _, key := range knownKeys {
		keyRegexes[key] = keyRegex(key)
	}
}

func keyRegex(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:`)
}

// ScanField recovers the string value of fieldKey from text that may not be
// valid JSON. It tolerates unescaped newlines and stray quotes inside the
// value by bounding it with the next known key or the end of the enclosing
// object, then walking back to the last unescaped quote.
//
// It returns false when the key is absent, no value quote follows it, or the
// recovered value is not longer than MinCodeLength.
func ScanField(text, fieldKey string) (string, bool) {
	re, ok := keyRegexes[fieldKey]
	if !ok {
		re = keyRegex(fieldKey)
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	rest := text[loc[1]:]
	open := strings.IndexByte(rest, '"')
	if open < 0 {
		return "", false
	}
	body := rest[open+1:]

	window := body[:valueBound(body, fieldKey)]
	value := window
	if end := lastUnescapedQuote(window); end >= 0 {
		value = window[:end]
	}

	value = unescaper.Replace(value)
	value = strings.TrimSpace(strings.TrimRight(value, trailingDebris))
	if len(value) <= MinCodeLength {
		return "", false
	}
	return value, true
}

// valueBound returns the index in body where the value of self can no longer
// extend: the opening quote of the nearest other known key, or just past the
// first unescaped quote that closes an object or array. Without either, the
// value runs to the end of body.
func valueBound(body, self string) int {
	bound := len(body)
	for _, key := range knownKeys {
		if key == self {
			continue
		}
		if loc := keyRegexes[key].FindStringIndex(body); loc != nil && loc[0] < bound {
			bound = loc[0]
		}
	}

	offset := 0
	for offset < bound {
		loc := closingQuoteRegex.FindStringIndex(body[offset:])
		if loc == nil {
			break
		}
		q := offset + loc[0]
		if q >= bound {
			break
		}
		if !isEscaped(body, q) {
			bound = q + 1
			break
		}
		offset = q + 1
	}
	return bound
}

// lastUnescapedQuote returns the index of the last quote in s that is not
// preceded by an odd run of backslashes, or -1.
func lastUnescapedQuote(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' && !isEscaped(s, i) {
			return i
		}
	}
	return -1
}

func isEscaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
