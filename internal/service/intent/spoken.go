package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var smallNumbers = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var durationUnits = map[string]int{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600,
	"day": 86400, "days": 86400,
}

func spokenWords(s string) []string {
	s = strings.ToLower(strings.ReplaceAll(s, "-", " "))
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.'
	})
}

// ParseSpokenNumber turns "forty-five", "forty five", "a hundred and two" or
// "45" into an integer. "a" and "an" count as one.
func ParseSpokenNumber(s string) (int, bool) {
	return parseNumberWords(spokenWords(s))
}

func parseNumberWords(words []string) (int, bool) {
	if len(words) == 0 {
		return 0, false
	}
	if len(words) == 1 && (words[0] == "a" || words[0] == "an") {
		return 1, true
	}

	total, current, seen := 0, 0, false
	for i, w := range words {
		if n, err := strconv.Atoi(w); err == nil {
			current += n
			seen = true
			continue
		}
		if n, ok := smallNumbers[w]; ok {
			current += n
			seen = true
			continue
		}
		if n, ok := tens[w]; ok {
			current += n
			seen = true
			continue
		}
		switch w {
		case "hundred":
			if current == 0 {
				current = 1
			}
			current *= 100
			seen = true
		case "thousand":
			if current == 0 {
				current = 1
			}
			total += current * 1000
			current = 0
			seen = true
		case "and":
			if !seen {
				return 0, false
			}
		case "a", "an":
			// "a hundred", "a thousand"
			if i+1 >= len(words) || (words[i+1] != "hundred" && words[i+1] != "thousand") {
				return 0, false
			}
		default:
			return 0, false
		}
	}
	if !seen {
		return 0, false
	}
	return total + current, true
}

// ParseSpokenDuration sums value×unit over every unit in s and returns
// seconds. "and a half" adds half of the unit before it and "half an hour"
// is half of the unit after it. It fails when s names no unit.
func ParseSpokenDuration(s string) (int, bool) {
	words := spokenWords(s)
	total, lastUnit, found := 0, 0, false
	var pending []string

	for i, w := range words {
		unit, isUnit := durationUnits[w]
		if !isUnit {
			if w == "half" && lastUnit > 0 && halfOfPrevious(pending, words[i+1:]) {
				total += lastUnit / 2
				pending = pending[:0]
				continue
			}
			pending = append(pending, w)
			continue
		}

		if v, ok := valueBeforeUnit(pending, unit); ok {
			total += v
			found = true
		}
		lastUnit = unit
		pending = pending[:0]
	}
	return total, found
}

// halfOfPrevious reports whether "half" closes an "and a half" tail rather
// than opening "half an hour".
func halfOfPrevious(pending, rest []string) bool {
	if len(rest) > 0 {
		if _, ok := durationUnits[rest[0]]; ok {
			return false
		}
		if rest[0] == "a" || rest[0] == "an" {
			return false
		}
	}
	return len(pending) > 0 && (pending[0] == "and" || pending[len(pending)-1] == "a")
}

// valueBeforeUnit reads the number phrase that ends right before a unit.
func valueBeforeUnit(pending []string, unit int) (int, bool) {
	n := len(pending)
	switch {
	case n >= 3 && pending[n-3] == "and" && pending[n-2] == "a" && pending[n-1] == "half":
		// "two and a half hours"
		if v, ok := longestNumberSuffix(pending[:n-3]); ok {
			return v*unit + unit/2, true
		}
		return unit / 2, true
	case n >= 2 && pending[n-2] == "half" && (pending[n-1] == "a" || pending[n-1] == "an"):
		return unit / 2, true
	case n >= 1 && pending[n-1] == "half":
		return unit / 2, true
	}
	if v, ok := longestNumberSuffix(pending); ok {
		return v * unit, true
	}
	return 0, false
}

// longestNumberSuffix parses the longest tail of words that forms a number,
// so "in thirty" reads as thirty.
func longestNumberSuffix(words []string) (int, bool) {
	for i := 0; i < len(words); i++ {
		if v, ok := parseNumberWords(words[i:]); ok {
			return v, true
		}
	}
	return 0, false
}

var (
	reSpokenEmail = regexp.MustCompile(`(?i)\b([a-z0-9]+(?:\s+(?:dot|underscore|dash)\s+[a-z0-9]+)*)\s+at\s+([a-z0-9]+(?:\s+(?:dot|dash)\s+[a-z0-9]+)*\s+dot\s+[a-z]{2,})\b`)
	reSpokenSep   = regexp.MustCompile(`(?i)\s+(dot|underscore|dash)\s+`)
)

var spokenSeparators = map[string]string{"dot": ".", "underscore": "_", "dash": "-"}

// NormalizeSpokenEmail rewrites "jane at example dot com" as
// "jane@example.com". Text outside a local-part/domain pattern is untouched.
func NormalizeSpokenEmail(s string) string {
	return reSpokenEmail.ReplaceAllStringFunc(s, func(match string) string {
		parts := reSpokenEmail.FindStringSubmatch(match)
		join := func(p string) string {
			return strings.ToLower(reSpokenSep.ReplaceAllStringFunc(p, func(sep string) string {
				return spokenSeparators[strings.ToLower(strings.TrimSpace(sep))]
			}))
		}
		return join(parts[1]) + "@" + join(parts[2])
	})
}
