// Package field holds present-or-absent extractors for scraped values. Every
// helper reports ok=false instead of returning a zero value on failure.
package field

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Clean collapses runs of whitespace, including non-breaking spaces, and trims.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text returns the cleaned text of the first node in sel.
func Text(sel *goquery.Selection) (string, bool) {
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	s := Clean(sel.First().Text())
	return s, s != ""
}

// Attr returns the trimmed attribute of the first node in sel.
func Attr(sel *goquery.Selection, name string) (string, bool) {
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	v, ok := sel.First().Attr(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Time parses value with the first matching layout, in UTC.
func Time(value string, layouts ...string) (time.Time, bool) {
	value = Clean(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var numberNoise = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "", "\n", "", "\r", "", "\t", "")

// Int parses an integer amount such as "$1,250,000".
func Int(value string) (int64, bool) {
	s := numberNoise.Replace(value)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float parses a decimal such as "0.0425" or "$1.5".
func Float(value string) (float64, bool) {
	s := numberNoise.Replace(value)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// After returns the text following the first occurrence of sep, trimmed.
func After(s, sep string) (string, bool) {
	_, rest, found := strings.Cut(s, sep)
	rest = strings.TrimSpace(rest)
	return rest, found && rest != ""
}

// Before returns the text preceding the first occurrence of sep, trimmed. When
// sep is absent the whole string is returned.
func Before(s, sep string) string {
	head, _, _ := strings.Cut(s, sep)
	return strings.TrimSpace(head)
}
