// Package filter evaluates a source's keyword and regex rules against
// candidate content.
package filter

import (
	"log/slog"
	"regexp"
	"strings"
)

// Matcher decides whether candidate content passes a source's filters.
type Matcher struct {
	log *slog.Logger
}

// New creates a Matcher.
func New(log *slog.Logger) *Matcher {
	return &Matcher{log: log}
}

// Match reports whether the combined title and body text satisfies both
// filter axes. An empty keyword list or regex list means no constraint on
// that axis; every non-empty axis must pass. Keywords match as
// case-insensitive substrings; regex patterns match case-insensitively
// anywhere in the text. A malformed pattern is logged and skipped — it
// never matches and never aborts evaluation of the remaining patterns.
func (m *Matcher) Match(keywords, patterns []string, title, body string) bool {
	combined := title + " " + body

	if len(keywords) > 0 && !matchesAnyKeyword(combined, keywords) {
		return false
	}
	if len(patterns) > 0 && !m.matchesAnyPattern(combined, patterns) {
		return false
	}
	return true
}

func matchesAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchesAnyPattern(text string, patterns []string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			m.log.Warn("skipping invalid regex pattern", "pattern", p, "error", err)
			continue
		}
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	return err
}
