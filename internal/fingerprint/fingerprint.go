// Package fingerprint computes stable content digests for duplicate detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Hash returns a deterministic fingerprint of text: markup is stripped,
// the remaining plain text is lowercased, whitespace runs are collapsed to
// a single space, and the SHA-256 digest of the result is rendered as
// lowercase hex. Text that is empty after normalization yields "", a
// sentinel meaning "no fingerprint available" — callers must not treat it
// as a duplicate key.
func Hash(text string) string {
	normalized := Normalize(text)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Normalize strips markup and canonicalizes case and whitespace.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(StripTags(text)), " "))
}

// StripTags returns the plain text of a possibly-HTML string. Input that
// cannot be parsed as HTML is returned unchanged.
func StripTags(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	return doc.Text()
}
