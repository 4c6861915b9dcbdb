package safety

import (
	"regexp"

	"github.com/nox-hq/warden/tools"
)

type sensitivePattern struct {
	label string
	re    *regexp.Regexp
}

// Checked in order; earlier patterns claim their matches first.
var sensitivePatterns = []sensitivePattern{
	{"credit_card", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"api_key", regexp.MustCompile(`\b(sk|pk|api|key|token|secret)[-_][a-zA-Z0-9_-]{20,}\b`)},
	{"aws_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
}

// Placeholder returns the token that replaces a match of label.
func Placeholder(label string) string {
	return "[REDACTED:" + label + "]"
}

// Redact replaces sensitive data in text with labelled placeholders and
// returns the cleaned text with one entry per label that matched.
func Redact(text string) (string, []tools.Redaction) {
	var redactions []tools.Redaction
	for _, p := range sensitivePatterns {
		matches := p.re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		text = p.re.ReplaceAllLiteralString(text, Placeholder(p.label))
		redactions = append(redactions, tools.Redaction{Label: p.label, Count: len(matches)})
	}
	return text, redactions
}

// mergeRedactions folds b into a, summing counts per label while keeping
// the order labels were first seen.
func mergeRedactions(a, b []tools.Redaction) []tools.Redaction {
	for _, r := range b {
		found := false
		for i := range a {
			if a[i].Label == r.Label {
				a[i].Count += r.Count
				found = true
				break
			}
		}
		if !found {
			a = append(a, r)
		}
	}
	return a
}
