// Package redact scrubs secrets from event payloads before they are stored
// or fanned out over the WebSocket hub (§4.1). Every outgoing event payload
// passes through Redactor.Apply.
package redact

import "regexp"

// DefaultPatterns matches the secret shapes the gateway redacts: common API
// key prefixes, bearer tokens, PEM blocks, and Authorization headers. The
// gateway builds its Redactor from this list alone; no configuration setting
// adds or removes patterns.
var DefaultPatterns = []string{
	`sk-[A-Za-z0-9]{20,}`,
	`(?i)bearer\s+[A-Za-z0-9._-]{10,}`,
	`(?i)authorization:\s*\S+`,
	`-----BEGIN [A-Z ]+PRIVATE KEY-----[\s\S]+?-----END [A-Z ]+PRIVATE KEY-----`,
	`ghp_[A-Za-z0-9]{30,}`,
	`AKIA[0-9A-Z]{16}`,
}

const mask = "[REDACTED]"

// Redactor applies a fixed set of compiled regular expressions to text. It
// is safe for concurrent use — compiled patterns are immutable after
// construction.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns into a Redactor. An invalid pattern is skipped
// rather than failing construction — a malformed caller-supplied pattern
// must never take down secret scrubbing for the rest of the list.
func New(patterns []string) *Redactor {
	r := &Redactor{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Apply redacts every match of every configured pattern in text. It never
// introduces CR or LF and is idempotent: Apply(Apply(x)) == Apply(x), since
// replacing a match with a fixed mask containing no regex metacharacters
// cannot create a new match for any of the same patterns.
func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, mask)
	}
	return text
}
