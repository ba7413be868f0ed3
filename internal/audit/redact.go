package audit

import (
	"bytes"
	"encoding/json"
	"regexp"
)

type secretPattern struct {
	re   *regexp.Regexp
	mask string
}

// Tokens are masked wherever they appear, including inside longer words, so
// "task_id" is logged as "task_***".
var secretPatterns = []secretPattern{
	{re: regexp.MustCompile(`(?i)sk_[a-z0-9_]+`), mask: "sk_***"},
	{re: regexp.MustCompile(`(?i)pk_[a-z0-9_]+`), mask: "pk_***"},
	{re: regexp.MustCompile(`(?i)whsec_[a-z0-9]+`), mask: "whsec_***"},
}

// Redact returns a JSON-equivalent copy of v with secret-shaped tokens masked
// in every string, keys included.
//
// Masking runs over the serialized text, which is then re-parsed, so the
// result is made only of maps, slices, strings, json.Number, bools and nil.
// Keys that mask to the same text collapse to the one that sorts last. If
// either step fails the result is an empty object: nothing unredacted is ever
// returned. Redact is idempotent.
func Redact(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	raw = redactBytes(raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return map[string]any{}
	}
	return parsed
}

// RedactString masks secret-shaped tokens in s.
func RedactString(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.mask)
	}
	return s
}

// The token classes exclude quotes and backslashes, so a replacement never
// crosses a JSON string boundary or splits an escape.
func redactBytes(b []byte) []byte {
	for _, p := range secretPatterns {
		b = p.re.ReplaceAll(b, []byte(p.mask))
	}
	return b
}
