// Package redact strips credential-shaped substrings from text before
// it is persisted or logged. Redaction protects the written record only;
// policy decisions always see the original input.
package redact

import "regexp"

// Mask is the fixed replacement for redacted content.
const Mask = "[REDACTED]"

// Redactor is a pure text transform over a set of credential patterns.
type Redactor struct {
	patterns []*regexp.Regexp
	mask     string
}

// New creates a redactor with the default credential patterns.
func New() *Redactor {
	return &Redactor{
		patterns: defaultPatterns(),
		mask:     Mask,
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Anthropic (checked before the generic sk- prefix)
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		// OpenAI
		`sk-[A-Za-z0-9]{20,}`,
		// AWS access key id
		`AKIA[0-9A-Z]{16}`,
		// AWS secret access key
		`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`,
		// AWS session token assignments
		`(?i)aws[_-]?session[_-]?token["'\s:=]+[A-Za-z0-9/+=]{20,}`,
		// GitHub tokens
		`gh[pousr]_[A-Za-z0-9]{36}`,
		// Google AI
		`AIza[a-zA-Z0-9_-]{35}`,
		// Slack tokens
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		// JWTs
		`eyJ[a-zA-Z0-9_-]{10,}\.eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}`,
		// Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic api key / secret / token / password assignments
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Apply replaces every credential-shaped substring with the mask.
func (r *Redactor) Apply(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, r.mask)
	}
	return result
}

// AddPattern compiles and appends a custom pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}
