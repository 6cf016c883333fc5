package logging

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Sanitizer redacts provider keys, storage credentials and DSN passwords
// from log output.
type Sanitizer struct {
	patterns   []*regexp.Regexp
	secretKeys map[string]bool
}

// NewSanitizer creates a sanitizer with the built-in patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: compilePatterns(
			// Provider keys
			`sk-ant-[A-Za-z0-9-]{40,}`,
			`sk-[A-Za-z0-9_-]{20,}`,
			`pplx-[A-Za-z0-9]{32,}`,
			// S3 / MinIO access keys
			`AKIA[0-9A-Z]{16}`,
			`(?i)(aws|minio)[_-]?secret[_-]?(access[_-]?)?key["'\s:=]+[A-Za-z0-9/+=]{20,}`,
			`(?i)bearer\s+[A-Za-z0-9._-]{20,}`,
			`(?i)(api[_-]?key|secret|token)["'\s:=]+[A-Za-z0-9_-]{20,}`,
			`(?i)password["'\s:=]+[^\s"']{8,}`,
		),
		secretKeys: map[string]bool{
			"api_key":       true,
			"apikey":        true,
			"authorization": true,
			"password":      true,
			"secret_key":    true,
			"access_key":    true,
			"token":         true,
		},
	}
}

// dsnPassword matches the password part of user:password@ in store and
// broker URLs so the host stays readable.
var dsnPassword = regexp.MustCompile(`(?i)\b((?:postgres|postgresql|mysql|nats)://[^:/\s]+:)[^@\s]+@`)

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Sanitize redacts secrets found in input.
func (s *Sanitizer) Sanitize(input string) string {
	result := dsnPassword.ReplaceAllString(input, "${1}"+redacted+"@")
	for _, p := range s.patterns {
		result = p.ReplaceAllString(result, redacted)
	}
	return result
}

// IsSecretKey reports whether an attribute with this key is always redacted
// regardless of its value.
func (s *Sanitizer) IsSecretKey(key string) bool {
	return s.secretKeys[strings.ToLower(key)]
}
